package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"recall-ai-api/internal/domain/memory"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"José García", "jose garcia"},
		{"  Dr.  Müller ", "dr. muller"},
		{"CAFÉ\tRésumé", "cafe resume"},
		{"Alice", "alice"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeName(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeKeyCollapsesSurfaceForms(t *testing.T) {
	a := NormalizeKey("José García", memory.EntityTypePerson)
	b := NormalizeKey("jose  garcia", memory.EntityTypePerson)

	assert.Equal(t, a, b)
	assert.Equal(t, "person:jose garcia", a)
}

func TestNormalizeKeyTypeScoped(t *testing.T) {
	// 同名不同类型是不同实体
	person := NormalizeKey("Paris", memory.EntityTypePerson)
	place := NormalizeKey("Paris", memory.EntityTypePlace)

	assert.NotEqual(t, person, place)
}

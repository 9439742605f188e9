package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

func TestPartitionName(t *testing.T) {
	assert.Equal(t, "user_u1", PartitionName("u1", false))
	assert.Equal(t, SharedPartition, PartitionName("u1", true))
}

func TestMemoryChunksSchema(t *testing.T) {
	schema := MemoryChunksSchema(1024)

	assert.Equal(t, CollectionMemoryChunks, schema.CollectionName)

	var vectorField *entity.Field
	for _, f := range schema.Fields {
		if f.Name == "vector" {
			vectorField = f
		}
	}
	require.NotNil(t, vectorField)
	assert.Equal(t, entity.FieldTypeFloatVector, vectorField.DataType)
	assert.Equal(t, "1024", vectorField.TypeParams["dim"])
}

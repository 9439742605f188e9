package retrieval

import "errors"

var (
	// ErrEmptyQuery 查询文本为空
	ErrEmptyQuery = errors.New("retrieval: query is empty")
	// ErrVectorDisabled 向量后端未配置
	ErrVectorDisabled = errors.New("retrieval: vector backend disabled")
	// ErrGraphDisabled 图后端未配置
	ErrGraphDisabled = errors.New("retrieval: graph backend disabled")
	// ErrAllBackendsFailed 所有参与的后端均失败
	ErrAllBackendsFailed = errors.New("retrieval: all backends failed")
)

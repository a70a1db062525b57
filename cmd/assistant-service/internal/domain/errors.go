package domain

import "errors"

var (
	// ErrContextNotFound 会话上下文不存在或已过期
	ErrContextNotFound = errors.New("conversation context not found")

	// ErrInvalidEntry 上下文条目标识不完整
	ErrInvalidEntry = errors.New("context entry has invalid identifiers")

	// ErrStoreDisabled 后端存储未启用
	ErrStoreDisabled = errors.New("backing store is disabled")
)

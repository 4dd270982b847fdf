package contextsearch

import "errors"

var (
	// ErrInvalidQuery 查询为空或超长，对调用方可见
	ErrInvalidQuery = errors.New("invalid query")

	// ErrPersonalizationUnavailable 会话或记忆不可用，只记录日志，检索照常进行
	ErrPersonalizationUnavailable = errors.New("personalization unavailable")
)

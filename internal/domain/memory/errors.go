package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrPrimaryUnavailable 主记忆服务不可用（超时 / 连接失败 / 未配置）
	ErrPrimaryUnavailable = errors.New("memory primary unavailable")

	// ErrMalformedResponse 主记忆服务返回数据不合法
	ErrMalformedResponse = errors.New("memory primary returned malformed response")

	// ErrInvalidItem 写入的记忆条目不合法
	ErrInvalidItem = errors.New("invalid memory item")
)

func malformed(index int, reason string) error {
	return fmt.Errorf("%w: item %d: %s", ErrMalformedResponse, index, reason)
}

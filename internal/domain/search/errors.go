package search

import (
	"context"
	"errors"
	"fmt"
)

// ErrDeadlineExceeded 后端未在预算内返回
var ErrDeadlineExceeded = errors.New("search deadline exceeded")

// ErrNotConfigured 对应来源的适配器未配置
var ErrNotConfigured = errors.New("search backend not configured")

// 失败原因标签
const (
	ReasonTimeout       = "timeout"
	ReasonError         = "error"
	ReasonNotConfigured = "not_configured"
)

// BackendUnavailable 单个检索后端不可用。
// 只在编排器内部流转，对外仅体现为 Outcome.Failures。
type BackendUnavailable struct {
	Source Source
	Reason string
	Err    error
}

func (e *BackendUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend unavailable (%s): %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s backend unavailable (%s)", e.Source, e.Reason)
}

func (e *BackendUnavailable) Unwrap() error { return e.Err }

// Unavailable 将任意错误包装为 BackendUnavailable，超时归类为 ErrDeadlineExceeded
func Unavailable(source Source, err error) *BackendUnavailable {
	var bu *BackendUnavailable
	if errors.As(err, &bu) {
		return bu
	}
	switch {
	case errors.Is(err, ErrNotConfigured):
		return &BackendUnavailable{Source: source, Reason: ReasonNotConfigured, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrDeadlineExceeded):
		return &BackendUnavailable{Source: source, Reason: ReasonTimeout, Err: ErrDeadlineExceeded}
	default:
		return &BackendUnavailable{Source: source, Reason: ReasonError, Err: err}
	}
}

// Failure 对外暴露的后端失败摘要
type Failure struct {
	Source Source `json:"source"`
	Reason string `json:"reason"`
}

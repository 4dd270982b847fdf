package scope

import (
	"errors"
	"fmt"
)

// ErrMissingScope context 中没有 scope 或 scope 为零值
var ErrMissingScope = errors.New("scope not found in context")

// Error scope 校验失败（ScopeError），对调用方可见且不可降级
type Error struct {
	Field  string
	Reason string
}

func newError(field, reason string) *Error {
	return &Error{Field: field, Reason: reason}
}

func (e *Error) Error() string {
	return fmt.Sprintf("scope error: %s %s", e.Field, e.Reason)
}

// Is 任意 *Error 互相匹配，便于 errors.Is(err, &scope.Error{})
func (e *Error) Is(target error) bool {
	_, ok := target.(*Error)
	return ok
}

// IsScopeError 判断 err 链上是否有 scope 错误
func IsScopeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingScope) {
		return true
	}
	var se *Error
	return errors.As(err, &se)
}

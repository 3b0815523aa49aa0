package oracle

import (
	"context"
	"errors"
	"net"
)

var (
	ErrDisabled    = errors.New("scoring oracle disabled")
	ErrUnavailable = errors.New("scoring oracle unavailable")
	ErrTimeout     = errors.New("scoring oracle timeout")
	ErrSchema      = errors.New("scoring oracle response violates schema")
)

// Outcome 预言机调用结果标签
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeSchemaError Outcome = "schema_error"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeUnavailable Outcome = "unavailable"
)

// Result 预言机调用的标签化结果，只有 OutcomeOK 时 Value 可信
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Err     error
}

// OK 判断是否为可信结果
func (r Result[T]) OK() bool {
	return r.Outcome == OutcomeOK
}

// Reason 返回降级原因描述
func (r Result[T]) Reason() string {
	if r.OK() {
		return ""
	}
	if r.Err == nil {
		return string(r.Outcome)
	}
	return string(r.Outcome) + ": " + r.Err.Error()
}

func okResult[T any](value T) Result[T] {
	return Result[T]{Outcome: OutcomeOK, Value: value}
}

func failedResult[T any](err error) Result[T] {
	return Result[T]{Outcome: Classify(err), Err: err}
}

// Classify 将调用错误归类为结果标签
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, ErrSchema) {
		return OutcomeSchemaError
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeUnavailable
}

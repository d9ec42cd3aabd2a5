package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFailedPermanently 在用完所有重试次数后返回，Unwrap 得到最后一次的错误，
// 所以 errors.Is(err, ethereum.NotFound) 之类的判断仍然有效
type ErrFailedPermanently struct {
	attempts int
	LastErr  error
}

func (e *ErrFailedPermanently) Error() string {
	return fmt.Sprintf("operation failed permanently after %d attempts: %v", e.attempts, e.LastErr)
}

func (e *ErrFailedPermanently) Unwrap() error {
	return e.LastErr
}

// permanentError 包装一个不应该再重试的错误
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记 err 为不可重试，Do 遇到后立即返回原始错误。
// 例如节点明确返回区块不存在，换一个节点重试也没有意义。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do 在最多 maxAttempts 次内执行 op，两次之间按 strategy 等待。
// ctx 结束时立刻返回 ctx.Err()，等待期间也会响应取消；
// op 返回 Permanent 包装的错误时不再重试，直接返回被包装的错误。
func Do[T any](ctx context.Context, maxAttempts int, strategy Strategy, op func() (T, error)) (T, error) {
	var empty, ret T
	var err error

	if maxAttempts < 1 {
		return empty, fmt.Errorf("need at least 1 attempt to run op, but have %d max attempts", maxAttempts)
	}

	for i := 0; i < maxAttempts; i++ {
		if ctx.Err() != nil {
			return empty, ctx.Err()
		}

		ret, err = op()
		if err == nil {
			return ret, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return empty, perm.err
		}

		if i != maxAttempts-1 {
			if sleepErr := sleep(ctx, strategy.Duration(i)); sleepErr != nil {
				return empty, sleepErr
			}
		}
	}
	return empty, &ErrFailedPermanently{
		attempts: maxAttempts,
		LastErr:  err,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

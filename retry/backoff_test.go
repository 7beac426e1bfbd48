package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testPolicy(maxRetries int) *Policy {
	return &Policy{
		MaxRetries:   maxRetries,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(testPolicy(3), zap.NewNop())
	ctx := context.Background()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(testPolicy(3), zap.NewNop())
	ctx := context.Background()

	callCount := 0
	testErr := errors.New("temporary error")

	err := retryer.Do(ctx, func() error {
		callCount++
		if callCount < 3 {
			return testErr // 前两次失败
		}
		return nil // 第三次成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(testPolicy(2), zap.NewNop())
	ctx := context.Background()

	callCount := 0
	testErr := errors.New("persistent error")

	err := retryer.Do(ctx, func() error {
		callCount++
		return testErr
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, testErr)
	assert.Equal(t, 3, callCount, "初次 + 2 次重试")
}

func TestBackoffRetryer_RetryIfFilter(t *testing.T) {
	fatal := errors.New("fatal")
	transient := errors.New("transient")

	policy := testPolicy(3)
	policy.RetryIf = func(err error) bool {
		return errors.Is(err, transient)
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())
	ctx := context.Background()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, callCount, "不可重试错误应立即返回")
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := testPolicy(5)
	policy.InitialDelay = 1 * time.Second

	retryer := NewBackoffRetryer(policy, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	done := make(chan error, 1)
	go func() {
		done <- retryer.Do(ctx, func() error {
			callCount++
			return errors.New("always fails")
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-done
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	var attempts []int
	policy := testPolicy(2)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())
	_ = retryer.Do(context.Background(), func() error {
		return errors.New("boom")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoWithResultTyped(t *testing.T) {
	retryer := NewBackoffRetryer(testPolicy(2), zap.NewNop())
	ctx := context.Background()

	callCount := 0
	val, err := DoWithResultTyped[int](retryer, ctx, func() (int, error) {
		callCount++
		if callCount < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestWrapRetryable(t *testing.T) {
	assert.Nil(t, WrapRetryable(nil))

	base := errors.New("base")
	wrapped := WrapRetryable(base)
	assert.True(t, IsRetryableError(wrapped))
	assert.False(t, IsRetryableError(base))
	assert.ErrorIs(t, wrapped, base)
}

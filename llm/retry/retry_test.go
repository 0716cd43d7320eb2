package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/config"
	"github.com/aagudeloRN/RAGPruebas/types"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

// failing 前 n 次返回 err
func failing(n int, err error, calls *int) func(context.Context) ([]float32, error) {
	return func(context.Context) ([]float32, error) {
		*calls++
		if *calls <= n {
			return nil, err
		}
		return []float32{0.6, 0.8}, nil
	}
}

func TestDo_FirstAttempt(t *testing.T) {
	calls := 0
	vec, err := Do(context.Background(), New(fastPolicy(3), zap.NewNop()), failing(0, nil, &calls))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8}, vec)
	assert.Equal(t, 1, calls)
}

func TestDo_RecoversFromTransientFailures(t *testing.T) {
	calls := 0
	vec, err := Do(context.Background(), New(fastPolicy(3), nil),
		failing(2, types.FromHTTPStatus("embedding", 503, "overloaded"), &calls))
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	var attempts []int
	policy := fastPolicy(3)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		assert.GreaterOrEqual(t, delay, time.Millisecond)
	}

	cause := types.NewUpstreamError("rerank", "bad gateway")
	calls := 0
	_, err := Do(context.Background(), New(policy, nil), failing(10, cause, &calls))

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{2, 3}, attempts)
}

func TestDo_NonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), New(fastPolicy(3), nil),
		failing(10, types.FromHTTPStatus("openai", 401, "bad key"), &calls))

	assert.True(t, types.IsErrorCode(err, types.ErrUnauthorized))
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledWhileWaiting(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = time.Second
	policy.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := New(policy, nil).Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("connection reset by peer")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_NilRetryerCallsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), nil, failing(1, errors.New("EOF"), &calls))
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(types.NewInvalidRequestError("x")))
	assert.True(t, Retryable(types.FromHTTPStatus("llm", 429, "slow down")))
	assert.True(t, Retryable(errors.New("connection reset")))
}

func TestBackoff(t *testing.T) {
	r := New(Policy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2,
	}, nil)

	assert.Equal(t, 100*time.Millisecond, r.backoff(1, nil))
	assert.Equal(t, 200*time.Millisecond, r.backoff(2, nil))
	assert.Equal(t, 300*time.Millisecond, r.backoff(3, nil))
}

func TestBackoff_JitterBounds(t *testing.T) {
	r := New(Policy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		Jitter:       true,
	}, nil)

	for range 50 {
		d := r.backoff(2, nil)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestBackoff_HonoursRetryAfter(t *testing.T) {
	r := New(Policy{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2}, nil)

	limited := types.FromHTTPStatus("openai", 429, "slow down").WithRetryAfter(time.Second)
	assert.Equal(t, time.Second, r.backoff(1, limited))

	// 超出 MaxDelay 时截断
	limited.RetryAfter = time.Minute
	assert.Equal(t, 2*time.Second, r.backoff(1, limited))

	// Retry-After 比退避短时按退避等待
	limited.RetryAfter = time.Millisecond
	assert.Equal(t, 10*time.Millisecond, r.backoff(1, limited))
}

func TestNew_Normalizes(t *testing.T) {
	r := New(Policy{}, nil)
	assert.Equal(t, 1, r.policy.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, r.policy.InitialDelay)
	assert.Equal(t, 500*time.Millisecond, r.policy.MaxDelay)
	assert.Equal(t, 2.0, r.policy.Multiplier)
	assert.NotNil(t, r.policy.ShouldRetry)
}

func TestPolicyFrom(t *testing.T) {
	p := PolicyFrom(config.RetryConfig{MaxAttempts: 4, InitialDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 3})
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 2*time.Second, p.MaxDelay)
	assert.Equal(t, 3.0, p.Multiplier)

	d := PolicyFrom(config.RetryConfig{})
	assert.Equal(t, DefaultPolicy(), d)
}

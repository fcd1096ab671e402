package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialPolicy(2, time.Millisecond, 10*time.Millisecond)

	assert.False(t, p.ShouldRetry(nil, 1))
	assert.True(t, p.ShouldRetry(errors.New("connection reset"), 1))
	assert.True(t, p.ShouldRetry(timeoutErr{}, 2))
	assert.False(t, p.ShouldRetry(timeoutErr{}, 3), "attempts exhausted")
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.True(t, p.ShouldRetry(context.DeadlineExceeded, 1), "per-attempt timeout")
	assert.True(t, p.ShouldRetry(&StatusError{StatusCode: http.StatusServiceUnavailable}, 1))
	assert.True(t, p.ShouldRetry(&StatusError{StatusCode: http.StatusTooManyRequests}, 1))
	assert.False(t, p.ShouldRetry(&StatusError{StatusCode: http.StatusNotFound}, 1))
	assert.False(t, p.ShouldRetry(Permanent(errors.New("too big")), 1))
	assert.Nil(t, Permanent(nil))
}

func TestBackoffIsBounded(t *testing.T) {
	t.Parallel()

	p := NewExponentialPolicy(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := Do(context.Background(), NewExponentialPolicy(3, time.Millisecond, 2*time.Millisecond),
		func(context.Context) error {
			calls++
			if calls < 3 {
				return &StatusError{StatusCode: http.StatusBadGateway}
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	attempts, err := Do(context.Background(), NewExponentialPolicy(3, time.Millisecond, time.Millisecond),
		func(context.Context) error { return &StatusError{StatusCode: http.StatusForbidden} })
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts, err := Do(ctx, NewExponentialPolicy(3, time.Second, time.Second),
		func(context.Context) error {
			cancel()
			return errors.New("flaky")
		})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

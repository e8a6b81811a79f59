package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fauna/fauna-cli/internal/output"
)

type stubProvider struct {
	key         string
	refreshed   int
	invalidated int
	refreshErr  error
	invalidErr  error
}

func (p *stubProvider) OnInvalidCreds(_ context.Context, _ error) error {
	p.invalidated++
	return p.invalidErr
}

func (p *stubProvider) GetOrRefresh(_ context.Context) (string, error) {
	p.refreshed++
	return p.key, p.refreshErr
}

func TestRetrySuccessNoRetry(t *testing.T) {
	p := &stubProvider{key: "fresh"}
	calls := 0

	got, err := RetryUnauthorizedOnce(context.Background(), p, "orig",
		func(_ context.Context, secret string) (string, error) {
			calls++
			return "result:" + secret, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "result:orig", got)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, p.invalidated)
	assert.Equal(t, 0, p.refreshed)
}

func TestRetryNonAuthErrorPropagates(t *testing.T) {
	p := &stubProvider{key: "fresh"}
	boom := errors.New("connection reset")
	calls := 0

	_, err := RetryUnauthorizedOnce(context.Background(), p, "orig",
		func(_ context.Context, _ string) (string, error) {
			calls++
			return "", boom
		})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, p.invalidated)
}

func TestRetryAuthErrorRefreshesAndRetriesOnce(t *testing.T) {
	p := &stubProvider{key: "fresh"}
	var secrets []string

	got, err := RetryUnauthorizedOnce(context.Background(), p, "stale",
		func(_ context.Context, secret string) (string, error) {
			secrets = append(secrets, secret)
			if secret == "stale" {
				return "", output.ErrAuth("rejected")
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []string{"stale", "fresh"}, secrets)
	assert.Equal(t, 1, p.invalidated)
	assert.Equal(t, 1, p.refreshed)
}

func TestRetrySecondAuthFailurePropagatesUnchanged(t *testing.T) {
	p := &stubProvider{key: "fresh"}
	second := output.ErrAuth("still rejected")
	calls := 0

	_, err := RetryUnauthorizedOnce(context.Background(), p, "stale",
		func(_ context.Context, _ string) (string, error) {
			calls++
			if calls == 1 {
				return "", output.ErrAuth("rejected")
			}
			return "", second
		})
	assert.Same(t, error(second), err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, p.invalidated)
	assert.Equal(t, 1, p.refreshed)
}

func TestRetryRecoveryFailureShortCircuits(t *testing.T) {
	recoveryErr := output.ErrUsage("cannot refresh user key")
	p := &stubProvider{invalidErr: recoveryErr}
	calls := 0

	_, err := RetryUnauthorizedOnce(context.Background(), p, "stale",
		func(_ context.Context, _ string) (string, error) {
			calls++
			return "", output.ErrAuth("rejected")
		})
	assert.Same(t, error(recoveryErr), err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, p.refreshed)
}

func TestRetryRefreshFailureShortCircuits(t *testing.T) {
	refreshErr := output.ErrAuth("please log in")
	p := &stubProvider{refreshErr: refreshErr}
	calls := 0

	_, err := RetryUnauthorizedOnce(context.Background(), p, "stale",
		func(_ context.Context, _ string) (string, error) {
			calls++
			return "", output.ErrAuth("rejected")
		})
	assert.Same(t, error(refreshErr), err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, p.refreshed)
}

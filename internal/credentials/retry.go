package credentials

import (
	"context"

	"github.com/fauna/fauna-cli/internal/output"
)

// KeyProvider is the slice of a key manager the retry policy needs:
// either manager satisfies it.
type KeyProvider interface {
	// OnInvalidCreds reacts to an authentication-class rejection of the
	// provider's current key. A non-nil return means recovery is
	// impossible and the returned error should propagate.
	OnInvalidCreds(ctx context.Context, cause error) error

	// GetOrRefresh returns the current (possibly just-refreshed) key.
	GetOrRefresh(ctx context.Context) (string, error)
}

// RetryUnauthorizedOnce runs fn with secret. If fn fails with an
// authentication-class error, the provider refreshes its credentials and
// fn runs exactly once more with the new secret. Any other failure, or a
// second authentication-class failure, propagates unchanged; there is no
// retry loop. The refresh completes before the retried call is issued.
func RetryUnauthorizedOnce[T any](ctx context.Context, provider KeyProvider, secret string, fn func(ctx context.Context, secret string) (T, error)) (T, error) {
	out, err := fn(ctx, secret)
	if err == nil || !output.IsAuth(err) {
		return out, err
	}

	var zero T
	if rerr := provider.OnInvalidCreds(ctx, err); rerr != nil {
		return zero, rerr
	}
	refreshed, rerr := provider.GetOrRefresh(ctx)
	if rerr != nil {
		return zero, rerr
	}
	return fn(ctx, refreshed)
}

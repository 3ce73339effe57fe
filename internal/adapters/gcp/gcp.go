// Package gcp holds the connection settings and error mapping shared by the Google Cloud SDK adapters
package gcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cardbatch/internal/core/version"
	perr "cardbatch/internal/platform/errors"

	"github.com/googleapis/gax-go/v2"
	"github.com/googleapis/gax-go/v2/apierror"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// CloudPlatformScope is the OAuth scope used for storage and Vertex AI
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Backoff is the retry curve for rate limited and transient responses
var Backoff = gax.Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2}

// retryable are the HTTP statuses worth another attempt
var retryable = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Conn says how an SDK client reaches Google
type Conn struct {
	// Endpoint overrides the service root, e.g. an emulator or test server
	Endpoint string
	// TokenSource signs requests; nil sends unauthenticated requests
	TokenSource oauth2.TokenSource
	// MaxRetries bounds retries of 429 and 5xx responses
	MaxRetries int
	// Timeout bounds one call; 0 leaves it to the caller's context
	Timeout time.Duration
}

// ClientOptions turns c into SDK client options
func (c Conn) ClientOptions() []option.ClientOption {
	opts := []option.ClientOption{option.WithUserAgent(version.UserAgent())}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	if c.TokenSource != nil {
		opts = append(opts, option.WithTokenSource(c.TokenSource))
	} else {
		opts = append(opts, option.WithoutAuthentication())
	}
	return opts
}

// Retryer returns a fresh gax retryer that gives up after c.MaxRetries retries
func (c Conn) Retryer() gax.Retryer {
	return &bounded{inner: gax.OnHTTPCodes(Backoff, retryable...), left: c.MaxRetries}
}

// WithTimeout applies c.Timeout to ctx
func (c Conn) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.Timeout)
}

type bounded struct {
	inner gax.Retryer
	left  int
}

func (b *bounded) Retry(err error) (time.Duration, bool) {
	if b.left <= 0 {
		return 0, false
	}
	d, ok := b.inner.Retry(err)
	if ok {
		b.left--
	}
	return d, ok
}

// StatusOf returns the HTTP status carried by an SDK error, or 0
func StatusOf(err error) int {
	if ae, ok := apierror.FromError(err); ok {
		if hc := ae.HTTPCode(); hc > 0 {
			return hc
		}
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return 0
}

// Classify wraps an SDK error with the code its HTTP status maps to. Context errors pass through
func Classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := perr.ErrorCodeUnavailable
	if st := StatusOf(err); st > 0 {
		code = perr.FromHTTPStatus(st)
	}
	return perr.WithOp(perr.Wrapf(err, code, "%s failed", op), op)
}

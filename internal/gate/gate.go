// Package gate authenticates every inbound request before any handler runs.
//
// The scheme is selected by the first token of the Authorization header and
// dispatched to the matching Verifier. Every failure is a 403 with the same
// body; the reason only reaches logs and metrics.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"todoflow/internal/platform/middleware"
	dErrors "todoflow/pkg/domain-errors"
	"todoflow/pkg/platform/httputil"
	"todoflow/pkg/requestcontext"
)

// Rejection reasons, used as the metrics label.
const (
	ReasonMissing           = "missing_credentials"
	ReasonUnknownScheme     = "unknown_scheme"
	ReasonMalformed         = "malformed"
	ReasonUnknownCredential = "unknown_credential"
	ReasonBadScope          = "bad_scope"
	ReasonClockSkew         = "clock_skew"
	ReasonExpired           = "expired"
	ReasonBadSignature      = "bad_signature"
)

// Rejection is returned by verifiers to explain a refused request.
type Rejection struct {
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return r.Reason
	}
	return fmt.Sprintf("%s: %v", r.Reason, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Reject builds a Rejection.
func Reject(reason string, err error) error {
	return &Rejection{Reason: reason, Err: err}
}

// ReasonOf extracts the rejection reason, defaulting to bad_signature.
func ReasonOf(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ReasonBadSignature
}

// Verifier authenticates one request and returns the caller identity.
// Implementations must leave the request body readable.
type Verifier interface {
	Verify(ctx context.Context, r *http.Request) (string, error)
}

// Gate holds the verifiers keyed by Authorization scheme.
type Gate struct {
	verifiers map[string]Verifier
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithVerifier binds a verifier to an Authorization scheme (case-insensitive).
func WithVerifier(scheme string, v Verifier) Option {
	return func(g *Gate) {
		if v != nil {
			g.verifiers[strings.ToLower(scheme)] = v
		}
	}
}

func New(opts ...Option) *Gate {
	g := &Gate{
		verifiers: make(map[string]Verifier),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequireSignature is the middleware form of the gate. It fails closed: a gate
// with no verifiers rejects everything.
func (g *Gate) RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		caller, scheme, err := g.verify(ctx, r)
		if err != nil {
			reason := ReasonOf(err)
			g.metrics.IncRejected(reason)
			g.logger.WarnContext(ctx, "request rejected by gate",
				"request_id", middleware.GetRequestID(ctx),
				"method", r.Method,
				"path", r.URL.Path,
				"reason", reason,
				"error", err,
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "request signature is missing or invalid"))
			return
		}

		g.metrics.IncAccepted(scheme)
		ctx = requestcontext.WithCaller(ctx, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) verify(ctx context.Context, r *http.Request) (caller, scheme string, err error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", "", Reject(ReasonMissing, nil)
	}
	scheme, _, _ = strings.Cut(header, " ")
	scheme = strings.ToLower(scheme)

	v, ok := g.verifiers[scheme]
	if !ok {
		return "", scheme, Reject(ReasonUnknownScheme, fmt.Errorf("scheme %q", scheme))
	}
	caller, err = v.Verify(ctx, r)
	if err != nil {
		return "", scheme, err
	}
	if caller == "" {
		return "", scheme, Reject(ReasonUnknownCredential, errors.New("verifier returned no caller"))
	}
	return caller, scheme, nil
}

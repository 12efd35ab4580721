// Package sigv4 verifies AWS Signature Version 4 signed requests by signing a
// copy of the request with the caller's secret and comparing the result.
package sigv4

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"todoflow/internal/gate"
)

const (
	// Scheme is the Authorization scheme this verifier handles.
	Scheme = "AWS4-HMAC-SHA256"

	amzDateHeader      = "X-Amz-Date"
	contentSHA256      = "X-Amz-Content-Sha256"
	amzDateFormat      = "20060102T150405Z"
	shortDateFormat    = "20060102"
	scopeTerminator    = "aws4_request"
	defaultMaxSkew     = 15 * time.Minute
	defaultMaxBodySize = 1 << 20
)

// CredentialStore resolves an access key id to its secret.
type CredentialStore interface {
	Secret(ctx context.Context, accessKeyID string) (string, error)
}

// StaticCredentials is a fixed AKID to secret table.
type StaticCredentials map[string]string

func (s StaticCredentials) Secret(_ context.Context, accessKeyID string) (string, error) {
	secret, ok := s[accessKeyID]
	if !ok {
		return "", fmt.Errorf("unknown access key %q", accessKeyID)
	}
	return secret, nil
}

// Verifier checks SigV4 signatures for a single region and service.
type Verifier struct {
	credentials CredentialStore
	region      string
	service     string
	maxSkew     time.Duration
	maxBody     int64
	now         func() time.Time
	signer      *v4.Signer
}

type Option func(*Verifier)

func WithMaxSkew(d time.Duration) Option {
	return func(v *Verifier) { v.maxSkew = d }
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func WithMaxBodySize(n int64) Option {
	return func(v *Verifier) { v.maxBody = n }
}

func New(credentials CredentialStore, region, service string, opts ...Option) *Verifier {
	v := &Verifier{
		credentials: credentials,
		region:      region,
		service:     service,
		maxSkew:     defaultMaxSkew,
		maxBody:     defaultMaxBodySize,
		now:         time.Now,
		signer:      v4.NewSigner(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// authorization is the parsed Authorization header.
type authorization struct {
	accessKeyID   string
	date          string
	region        string
	service       string
	terminator    string
	signedHeaders []string
	signature     string
}

// Verify implements gate.Verifier. The caller identity is the access key id.
func (v *Verifier) Verify(ctx context.Context, r *http.Request) (string, error) {
	auth, err := parseAuthorization(r.Header.Get("Authorization"))
	if err != nil {
		return "", gate.Reject(gate.ReasonMalformed, err)
	}

	signedAt, err := time.Parse(amzDateFormat, r.Header.Get(amzDateHeader))
	if err != nil {
		return "", gate.Reject(gate.ReasonMalformed, fmt.Errorf("%s: %w", amzDateHeader, err))
	}
	if skew := v.now().Sub(signedAt); skew > v.maxSkew || skew < -v.maxSkew {
		return "", gate.Reject(gate.ReasonClockSkew, fmt.Errorf("signed at %s", signedAt.Format(time.RFC3339)))
	}
	if auth.date != signedAt.Format(shortDateFormat) ||
		auth.region != v.region ||
		auth.service != v.service ||
		auth.terminator != scopeTerminator {
		return "", gate.Reject(gate.ReasonBadScope, fmt.Errorf("scope %s/%s/%s/%s", auth.date, auth.region, auth.service, auth.terminator))
	}

	secret, err := v.credentials.Secret(ctx, auth.accessKeyID)
	if err != nil {
		return "", gate.Reject(gate.ReasonUnknownCredential, err)
	}

	payloadHash, err := v.hashBody(r)
	if err != nil {
		return "", gate.Reject(gate.ReasonMalformed, err)
	}
	if claimed := r.Header.Get(contentSHA256); claimed != "" && claimed != payloadHash {
		return "", gate.Reject(gate.ReasonBadSignature, errors.New("payload hash mismatch"))
	}

	replay := signingCopy(ctx, r, auth.signedHeaders)
	creds := aws.Credentials{AccessKeyID: auth.accessKeyID, SecretAccessKey: secret}
	if err := v.signer.SignHTTP(ctx, creds, replay, payloadHash, v.service, v.region, signedAt); err != nil {
		return "", gate.Reject(gate.ReasonBadSignature, err)
	}
	expected, err := parseAuthorization(replay.Header.Get("Authorization"))
	if err != nil {
		return "", gate.Reject(gate.ReasonBadSignature, err)
	}
	if !hmac.Equal([]byte(expected.signature), []byte(auth.signature)) {
		return "", gate.Reject(gate.ReasonBadSignature, nil)
	}
	return auth.accessKeyID, nil
}

// hashBody reads the body, hashes it and puts an identical reader back.
func (v *Verifier) hashBody(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:]), nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, v.maxBody+1))
	_ = r.Body.Close()
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > v.maxBody {
		return "", fmt.Errorf("body exceeds %d bytes", v.maxBody)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// signingCopy rebuilds the request as the client saw it when signing: the
// same method, host, path and query, and only the headers it chose to sign.
func signingCopy(ctx context.Context, r *http.Request, signedHeaders []string) *http.Request {
	u := &url.URL{
		Scheme:   "https",
		Host:     r.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	header := make(http.Header, len(signedHeaders))
	var contentLength int64
	for _, name := range signedHeaders {
		switch name {
		case "host":
		case "content-length":
			contentLength = r.ContentLength
		default:
			if values := r.Header.Values(name); len(values) > 0 {
				header[http.CanonicalHeaderKey(name)] = values
			}
		}
	}
	replay := (&http.Request{
		Method:        r.Method,
		URL:           u,
		Host:          r.Host,
		Header:        header,
		ContentLength: contentLength,
	}).WithContext(ctx)
	return replay
}

// parseAuthorization reads
// "AWS4-HMAC-SHA256 Credential=AKID/DATE/REGION/SERVICE/aws4_request, SignedHeaders=a;b, Signature=hex".
func parseAuthorization(header string) (authorization, error) {
	var auth authorization
	rest, ok := strings.CutPrefix(header, Scheme+" ")
	if !ok {
		return auth, errors.New("not a SigV4 authorization header")
	}
	for _, part := range strings.Split(rest, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return auth, fmt.Errorf("malformed component %q", part)
		}
		switch key {
		case "Credential":
			scope := strings.Split(value, "/")
			if len(scope) != 5 {
				return auth, errors.New("malformed credential scope")
			}
			auth.accessKeyID, auth.date, auth.region, auth.service, auth.terminator =
				scope[0], scope[1], scope[2], scope[3], scope[4]
		case "SignedHeaders":
			auth.signedHeaders = strings.Split(value, ";")
		case "Signature":
			auth.signature = value
		}
	}
	if auth.accessKeyID == "" || len(auth.signedHeaders) == 0 || auth.signature == "" {
		return auth, errors.New("incomplete authorization header")
	}
	return auth, nil
}

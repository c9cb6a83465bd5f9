// Package transport implements the signed HTTP layer shared by every
// outbound call this module makes: legacy-wrapped POST, v2 REST GET/POST,
// per-URL TLS downgrade, and automatic retry with backoff.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/diwise/thinqclient/internal/telemetry/logging"
	"github.com/diwise/thinqclient/pkg/apierrors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("thinqclient/transport")

// EnvelopeKind selects which outer wrapper key a POST body is nested in,
// and which field carries the per-request success code in the response.
type EnvelopeKind int

const (
	// EnvelopeLegacy wraps {"lgedmRoot": body} and expects the inner
	// object's "returnCd" field to read "0000" on success.
	EnvelopeLegacy EnvelopeKind = iota
	// EnvelopeV2 wraps {"result": body} / unwraps "result" and expects
	// "resultCode" == "0000".
	EnvelopeV2
)

const legacyRootKey = "lgedmRoot"

// DefaultTimeout is the per-attempt request deadline used when none is
// configured.
const DefaultTimeout = 10 * time.Second

// DefaultMaxAttempts bounds retries at 5 total attempts, per spec.
const DefaultMaxAttempts = 5

// Transport is the signed HTTP client shared by gateway/auth/session. It is
// safe for concurrent use; the legacy-TLS host registry is guarded by a
// mutex since callers may register hosts from multiple goroutines during
// warm-up.
type Transport struct {
	client      *http.Client
	legacyClient *http.Client
	timeout     time.Duration
	maxAttempts uint64

	mu         sync.RWMutex
	legacyTLS  map[string]bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithTimeout overrides the per-attempt request deadline (default 10s).
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.timeout = d }
}

// WithMaxAttempts overrides the retry attempt cap (default 5).
func WithMaxAttempts(n uint64) Option {
	return func(t *Transport) { t.maxAttempts = n }
}

// WithLegacyTLS marks host as requiring the legacy TLSv1 adapter. This is
// the only supported way to downgrade TLS for a URL — there is no global
// "disable verification" switch, only an explicit per-host opt-in.
func WithLegacyTLS(host string) Option {
	return func(t *Transport) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.legacyTLS[host] = true
	}
}

// New builds a Transport. The underlying http.Client's transport is
// instrumented with otelhttp, matching this module's ambient tracing stack.
func New(opts ...Option) *Transport {
	t := &Transport{
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		legacyTLS:   make(map[string]bool),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.client = &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
	}

	legacyTransport := http.DefaultTransport.(*http.Transport).Clone()
	legacyTransport.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS10,
		MaxVersion: tls.VersionTLS10,
	}
	t.legacyClient = &http.Client{
		Transport: otelhttp.NewTransport(legacyTransport),
	}

	return t
}

func (t *Transport) clientFor(rawURL string) *http.Client {
	u, err := url.Parse(rawURL)
	if err != nil {
		return t.client
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.legacyTLS[u.Host] {
		return t.legacyClient
	}
	return t.client
}

func isRetryableStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

// do executes req, retrying on 502/503/504 and connection errors with
// exponential backoff (factor 0.5), up to t.maxAttempts total attempts.
func (t *Transport) do(ctx context.Context, client *http.Client, newReq func() (*http.Request, error)) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	var attempts uint64
	policy := backoff.WithMaxRetries(bo, t.maxAttempts-1)

	var resp *http.Response
	operation := func() error {
		attempts++

		req, err := newReq()
		if err != nil {
			return backoff.Permanent(err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		req = req.WithContext(reqCtx)

		r, err := client.Do(req)
		if err != nil {
			return err
		}

		if isRetryableStatus(r.StatusCode) {
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			return fmt.Errorf("retryable status %d", r.StatusCode)
		}

		resp = r
		return nil
	}

	log := logging.GetLoggerFromContext(ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		log.Debug().Err(err).Dur("wait", wait).Uint64("attempt", attempts).Msg("retrying request")
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (t *Transport) newJSONRequest(ctx context.Context, method, rawURL string, body any, headers map[string]string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	return req, nil
}

// PostJSON sends body wrapped in the given envelope, returning the inner
// object after checking the vendor's success code.
func (t *Transport) PostJSON(ctx context.Context, rawURL string, envelope EnvelopeKind, body any, headers map[string]string) (map[string]any, error) {
	var err error
	ctx, span := tracer.Start(ctx, "post")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	wrapped := wrapEnvelope(envelope, body)

	client := t.clientFor(rawURL)
	resp, err := t.do(ctx, client, func() (*http.Request, error) {
		return t.newJSONRequest(ctx, http.MethodPost, rawURL, wrapped, withJSONContentType(headers))
	})
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", rawURL, err)
	}
	defer drain(resp)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	inner, err := unwrapEnvelope(envelope, raw)
	if err != nil {
		return nil, err
	}

	err = checkEnvelopeCode(envelope, inner)
	if err != nil {
		return nil, err
	}

	return inner, nil
}

// GetJSON issues a GET expecting a v2-shaped "result"/"resultCode"
// response.
func (t *Transport) GetJSON(ctx context.Context, rawURL string, headers map[string]string) (map[string]any, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	client := t.clientFor(rawURL)
	resp, err := t.do(ctx, client, func() (*http.Request, error) {
		return t.newJSONRequest(ctx, http.MethodGet, rawURL, nil, headers)
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer drain(resp)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	inner, err := unwrapEnvelope(EnvelopeV2, raw)
	if err != nil {
		return nil, err
	}

	err = checkEnvelopeCode(EnvelopeV2, inner)
	if err != nil {
		return nil, err
	}

	return inner, nil
}

// GetRaw issues a plain GET and returns the response body unparsed, for
// endpoints (like model-info documents) that are not wrapped in either
// envelope.
func (t *Transport) GetRaw(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-raw")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	client := t.clientFor(rawURL)
	resp, err := t.do(ctx, client, func() (*http.Request, error) {
		return t.newJSONRequest(ctx, http.MethodGet, rawURL, nil, headers)
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer drain(resp)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return raw, nil
}

// PostForm posts a signed, form-encoded request (used by the oauth token
// endpoints) and returns the decoded JSON body unwrapped by any envelope.
// A non-200 status is reported as a TokenError, matching the vendor's own
// all-or-nothing semantics for the auth endpoints.
func (t *Transport) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (map[string]any, error) {
	var err error
	ctx, span := tracer.Start(ctx, "post-form")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	client := t.clientFor(rawURL)
	resp, err := t.do(ctx, client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("post form %s: %w", rawURL, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		err = &apierrors.TokenError{Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var out map[string]any
	if err = json.Unmarshal(raw, &out); err != nil {
		err = &apierrors.MalformedResponseError{Raw: string(raw)}
		return nil, err
	}

	return out, nil
}

func withJSONContentType(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	if _, ok := out["Content-type"]; !ok {
		out["Content-type"] = "application/json;charset=UTF-8"
	}
	return out
}

func wrapEnvelope(kind EnvelopeKind, body any) map[string]any {
	key := legacyRootKey
	if kind == EnvelopeV2 {
		key = "result"
	}
	return map[string]any{key: body}
}

func unwrapEnvelope(kind EnvelopeKind, raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &apierrors.MalformedResponseError{Raw: string(raw)}
	}

	key := legacyRootKey
	if kind == EnvelopeV2 {
		key = "result"
	}

	innerRaw, ok := doc[key]
	if !ok || innerRaw == nil {
		return nil, &apierrors.APIError{Code: "-1", Message: string(raw)}
	}

	inner, ok := innerRaw.(map[string]any)
	if !ok {
		return nil, &apierrors.MalformedResponseError{Raw: string(raw)}
	}

	return inner, nil
}

func checkEnvelopeCode(kind EnvelopeKind, inner map[string]any) error {
	codeField := "returnCd"
	msgField := "returnMsg"
	if kind == EnvelopeV2 {
		codeField = "resultCode"
		msgField = "resultMsg"
	}

	codeRaw, present := inner[codeField]
	if !present {
		// Legacy envelopes may omit returnCd on pure-data responses
		// (e.g. monitor warmup); that's handled by the caller, not an
		// error here.
		return nil
	}

	code := fmt.Sprintf("%v", codeRaw)
	if code == "0000" {
		return nil
	}

	msg, _ := inner[msgField].(string)
	return apierrors.MapCode(code, msg)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

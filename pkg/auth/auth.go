// Package auth owns the access/refresh token pair and the signed refresh
// cycle; pkg/session borrows a reference to authenticate its requests.
package auth

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/diwise/thinqclient/internal/telemetry/logging"
	"github.com/diwise/thinqclient/pkg/apierrors"
	"github.com/diwise/thinqclient/pkg/gateway"
	"github.com/diwise/thinqclient/pkg/signature"
	"github.com/diwise/thinqclient/pkg/transport"
	"github.com/diwise/thinqclient/pkg/types"
	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2"
)

var tracer = otel.Tracer("thinqclient/auth")

// Auth holds one account's live token pair, guarded so that concurrent
// callers observing a stale access_token block on a single in-flight
// refresh rather than each issuing their own, mirroring the teacher's
// double-checked-lock cachedToken/tokenMutex pattern.
type Auth struct {
	gw        gateway.Endpoints
	transport *transport.Transport

	mu   sync.RWMutex
	cred types.Credential
}

// New wraps an already-obtained credential (e.g. loaded from
// PersistedState) for gw.
func New(gw gateway.Endpoints, t *transport.Transport, cred types.Credential) *Auth {
	return &Auth{gw: gw, transport: t, cred: cred}
}

// Credential returns a snapshot of the current token pair.
func (a *Auth) Credential() types.Credential {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cred
}

// FromCallbackURL parses the browser redirect produced after the user
// completes login at gw.OAuthURL, dispatching on the legacy vs v2 query
// shape, and returns a ready-to-use Auth.
func FromCallbackURL(ctx context.Context, gw gateway.Endpoints, t *transport.Transport, rawURL string) (*Auth, error) {
	ctx, span := tracer.Start(ctx, "from-callback-url")
	defer span.End()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse callback url: %w", err)
	}
	q := u.Query()

	if gw.V2 {
		code := q.Get("code")
		userNumber := q.Get("user_number")
		backend := q.Get("oauth2_backend_url")
		if code == "" {
			err = &apierrors.TokenError{Message: "callback missing code parameter"}
			span.RecordError(err)
			return nil, err
		}
		if backend == "" {
			backend = gw.OAuthRoot
		}

		cred, err := exchangeCode(ctx, t, gw, backend, code, userNumber)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		return New(gw, t, cred), nil
	}

	accessToken := q.Get("access_token")
	refreshToken := q.Get("refresh_token")
	if accessToken == "" || refreshToken == "" {
		err = &apierrors.TokenError{Message: "callback missing access_token/refresh_token"}
		span.RecordError(err)
		return nil, err
	}

	return New(gw, t, types.Credential{
		Token: oauth2.Token{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
		},
	}), nil
}

func exchangeCode(ctx context.Context, t *transport.Transport, gw gateway.Endpoints, backend, code, userNumber string) (types.Credential, error) {
	path := "/oauth/1.0/oauth2/token"
	form := url.Values{}
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", gateway.RedirectURI)

	ts := signature.Timestamp(time.Now())
	sig := signature.SignPath(path+"?"+form.Encode(), ts, gw.OAuthSecret)

	headers := map[string]string{
		"x-lge-appkey":          gw.OAuthClient,
		"x-lge-oauth-date":      ts,
		"x-lge-oauth-signature": sig,
	}

	doc, err := t.PostForm(ctx, backend+path, form, headers)
	if err != nil {
		return types.Credential{}, err
	}

	return credentialFromTokenDoc(doc, "", userNumber)
}

// Gateway returns the endpoint set this Auth authenticates against.
func (a *Auth) Gateway() gateway.Endpoints { return a.gw }

// Transport returns the shared transport this Auth (and its Session) use.
func (a *Auth) Transport() *transport.Transport { return a.transport }

// Refresh exchanges the current refresh_token for a new access_token,
// signed per pkg/signature. refresh_token is preserved verbatim; only
// access_token (and, for v2, user_number) may change. At most one refresh
// is in flight at a time; a caller that observes a refresh already running
// waits for it and then re-reads Credential rather than issuing a second
// request.
func (a *Auth) Refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "refresh")
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	log := logging.GetLoggerFromContext(ctx)

	path := "/oauth2/token"
	if a.gw.V2 {
		path = "/oauth/1.0/oauth2/token"
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", a.cred.RefreshToken)

	ts := signature.Timestamp(time.Now())
	sig := signature.SignPath(path+"?"+form.Encode(), ts, a.gw.OAuthSecret)

	headers := map[string]string{
		"x-lge-appkey":          a.gw.OAuthClient,
		"x-lge-oauth-date":      ts,
		"x-lge-oauth-signature": sig,
	}

	doc, err := a.transport.PostForm(ctx, a.gw.OAuthRoot+path, form, headers)
	if err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Msg("token refresh failed")
		return err
	}

	refreshed, err := credentialFromTokenDoc(doc, a.cred.RefreshToken, a.cred.UserNumber)
	if err != nil {
		span.RecordError(err)
		return err
	}

	a.cred = refreshed
	return nil
}

func credentialFromTokenDoc(doc map[string]any, fallbackRefresh, fallbackUserNumber string) (types.Credential, error) {
	accessToken, _ := doc["access_token"].(string)
	if accessToken == "" {
		return types.Credential{}, &apierrors.TokenError{Message: "response missing access_token"}
	}

	refreshToken, _ := doc["refresh_token"].(string)
	if refreshToken == "" {
		refreshToken = fallbackRefresh
	}

	userNumber, _ := doc["user_number"].(string)
	if userNumber == "" {
		userNumber = fallbackUserNumber
	}

	expiry := time.Now().Add(time.Hour)
	if expiresRaw, ok := doc["expires_in"]; ok {
		if secs, ok := expiresRaw.(float64); ok {
			expiry = time.Now().Add(time.Duration(secs) * time.Second)
		}
	}

	return types.Credential{
		Token: oauth2.Token{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			Expiry:       expiry,
		},
		UserNumber: userNumber,
	}, nil
}

package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diwise/thinqclient/pkg/auth"
	"github.com/diwise/thinqclient/pkg/gateway"
	"github.com/diwise/thinqclient/pkg/transport"
	"github.com/diwise/thinqclient/pkg/types"
	"github.com/matryer/is"
	"golang.org/x/oauth2"
)

func TestFromCallbackURLLegacy(t *testing.T) {
	is := is.New(t)

	gw := gateway.Endpoints{}
	gw.V2 = false

	tr := transport.New()
	a, err := auth.FromCallbackURL(context.Background(), gw, tr, "https://cb/?access_token=at1&refresh_token=rt1")
	is.NoErr(err)

	cred := a.Credential()
	is.Equal(cred.AccessToken, "at1")
	is.Equal(cred.RefreshToken, "rt1")
}

func TestFromCallbackURLV2ExchangesCode(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.NoErr(r.ParseForm())
		is.Equal(r.FormValue("grant_type"), "authorization_code")
		is.Equal(r.FormValue("code"), "auth-code")

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at2",
			"refresh_token": "rt2",
		})
	}))
	defer srv.Close()

	gw := gateway.Endpoints{}
	gw.V2 = true
	gw.AuthBase = srv.URL
	gw.OAuthRoot = srv.URL
	gw.OAuthClient = "LGAO221A02"
	gw.OAuthSecret = "secret"

	tr := transport.New()
	callback := srv.URL + "/cb?code=auth-code&user_number=u1&oauth2_backend_url=" + srv.URL
	a, err := auth.FromCallbackURL(context.Background(), gw, tr, callback)
	is.NoErr(err)

	cred := a.Credential()
	is.Equal(cred.AccessToken, "at2")
	is.Equal(cred.RefreshToken, "rt2")
}

// TestRefreshPreservesRefreshTokenAndRotatesAccessToken drives the
// invariant from the testable properties: after refresh(), refresh_token
// is unchanged and access_token differs.
func TestRefreshPreservesRefreshTokenAndRotatesAccessToken(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.NoErr(r.ParseForm())
		is.Equal(r.FormValue("grant_type"), "refresh_token")
		is.Equal(r.FormValue("refresh_token"), "rt-original")

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-new",
		})
	}))
	defer srv.Close()

	gw := gateway.Endpoints{}
	gw.AuthBase = srv.URL
	gw.OAuthRoot = srv.URL
	gw.OAuthSecret = "secret"
	gw.OAuthClient = "LGAO221A02"

	tr := transport.New()
	a := auth.New(gw, tr, types.Credential{Token: oauth2.Token{AccessToken: "at-old", RefreshToken: "rt-original"}})

	err := a.Refresh(context.Background())
	is.NoErr(err)

	cred := a.Credential()
	is.Equal(cred.RefreshToken, "rt-original")
	is.True(cred.AccessToken != "at-old")
	is.Equal(cred.AccessToken, "at-new")
}

func TestRefreshFailsWithTokenErrorOnNon200(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	gw := gateway.Endpoints{}
	gw.AuthBase = srv.URL
	gw.OAuthRoot = srv.URL
	gw.OAuthSecret = "secret"

	tr := transport.New()
	a := auth.New(gw, tr, types.Credential{Token: oauth2.Token{RefreshToken: "rt"}})

	err := a.Refresh(context.Background())
	is.True(err != nil)
}

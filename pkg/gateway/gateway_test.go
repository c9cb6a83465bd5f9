package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diwise/thinqclient/pkg/transport"
	"github.com/matryer/is"
)

// TestDiscoverLegacyFallback drives the testable-properties scenario:
// region=NO, lang=en-NO, v2 discovery unreachable, legacy discovery
// returns the documented fixture fields.
func TestDiscoverLegacyFallback(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"lgedmRoot": map[string]any{
				"returnCd":  "0000",
				"empUri":    "https://no.m.lgaccount.com",
				"thinq1Uri": "https://eic.lgthinq.com:46030/api",
				"oauthUri":  "https://no.lgeapi.com",
			},
		})
	}))
	defer srv.Close()

	restoreV2, restoreLegacy := v2DiscoveryURL, legacyDiscoveryURL
	v2DiscoveryURL = srv.URL
	legacyDiscoveryURL = srv.URL
	defer func() { v2DiscoveryURL, legacyDiscoveryURL = restoreV2, restoreLegacy }()

	tr := transport.New()
	ep, err := Discover(context.Background(), tr, "NO", "en-NO")
	is.NoErr(err)
	is.Equal(ep.Country, "NO")
	is.Equal(ep.AuthBase, "https://no.m.lgaccount.com")
	is.Equal(ep.APIBase, "https://eic.lgthinq.com:46030/api")
}

func TestDiscoverPrefersV2WhenAvailable(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"resultCode": "0000",
				"empUri":     "https://no.m.lgaccount.com",
				"thinq2Uri":  "https://route.lgthinq.com:46030/v1",
				"oauthUri":   "https://no.lgeapi.com",
			},
		})
	}))
	defer srv.Close()

	restoreV2 := v2DiscoveryURL
	v2DiscoveryURL = srv.URL
	defer func() { v2DiscoveryURL = restoreV2 }()

	tr := transport.New()
	ep, err := Discover(context.Background(), tr, "NO", "en-NO")
	is.NoErr(err)
	is.True(ep.V2)
	is.Equal(ep.APIBase, "https://route.lgthinq.com:46030/v1")
}

func TestOAuthURLLegacyForm(t *testing.T) {
	is := is.New(t)

	ep := Endpoints{}
	ep.Country = "NO"
	ep.Language = "en-NO"
	ep.AuthBase = "https://no.m.lgaccount.com"
	ep.V2 = false

	url := ep.OAuthURL("LGAO221A02")
	is.True(len(url) > len(ep.AuthBase))
	is.Equal(url[:len(ep.AuthBase)], ep.AuthBase)
}

func TestOAuthURLV2FormIncludesRandomState(t *testing.T) {
	is := is.New(t)

	ep := Endpoints{}
	ep.Country = "NO"
	ep.Language = "en-NO"
	ep.AuthBase = "https://no.m.lgaccount.com"
	ep.V2 = true

	url1 := ep.OAuthURL("LGAO221A02")
	url2 := ep.OAuthURL("LGAO221A02")
	is.True(url1 != url2)
}

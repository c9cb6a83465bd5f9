// Package gateway resolves the regional/language-keyed endpoint set every
// other package routes requests through, and builds the browser login URL.
package gateway

import (
	"context"
	"fmt"
	"net/url"

	"github.com/diwise/thinqclient/internal/telemetry/logging"
	"github.com/diwise/thinqclient/pkg/transport"
	"github.com/diwise/thinqclient/pkg/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("thinqclient/gateway")

// legacyDiscoveryURL and v2DiscoveryURL are vars rather than consts so
// tests can point discovery at a fixture server.
var (
	legacyDiscoveryURL = "https://kic.lgthinq.com:46030/api/common/gatewayUriList"
	v2DiscoveryURL     = "https://route.lgthinq.com:46030/v1/service/application/gateway-uri"
)

const (
	defaultOAuthSecret = "c053c2a6ddeb7ad97cb0eed0dcb31cf8"
	defaultOAuthClient = "LGAO221A02"

	// RedirectURI is the fixed v2 OAuth redirect target the vendor
	// registers for this client id.
	RedirectURI = "https://kr.m.lgaccount.com/login/iabClose"
)

// Endpoints is the resolved, region-specific routing table returned by
// Discover. It is a thin behavioral wrapper around types.GatewayEndpoints,
// which is what actually gets persisted.
type Endpoints struct {
	types.GatewayEndpoints
}

// Discover resolves the endpoint set for country/language. It tries the v2
// discovery GET first, matching the teacher's preference for the REST form
// when both are viable, and falls back to the legacy POST form when v2
// yields no usable API root.
func Discover(ctx context.Context, t *transport.Transport, country, language string) (Endpoints, error) {
	ctx, span := tracer.Start(ctx, "discover")
	defer span.End()

	log := logging.GetLoggerFromContext(ctx)

	v2URL := fmt.Sprintf("%s?countryCode=%s&langCode=%s", v2DiscoveryURL, url.QueryEscape(country), url.QueryEscape(language))
	doc, err := t.GetJSON(ctx, v2URL, map[string]string{
		"Accept":          "application/json",
		"x-thinq-app-ver": "3.0",
		"x-country-code":  country,
		"x-language-code": language,
	})
	if err == nil {
		if ep, ok := fromV2Doc(doc, country, language); ok {
			return ep, nil
		}
	} else {
		log.Debug().Err(err).Msg("v2 gateway discovery failed, falling back to legacy")
	}

	legacyBody := map[string]any{
		"countryCode": country,
		"langCode":    language,
	}
	doc, err = t.PostJSON(ctx, legacyDiscoveryURL, transport.EnvelopeLegacy, legacyBody, map[string]string{
		"x-thinq-application-key": "wideq",
		"x-thinq-security-key":    "nuts_securitykey",
	})
	if err != nil {
		span.RecordError(err)
		return Endpoints{}, fmt.Errorf("discover gateway: %w", err)
	}

	return fromLegacyDoc(doc, country, language), nil
}

func fromLegacyDoc(doc map[string]any, country, language string) Endpoints {
	authBase := stringField(doc, "empUri")
	apiRoot := stringField(doc, "thinq1Uri")
	oauthRoot := stringField(doc, "oauthUri")
	if oauthRoot == "" {
		oauthRoot = authBase
	}

	return Endpoints{types.GatewayEndpoints{
		Country:     country,
		Language:    language,
		AuthBase:    authBase,
		APIBase:     apiRoot,
		OAuthRoot:   oauthRoot,
		V2:          false,
		OAuthSecret: defaultOAuthSecret,
		OAuthClient: defaultOAuthClient,
	}}
}

func fromV2Doc(doc map[string]any, country, language string) (Endpoints, bool) {
	apiRoot := stringField(doc, "thinq2Uri")
	if apiRoot == "" {
		return Endpoints{}, false
	}
	authBase := stringField(doc, "empUri")
	oauthRoot := stringField(doc, "oauthUri")
	if oauthRoot == "" {
		oauthRoot = authBase
	}

	return Endpoints{types.GatewayEndpoints{
		Country:     country,
		Language:    language,
		AuthBase:    authBase,
		APIBase:     apiRoot,
		OAuthRoot:   oauthRoot,
		V2:          true,
		OAuthSecret: defaultOAuthSecret,
		OAuthClient: defaultOAuthClient,
	}}, true
}

func stringField(doc map[string]any, key string) string {
	v, _ := doc[key].(string)
	return v
}

// OAuthURL builds the browser login URL for this gateway's account signup
// flow, for clientID.
func (e Endpoints) OAuthURL(clientID string) string {
	if e.V2 {
		q := url.Values{}
		q.Set("country", e.Country)
		q.Set("language", e.Language)
		q.Set("client_id", clientID)
		q.Set("svc_integrated", "Y")
		q.Set("division", "ha")
		q.Set("redirect_uri", RedirectURI)
		q.Set("state", uuid.New().String())
		q.Set("show_thirdparty_login", "LGE,MYLG")
		return e.AuthBase + "/spx/login/signIn?" + q.Encode()
	}

	q := url.Values{}
	q.Set("country", e.Country)
	q.Set("language", e.Language)
	q.Set("svc_list", "SVC202")
	q.Set("client_id", clientID)
	q.Set("division", "ha")
	q.Set("grant_type", "password")
	return e.AuthBase + "/login/sign_in?" + q.Encode()
}

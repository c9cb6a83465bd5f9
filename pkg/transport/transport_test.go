package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/diwise/thinqclient/pkg/apierrors"
	"github.com/diwise/thinqclient/pkg/transport"
	"github.com/matryer/is"
)

func TestPostJSONLegacyEnvelopeRoundTrip(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		is.NoErr(json.NewDecoder(r.Body).Decode(&body))
		inner, ok := body["lgedmRoot"].(map[string]any)
		is.True(ok)
		is.Equal(inner["deviceId"], "d1")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"lgedmRoot": map[string]any{
				"returnCd": "0000",
				"sessionId": "sess-1",
			},
		})
	}))
	defer srv.Close()

	tr := transport.New()
	doc, err := tr.PostJSON(context.Background(), srv.URL, transport.EnvelopeLegacy, map[string]any{"deviceId": "d1"}, nil)
	is.NoErr(err)
	is.Equal(doc["sessionId"], "sess-1")
}

func TestPostJSONReturnsTypedErrorOnFailureCode(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"lgedmRoot": map[string]any{
				"returnCd":  "0102",
				"returnMsg": "not logged in",
			},
		})
	}))
	defer srv.Close()

	tr := transport.New()
	_, err := tr.PostJSON(context.Background(), srv.URL, transport.EnvelopeLegacy, map[string]any{}, nil)

	var notLoggedIn *apierrors.NotLoggedInError
	is.True(errors.As(err, &notLoggedIn))
}

func TestGetJSONV2Envelope(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"resultCode": "0000",
				"item":       []any{map[string]any{"deviceId": "d1"}},
			},
		})
	}))
	defer srv.Close()

	tr := transport.New()
	doc, err := tr.GetJSON(context.Background(), srv.URL, nil)
	is.NoErr(err)
	is.True(doc["item"] != nil)
}

func TestRetriesOnRetryableStatusThenSucceeds(t *testing.T) {
	is := is.New(t)

	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"resultCode": "0000"},
		})
	}))
	defer srv.Close()

	tr := transport.New(transport.WithMaxAttempts(5))
	_, err := tr.GetJSON(context.Background(), srv.URL, nil)
	is.NoErr(err)
	is.Equal(atomic.LoadInt32(&attempts), int32(3))
}

func TestGetRawReturnsBodyUnwrapped(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Value":{}}`))
	}))
	defer srv.Close()

	tr := transport.New()
	raw, err := tr.GetRaw(context.Background(), srv.URL, nil)
	is.NoErr(err)
	is.Equal(string(raw), `{"Value":{}}`)
}

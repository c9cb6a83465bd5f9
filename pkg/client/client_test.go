package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diwise/thinqclient/pkg/client"
	"github.com/diwise/thinqclient/pkg/types"
	"github.com/matryer/is"
	"golang.org/x/oauth2"
)

func TestLoadAndDumpRoundTrip(t *testing.T) {
	is := is.New(t)

	state := types.PersistedState{
		Gateway: types.GatewayEndpoints{
			Country:  "NO",
			Language: "en-NO",
			AuthBase: "https://auth.example",
			APIBase:  "https://api.example",
		},
		Credential: types.Credential{
			Token: oauth2.Token{
				AccessToken:  "at1",
				RefreshToken: "rt1",
			},
		},
	}

	c := client.Load(state)
	dumped := c.Dump()

	is.Equal(dumped.Gateway.Country, "NO")
	is.Equal(dumped.Credential.AccessToken, "at1")
	is.Equal(dumped.Credential.RefreshToken, "rt1")
}

func TestModelInfoIsCachedByURL(t *testing.T) {
	is := is.New(t)

	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Write([]byte(`{"Value": {}, "Monitoring": {"type": "JSON"}}`))
	}))
	defer srv.Close()

	c := client.Load(types.PersistedState{})
	desc := types.DeviceDescriptor{DeviceID: "d1", ModelJSONURL: srv.URL}

	_, err := c.ModelInfo(context.Background(), desc)
	is.NoErr(err)
	_, err = c.ModelInfo(context.Background(), desc)
	is.NoErr(err)

	is.Equal(fetches, 1)

	dumped := c.Dump()
	is.True(len(dumped.ModelCache) == 1)
}

func TestGetDeviceReturnsNilWhenAbsent(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"lgedmRoot": map[string]any{"returnCd": "0000"},
		})
	}))
	defer srv.Close()

	state := types.PersistedState{
		Gateway: types.GatewayEndpoints{
			AuthBase: srv.URL,
			APIBase:  srv.URL,
		},
		Credential: types.Credential{Token: oauth2.Token{AccessToken: "at1"}},
	}
	c := client.Load(state)

	dev, err := c.GetDevice(context.Background(), "does-not-exist")
	is.NoErr(err)
	is.True(dev == nil)
}

// Package client composes gateway, auth, session, and modelinfo into a
// single facade: the entry point most callers of this module use.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/diwise/thinqclient/pkg/auth"
	"github.com/diwise/thinqclient/pkg/gateway"
	"github.com/diwise/thinqclient/pkg/modelinfo"
	"github.com/diwise/thinqclient/pkg/session"
	"github.com/diwise/thinqclient/pkg/transport"
	"github.com/diwise/thinqclient/pkg/types"
	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2"
)

var tracer = otel.Tracer("thinqclient/client")

// DefaultOAuthClientID is the vendor application id used when building the
// browser login URL, absent a caller-supplied override.
const DefaultOAuthClientID = "LGAO221A02"

// Client lazily composes a Gateway, Auth, and Session, and caches
// ModelSchemas by URL for its lifetime.
type Client struct {
	transport *transport.Transport
	oauthID   string

	mu      sync.Mutex
	gw      *gateway.Endpoints
	auth    *auth.Auth
	session *session.Session
	devices []types.DeviceDescriptor

	modelCache map[string]*modelinfo.Schema
	modelRaw   map[string]json.RawMessage
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithTransport overrides the shared transport (e.g. to set custom retry
// or TLS policy). Defaults to transport.New().
func WithTransport(t *transport.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithOAuthClientID overrides the vendor application id used in the
// browser login URL.
func WithOAuthClientID(id string) Option {
	return func(c *Client) { c.oauthID = id }
}

// New builds an empty Client. Gateway and Session are populated lazily, or
// via Load/FromRefreshToken.
func New(opts ...Option) *Client {
	c := &Client{
		oauthID:    DefaultOAuthClientID,
		modelCache: make(map[string]*modelinfo.Schema),
		modelRaw:   make(map[string]json.RawMessage),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = transport.New()
	}
	return c
}

// FromRefreshToken builds a ready Client from just a refresh token,
// performing gateway discovery and a refresh cycle before first use.
func FromRefreshToken(ctx context.Context, refreshToken, country, language string, opts ...Option) (*Client, error) {
	ctx, span := tracer.Start(ctx, "from-refresh-token")
	defer span.End()

	c := New(opts...)

	ep, err := gateway.Discover(ctx, c.transport, country, language)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	c.gw = &ep

	c.auth = auth.New(ep, c.transport, types.Credential{Token: oauth2.Token{RefreshToken: refreshToken}})
	if err := c.auth.Refresh(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return c, nil
}

// Load rebuilds a Client from a previously-Dumped PersistedState.
func Load(state types.PersistedState, opts ...Option) *Client {
	c := New(opts...)

	ep := gateway.Endpoints{GatewayEndpoints: state.Gateway}
	c.gw = &ep
	c.auth = auth.New(ep, c.transport, state.Credential)

	for url, raw := range state.ModelCache {
		c.modelRaw[url] = raw
		if schema, err := modelinfo.Parse(raw); err == nil {
			c.modelCache[url] = schema
		}
	}

	return c
}

// Dump round-trips the client's full state into a serializable value.
func (c *Client) Dump() types.PersistedState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := types.PersistedState{
		ModelCache: make(map[string]json.RawMessage, len(c.modelRaw)),
	}
	if c.gw != nil {
		state.Gateway = c.gw.GatewayEndpoints
	}
	if c.auth != nil {
		state.Credential = c.auth.Credential()
	}
	for url, raw := range c.modelRaw {
		state.ModelCache[url] = raw
	}
	return state
}

// Gateway lazily discovers (if not already known) and returns the
// client's endpoint set.
func (c *Client) Gateway(ctx context.Context, country, language string) (gateway.Endpoints, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gw != nil {
		return *c.gw, nil
	}

	ep, err := gateway.Discover(ctx, c.transport, country, language)
	if err != nil {
		return gateway.Endpoints{}, err
	}
	c.gw = &ep
	return ep, nil
}

// LoginURL returns the browser login URL for the client's gateway,
// discovering it first if needed.
func (c *Client) LoginURL(ctx context.Context, country, language string) (string, error) {
	ep, err := c.Gateway(ctx, country, language)
	if err != nil {
		return "", err
	}
	return ep.OAuthURL(c.oauthID), nil
}

// Authenticate completes login from the browser callback URL and
// establishes the client's session.
func (c *Client) Authenticate(ctx context.Context, callbackURL string) error {
	c.mu.Lock()
	gw := c.gw
	c.mu.Unlock()
	if gw == nil {
		return fmt.Errorf("client: gateway not discovered yet")
	}

	a, err := auth.FromCallbackURL(ctx, *gw, c.transport, callbackURL)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.auth = a
	c.session = nil
	c.devices = nil
	c.mu.Unlock()

	_, err = c.Session(ctx)
	return err
}

// Session lazily establishes the authenticated session.
func (c *Client) Session(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return c.session, nil
	}
	if c.auth == nil {
		return nil, fmt.Errorf("client: not authenticated")
	}

	s, devices, err := session.New(ctx, c.auth)
	if err != nil {
		return nil, err
	}
	c.session = s
	c.devices = devices
	return s, nil
}

// Devices returns the account's device list, fetching it on first access.
func (c *Client) Devices(ctx context.Context) ([]types.DeviceDescriptor, error) {
	c.mu.Lock()
	cached := c.devices
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	s, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.devices != nil {
		defer c.mu.Unlock()
		return c.devices, nil
	}
	c.mu.Unlock()

	devices, err := s.GetDevices(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.devices = devices
	c.mu.Unlock()
	return devices, nil
}

// GetDevice scans the current device list for id. It returns (nil, nil)
// when absent, never a different device.
func (c *Client) GetDevice(ctx context.Context, id string) (*types.DeviceDescriptor, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].DeviceID == id {
			return &devices[i], nil
		}
	}
	return nil, nil
}

// ModelInfo fetches (or returns from cache) the schema for desc. The cache
// keys by URL, since two devices can share a model schema.
func (c *Client) ModelInfo(ctx context.Context, desc types.DeviceDescriptor) (*modelinfo.Schema, error) {
	ctx, span := tracer.Start(ctx, "model-info")
	defer span.End()

	url := desc.ModelJSONURL

	c.mu.Lock()
	if schema, ok := c.modelCache[url]; ok {
		c.mu.Unlock()
		return schema, nil
	}
	c.mu.Unlock()

	raw, err := c.fetchModelJSON(ctx, url)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	schema, err := modelinfo.Parse(raw)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	c.mu.Lock()
	c.modelCache[url] = schema
	c.modelRaw[url] = raw
	c.mu.Unlock()

	return schema, nil
}

func (c *Client) fetchModelJSON(ctx context.Context, url string) ([]byte, error) {
	raw, err := c.transport.GetRaw(ctx, url, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, fmt.Errorf("fetch model info %s: %w", url, err)
	}
	return raw, nil
}

// Refresh replaces the client's Auth with a freshly refreshed one and
// re-establishes the session.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	a := c.auth
	c.mu.Unlock()
	if a == nil {
		return fmt.Errorf("client: not authenticated")
	}

	if err := a.Refresh(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.session = nil
	c.devices = nil
	c.mu.Unlock()

	_, err := c.Session(ctx)
	return err
}

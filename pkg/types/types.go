// Package types holds the plain, JSON-tagged data shapes shared across this
// module's packages: device descriptors and the persisted state a caller
// saves between process runs.
package types

import (
	"encoding/json"

	"golang.org/x/oauth2"
)

// DeviceType identifies the category of appliance a DeviceDescriptor
// describes. The set mirrors the vendor's device-type codes; this module
// does not interpret them beyond carrying the value, since per-appliance
// behavior is out of scope here.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeRefrigerator
	DeviceTypeKimchiRefrigerator
	DeviceTypeWaterPurifier
	DeviceTypeWasher
	DeviceTypeDryer
	DeviceTypeStyler
	DeviceTypeDishwasher
	DeviceTypeOven
	DeviceTypeMicrowave
	DeviceTypeAirConditioner
	DeviceTypeAirPurifier
	DeviceTypeRobotCleaner
	DeviceTypeTV
)

// DeviceDescriptor is the metadata the vendor returns for one registered
// appliance, enough to address it and fetch its ModelInfo schema.
type DeviceDescriptor struct {
	DeviceID     string     `json:"deviceId"`
	ModelName    string     `json:"modelName"`
	Alias        string     `json:"alias"`
	DeviceType   DeviceType `json:"deviceType"`
	ModelJSONURL string     `json:"modelJsonUri"`
	NetworkType  string     `json:"networkType"`
}

// GatewayEndpoints is the serializable form of the routing information
// returned by gateway discovery, kept separate from pkg/gateway's runtime
// type so this package stays free of behavior.
type GatewayEndpoints struct {
	Country     string `json:"country"`
	Language    string `json:"language"`
	AuthBase    string `json:"authBase"`
	APIBase     string `json:"apiBase"`
	OAuthRoot   string `json:"oauthRoot"`
	V2          bool   `json:"v2"`
	OAuthSecret string `json:"oauthSecretKey,omitempty"`
	OAuthClient string `json:"oauthClientKey,omitempty"`
}

// Credential is the serializable form of an authenticated session's
// tokens, persisted by the caller between runs. It is a plain value —
// refresh logic and locking live in pkg/auth. The access/refresh pair and
// expiry are carried in an embedded oauth2.Token even though the vendor's
// refresh cycle is its own signed form post rather than a standard OAuth2
// grant, so the rest of this module can reuse oauth2.Token's Valid()/
// expiry bookkeeping instead of reinventing it.
type Credential struct {
	oauth2.Token
	SessionID  string `json:"sessionId,omitempty"`
	UserNumber string `json:"userNumber,omitempty"`
}

// PersistedState is everything a caller needs to save to disk in order to
// resume a session without repeating the OAuth login flow. The core never
// performs file I/O itself; callers own serialization of this value (e.g.
// CLI tools persist it as JSON or YAML). ModelCache is keyed by
// model_info_url, not model id, since two devices can share a schema.
type PersistedState struct {
	Gateway    GatewayEndpoints           `json:"gateway"`
	Credential Credential                 `json:"credential"`
	ModelCache map[string]json.RawMessage `json:"modelCache,omitempty"`
}

// Package session implements the authenticated RPC surface: device
// listing, control, config reads, and the monitor start/poll/stop calls.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/diwise/thinqclient/internal/telemetry/logging"
	"github.com/diwise/thinqclient/pkg/apierrors"
	"github.com/diwise/thinqclient/pkg/auth"
	"github.com/diwise/thinqclient/pkg/transport"
	"github.com/diwise/thinqclient/pkg/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("thinqclient/session")

// ControlCategory selects whether a get_device_config call targets the
// device's Config or Control namespace.
type ControlCategory string

const (
	CategoryConfig  ControlCategory = "Config"
	CategoryControl ControlCategory = "Control"
)

// Session is bound to one Auth and is not safe for concurrent use from
// multiple goroutines: the vendor API observes request ordering within an
// account, and this type does not implicitly serialize calls. Callers
// needing concurrent device operations should use one Session per
// goroutine or provide their own external serialization.
type Session struct {
	auth      *auth.Auth
	transport *transport.Transport
	sessionID string
}

// New establishes a session by logging in against a.Gateway().APIBase with
// the current access token, returning the session and the account's
// initial device list.
func New(ctx context.Context, a *auth.Auth) (*Session, []types.DeviceDescriptor, error) {
	ctx, span := tracer.Start(ctx, "start-session")
	defer span.End()

	gw := a.Gateway()
	s := &Session{auth: a, transport: a.Transport()}

	if gw.V2 {
		devices, err := s.GetDevices(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, nil, err
		}
		return s, devices, nil
	}

	body := map[string]any{
		"countryCode": gw.Country,
		"langCode":    gw.Language,
		"loginType":   "EMP",
		"accessToken": a.Credential().AccessToken,
	}

	doc, err := s.post(ctx, gw.APIBase+"/member/login", body)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	s.sessionID, _ = doc["sessionId"].(string)

	devices, err := s.GetDevices(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	return s, devices, nil
}

func (s *Session) headers(ctx context.Context) map[string]string {
	cred := s.auth.Credential()
	gw := s.auth.Gateway()

	h := map[string]string{
		"Accept": "application/json",
	}

	if gw.V2 {
		h["x-api-key"] = "VGhpblEyLjAgU0VSVklDRQ=="
		h["x-client-id"] = gw.OAuthClient
		h["x-country-code"] = gw.Country
		h["x-language-code"] = gw.Language
		h["x-message-id"] = uuid.New().String()
		h["x-service-code"] = "SVC202"
		h["x-service-phase"] = "OP"
		h["x-thinq-app-type"] = "NUTS"
		h["x-thinq-app-ver"] = "3.0"
		h["x-emp-token"] = cred.AccessToken
		h["x-user-no"] = cred.UserNumber
		return h
	}

	h["x-thinq-application-key"] = "wideq"
	h["x-thinq-security-key"] = "nuts_securitykey"
	h["x-thinq-token"] = cred.AccessToken
	if s.sessionID != "" {
		h["x-thinq-jsessionId"] = s.sessionID
	}
	return h
}

func (s *Session) envelope() transport.EnvelopeKind {
	if s.auth.Gateway().V2 {
		return transport.EnvelopeV2
	}
	return transport.EnvelopeLegacy
}

func (s *Session) post(ctx context.Context, url string, body any) (map[string]any, error) {
	return s.transport.PostJSON(ctx, url, s.envelope(), body, s.headers(ctx))
}

// Post forwards body to path under the current API root, with auth and
// session headers attached.
func (s *Session) Post(ctx context.Context, path string, body any) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "post")
	defer span.End()

	doc, err := s.post(ctx, s.auth.Gateway().APIBase+path, body)
	if err != nil {
		span.RecordError(err)
	}
	return doc, err
}

// GetDevices returns the account's registered appliances.
func (s *Session) GetDevices(ctx context.Context) ([]types.DeviceDescriptor, error) {
	ctx, span := tracer.Start(ctx, "get-devices")
	defer span.End()

	gw := s.auth.Gateway()
	log := logging.GetLoggerFromContext(ctx)

	var raw any
	if gw.V2 {
		doc, err := s.transport.GetJSON(ctx, gw.APIBase+"/service/application/dashboard", s.headers(ctx))
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		raw = doc["item"]
	} else {
		doc, err := s.post(ctx, gw.APIBase+"/device/deviceList", map[string]any{})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		raw = doc["item"]
	}

	items := toList(raw)
	devices := make([]types.DeviceDescriptor, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			log.Warn().Msg("skipping non-object device list entry")
			continue
		}
		devices = append(devices, deviceFromDoc(m))
	}

	return devices, nil
}

// toList wraps a bare object as a one-element list, matching the vendor's
// habit of omitting the array wrapper when exactly one result exists.
func toList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

func deviceFromDoc(m map[string]any) types.DeviceDescriptor {
	return types.DeviceDescriptor{
		DeviceID:     stringField(m, "deviceId"),
		ModelName:    stringField(m, "modelName"),
		Alias:        stringField(m, "alias"),
		ModelJSONURL: stringField(m, "modelJsonUri"),
		NetworkType:  stringField(m, "networkType"),
	}
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func (s *Session) rtiControl(ctx context.Context, deviceID, cmd, cmdOpt string, value map[string]any) (map[string]any, error) {
	body := map[string]any{
		"cmd":      cmd,
		"cmdOpt":   cmdOpt,
		"deviceId": deviceID,
		"workId":   uuid.New().String(),
		"value":    value,
		"data":     "",
	}
	return s.Post(ctx, "/rti/rtiControl", body)
}

// SetDeviceControls sends a Control/Set command with the given key-value
// map.
func (s *Session) SetDeviceControls(ctx context.Context, deviceID string, values map[string]any) error {
	ctx, span := tracer.Start(ctx, "set-device-controls")
	defer span.End()

	_, err := s.rtiControl(ctx, deviceID, "Control", "Set", values)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// GetDeviceConfig reads a single key from category (Config or Control) and
// returns the raw string the vendor sent. Interpretation depends on key:
// some values are base64-encoded JSON (see DecodeConfigJSON), others are a
// "(key:value)" tuple string (see DecodeConfigTuple). The schema does not
// disambiguate which applies, so this method does not guess.
func (s *Session) GetDeviceConfig(ctx context.Context, deviceID, key string, category ControlCategory) (string, error) {
	ctx, span := tracer.Start(ctx, "get-device-config")
	defer span.End()

	body := map[string]any{
		"cmd":      string(category),
		"cmdOpt":   "Get",
		"deviceId": deviceID,
		"workId":   uuid.New().String(),
		"value":    key,
		"data":     "",
	}

	doc, err := s.Post(ctx, "/rti/rtiControl", body)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	data, _ := doc["returnData"].(string)
	return data, nil
}

// DecodeConfigJSON decodes a GetDeviceConfig result that is base64-encoded
// JSON.
func DecodeConfigJSON(raw string) (map[string]any, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("base64 decode device config: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(decoded, &out); err != nil {
		return nil, &apierrors.MalformedResponseError{Raw: raw}
	}
	return out, nil
}

// DecodeConfigTuple decodes a GetDeviceConfig result shaped as
// "(key:value)".
func DecodeConfigTuple(raw string) (key, value string, err error) {
	trimmed := raw
	if len(trimmed) >= 2 && trimmed[0] == '(' && trimmed[len(trimmed)-1] == ')' {
		trimmed = trimmed[1 : len(trimmed)-1]
	}

	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] == ':' {
			return trimmed[:i], trimmed[i+1:], nil
		}
	}

	return "", "", &apierrors.MalformedResponseError{Raw: raw}
}

// MonitorStart begins an async telemetry job for deviceID, returning the
// server-assigned work id.
func (s *Session) MonitorStart(ctx context.Context, deviceID string) (string, error) {
	ctx, span := tracer.Start(ctx, "monitor-start")
	defer span.End()

	body := map[string]any{
		"cmd":      "Mon",
		"cmdOpt":   "Start",
		"deviceId": deviceID,
		"workId":   uuid.New().String(),
	}

	res, err := s.Post(ctx, "/rti/rtiMon", body)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	workID, _ := res["workId"].(string)
	if workID == "" {
		err = &apierrors.MalformedResponseError{Raw: fmt.Sprintf("%v", res)}
		span.RecordError(err)
		return "", err
	}
	return workID, nil
}

// MonitorPoll reads one tick of a monitor job. A nil, nil return means
// warmup (no data yet this tick); a non-nil return is the base64-decoded
// payload bytes; a MonitorError return signals the job must be restarted.
func (s *Session) MonitorPoll(ctx context.Context, deviceID, workID string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "monitor-poll")
	defer span.End()

	body := map[string]any{
		"workList": []map[string]any{
			{"deviceId": deviceID, "workId": workID},
		},
	}

	doc, err := s.Post(ctx, "/rti/rtiResult", body)
	if err != nil {
		var notLoggedIn *apierrors.NotLoggedInError
		if errors.As(err, &notLoggedIn) {
			span.RecordError(err)
			return nil, err
		}

		code := ""
		var apiErr *apierrors.APIError
		if errors.As(err, &apiErr) {
			code = apiErr.Code
		}
		monErr := apierrors.MapMonitorCode(deviceID, code)
		span.RecordError(monErr)
		return nil, monErr
	}

	work, ok := doc["workList"].(map[string]any)
	if !ok {
		err = &apierrors.MalformedResponseError{Raw: fmt.Sprintf("%v", doc)}
		span.RecordError(err)
		return nil, err
	}

	// Warmup: the result's own returnCode is absent until the first tick
	// of real data is ready.
	codeRaw, present := work["returnCode"]
	if !present {
		return nil, nil
	}

	code := fmt.Sprintf("%v", codeRaw)
	if code != "0000" {
		monErr := apierrors.MapMonitorCode(deviceID, code)
		span.RecordError(monErr)
		return nil, monErr
	}

	returnData, ok := work["returnData"].(string)
	if !ok || returnData == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(returnData)
	if err != nil {
		err = &apierrors.MalformedResponseError{Raw: returnData}
		span.RecordError(err)
		return nil, err
	}
	return decoded, nil
}

// MonitorStop ends a monitor job. It is best-effort: most errors are
// logged and swallowed since the job is being torn down regardless.
func (s *Session) MonitorStop(ctx context.Context, deviceID, workID string) error {
	ctx, span := tracer.Start(ctx, "monitor-stop")
	defer span.End()

	log := logging.GetLoggerFromContext(ctx)

	body := map[string]any{
		"cmd":      "Mon",
		"cmdOpt":   "Stop",
		"deviceId": deviceID,
		"workId":   workID,
	}

	_, err := s.Post(ctx, "/rti/rtiMon", body)
	if err != nil {
		log.Debug().Err(err).Str("deviceId", deviceID).Msg("monitor stop returned an error, ignoring")
	}
	return nil
}

// DeleteControlPermission revokes a previously granted control permission
// for deviceID. A pass-through RPC carried over from the vendor's original
// client surface.
func (s *Session) DeleteControlPermission(ctx context.Context, deviceID string) error {
	ctx, span := tracer.Start(ctx, "delete-control-permission")
	defer span.End()

	body := map[string]any{
		"deviceId": deviceID,
	}

	_, err := s.Post(ctx, "/rti/delControlPermission", body)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Package apierrors maps the vendor API's return codes onto a closed set of
// typed error kinds, per the error-handling design: HTTP-level retries are
// handled inside the transport, envelope-level errors are raised as these
// typed kinds, and only MonitorError is ever handled internally (by
// pkg/monitor). Everything else surfaces to the caller unchanged.
package apierrors

import "fmt"

// NotLoggedInError is returned for codes 0102 and 9003. The caller should
// refresh credentials and retry once.
type NotLoggedInError struct {
	Code    string
	Message string
}

func (e *NotLoggedInError) Error() string {
	return fmt.Sprintf("not logged in (code %s): %s", e.Code, e.Message)
}

// NotConnectedError is returned for code 0106: the cloud cannot reach the
// device. Transient; surface to the caller unchanged.
type NotConnectedError struct {
	Code    string
	Message string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("device not connected (code %s): %s", e.Code, e.Message)
}

// FailedRequestError is returned for code 0100, typically an unsupported
// operation for the device/model in question.
type FailedRequestError struct {
	Code    string
	Message string
}

func (e *FailedRequestError) Error() string {
	return fmt.Sprintf("request failed (code %s): %s", e.Code, e.Message)
}

// InvalidCredentialError is returned for code 0110. It is permanent; do not
// retry without user action (e.g. re-running the OAuth login flow).
type InvalidCredentialError struct {
	Code    string
	Message string
}

func (e *InvalidCredentialError) Error() string {
	return fmt.Sprintf("invalid credential (code %s): %s", e.Code, e.Message)
}

// InvalidRequestError is returned for code 9000: a malformed request, i.e.
// a caller bug.
type InvalidRequestError struct {
	Code    string
	Message string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request (code %s): %s", e.Code, e.Message)
}

// TokenError indicates a token refresh failed (non-200 response, or a
// success flag of false). The caller must re-authenticate interactively.
type TokenError struct {
	Message string
}

func (e *TokenError) Error() string {
	if e.Message == "" {
		return "token refresh failed"
	}
	return fmt.Sprintf("token refresh failed: %s", e.Message)
}

// MonitorError is associated with a specific device and code. pkg/monitor
// recovers from this by restarting the monitoring job; it is the one error
// kind the core handles internally.
type MonitorError struct {
	DeviceID string
	Code     string
}

func (e *MonitorError) Error() string {
	return fmt.Sprintf("monitor error for device %s (code %s)", e.DeviceID, e.Code)
}

// MalformedResponseError is raised when the server returns data that fails
// even the documented fallback parse. The raw payload is carried for
// diagnostics.
type MalformedResponseError struct {
	Raw string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %s", e.Raw)
}

// APIError is the generic fallback for any other non-"0000"/"resultCode"
// failure, carrying the vendor's code and message verbatim.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (code %s): %s", e.Code, e.Message)
}

// MapCode builds the typed error for a given vendor return code and
// message. deviceID is only meaningful for monitor-protocol errors; pass ""
// when mapping a non-monitor envelope.
func MapCode(code, message string) error {
	switch code {
	case "0102", "9003":
		return &NotLoggedInError{Code: code, Message: message}
	case "0106":
		return &NotConnectedError{Code: code, Message: message}
	case "0100":
		return &FailedRequestError{Code: code, Message: message}
	case "0110":
		return &InvalidCredentialError{Code: code, Message: message}
	case "9000":
		return &InvalidRequestError{Code: code, Message: message}
	default:
		return &APIError{Code: code, Message: message}
	}
}

// MapMonitorCode builds a MonitorError for the given device and vendor
// return code observed while polling.
func MapMonitorCode(deviceID, code string) error {
	return &MonitorError{DeviceID: deviceID, Code: code}
}

package apierrors_test

import (
	"errors"
	"testing"

	"github.com/diwise/thinqclient/pkg/apierrors"
	"github.com/matryer/is"
)

func TestMapCodeKnownCodes(t *testing.T) {
	is := is.New(t)

	var notLoggedIn *apierrors.NotLoggedInError
	is.True(errors.As(apierrors.MapCode("0102", "m"), &notLoggedIn))
	is.True(errors.As(apierrors.MapCode("9003", "m"), &notLoggedIn))

	var notConnected *apierrors.NotConnectedError
	is.True(errors.As(apierrors.MapCode("0106", "m"), &notConnected))

	var failedRequest *apierrors.FailedRequestError
	is.True(errors.As(apierrors.MapCode("0100", "m"), &failedRequest))

	var invalidCredential *apierrors.InvalidCredentialError
	is.True(errors.As(apierrors.MapCode("0110", "m"), &invalidCredential))

	var invalidRequest *apierrors.InvalidRequestError
	is.True(errors.As(apierrors.MapCode("9000", "m"), &invalidRequest))

	var apiErr *apierrors.APIError
	is.True(errors.As(apierrors.MapCode("7777", "m"), &apiErr))
	is.Equal(apiErr.Code, "7777")
}

func TestMapMonitorCodeCarriesDeviceAndCode(t *testing.T) {
	is := is.New(t)

	err := apierrors.MapMonitorCode("device-1", "0001")

	var monErr *apierrors.MonitorError
	is.True(errors.As(err, &monErr))
	is.Equal(monErr.DeviceID, "device-1")
	is.Equal(monErr.Code, "0001")
}

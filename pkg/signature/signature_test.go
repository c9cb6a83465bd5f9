package signature_test

import (
	"testing"
	"time"

	"github.com/diwise/thinqclient/pkg/signature"
	"github.com/matryer/is"
)

func TestTimestampIsUTCAndFormatted(t *testing.T) {
	is := is.New(t)

	loc, err := time.LoadLocation("Asia/Seoul")
	is.NoErr(err)

	ts := signature.Timestamp(time.Date(2024, 3, 1, 12, 0, 0, 0, loc))
	is.Equal(ts, "Fri, 01 Mar 2024 03:00:00 +0000")
}

func TestSignIsDeterministic(t *testing.T) {
	is := is.New(t)

	a := signature.Sign("hello\nworld", "secret")
	b := signature.Sign("hello\nworld", "secret")
	is.Equal(a, b)

	c := signature.Sign("hello\nworld", "other-secret")
	is.True(a != c)
}

func TestSignPathMatchesManualConcatenation(t *testing.T) {
	is := is.New(t)

	got := signature.SignPath("/oauth2/token?grant_type=refresh_token", "Fri, 01 Mar 2024 03:00:00 +0000", "secret")
	want := signature.Sign("/oauth2/token?grant_type=refresh_token\nFri, 01 Mar 2024 03:00:00 +0000", "secret")
	is.Equal(got, want)
}

package handlers

import (
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
)

const testToken = "123456:TEST-TOKEN"

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func signedInitData(t *testing.T, token string, authDate time.Time, user string) string {
	t.Helper()
	payload := map[string]string{
		"query_id": "AAHdF6IQAAAAAN0XohDhrOrc",
		"user":     user,
	}
	v := url.Values{}
	for k, val := range payload {
		v.Set(k, val)
	}
	v.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	v.Set("hash", initdata.Sign(payload, token, authDate))
	return v.Encode()
}

func newVerifier(maxAge time.Duration, skip bool) *InitDataVerifier {
	v := NewInitDataVerifier(testToken, maxAge, skip)
	v.now = func() time.Time { return testNow }
	return v
}

func TestInitDataVerifier_Parse(t *testing.T) {
	user := `{"id":555,"username":"zamenhof","first_name":"Ludoviko","last_name":"Zamenhof"}`

	t.Run("valid", func(t *testing.T) {
		raw := signedInitData(t, testToken, testNow.Add(-time.Hour), user)

		d, err := newVerifier(24*time.Hour, false).Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, account.PlatformID("555"), d.PlatformID())
		assert.Equal(t, "zamenhof", d.Hint().DisplayName())
		assert.Equal(t, "AAHdF6IQAAAAAN0XohDhrOrc", d.QueryID)
		assert.Equal(t, testNow.Add(-time.Hour), d.AuthDate)
	})

	t.Run("wrong token", func(t *testing.T) {
		raw := signedInitData(t, "other:token", testNow, user)
		_, err := newVerifier(0, false).Parse(raw)
		assert.ErrorIs(t, err, ErrInitDataHash)
	})

	t.Run("tampered field", func(t *testing.T) {
		raw := signedInitData(t, testToken, testNow, user)
		v, err := url.ParseQuery(raw)
		require.NoError(t, err)
		v.Set("user", `{"id":777}`)

		_, err = newVerifier(0, false).Parse(v.Encode())
		assert.ErrorIs(t, err, ErrInitDataHash)
	})

	t.Run("missing hash", func(t *testing.T) {
		_, err := newVerifier(0, false).Parse("user=%7B%22id%22%3A1%7D&auth_date=1")
		assert.ErrorIs(t, err, ErrInitDataHash)
	})

	t.Run("expired", func(t *testing.T) {
		raw := signedInitData(t, testToken, testNow.Add(-25*time.Hour), user)
		_, err := newVerifier(24*time.Hour, false).Parse(raw)
		assert.ErrorIs(t, err, ErrInitDataExpired)
	})

	t.Run("no max age", func(t *testing.T) {
		raw := signedInitData(t, testToken, testNow.Add(-30*24*time.Hour), user)
		_, err := newVerifier(0, false).Parse(raw)
		assert.NoError(t, err)
	})

	t.Run("bad user", func(t *testing.T) {
		raw := signedInitData(t, testToken, testNow, `{"id":0}`)
		_, err := newVerifier(0, false).Parse(raw)
		assert.ErrorIs(t, err, ErrInitDataInvalid)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := newVerifier(0, false).Parse("")
		assert.ErrorIs(t, err, ErrInitDataMissing)
	})

	t.Run("skip check", func(t *testing.T) {
		v := url.Values{}
		v.Set("user", `{"id":42,"first_name":"Anna"}`)

		d, err := newVerifier(time.Minute, true).Parse(v.Encode())
		require.NoError(t, err)
		assert.Equal(t, account.PlatformID("42"), d.PlatformID())
		assert.Equal(t, "Anna", d.Hint().DisplayName())
	})
}

func TestMapInitDataError(t *testing.T) {
	assert.ErrorIs(t, mapInitDataError(initdata.ErrSignMissing), ErrInitDataHash)
	assert.ErrorIs(t, mapInitDataError(initdata.ErrSignInvalid), ErrInitDataHash)
	assert.ErrorIs(t, mapInitDataError(errors.New("unexpected format")), ErrInitDataInvalid)
}

func TestFromHeader(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    bool
	}{
		{"tma user=1&hash=x", "user=1&hash=x", false},
		{"TMA   abc ", "abc", false},
		{"Bearer abc", "", true},
		{"tma", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := FromHeader(tt.header)
			if tt.err {
				assert.ErrorIs(t, err, ErrInitDataMissing)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

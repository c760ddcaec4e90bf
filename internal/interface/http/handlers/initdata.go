package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
)

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM WEB APP INIT DATA
// The mini-app sends the launch parameters it received from Telegram in
// "Authorization: tma <initData>". The payload is signed with a key derived
// from the bot token.
// ══════════════════════════════════════════════════════════════════════════════

// AuthScheme is the Authorization header scheme for init data.
const AuthScheme = "tma"

// Init data errors.
var (
	ErrInitDataMissing = errors.New("init data is missing")
	ErrInitDataInvalid = errors.New("init data is malformed")
	ErrInitDataHash    = errors.New("init data signature mismatch")
	ErrInitDataExpired = errors.New("init data has expired")
)

// TelegramUser is the "user" object of init data.
type TelegramUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// InitData is the verified subset of init data the API uses.
type InitData struct {
	User     TelegramUser
	AuthDate time.Time
	QueryID  string
}

// PlatformID returns the Telegram user id as a platform id.
func (d *InitData) PlatformID() account.PlatformID {
	return account.PlatformID(strconv.FormatInt(d.User.ID, 10))
}

// Hint returns the profile fields sent with the user.
func (d *InitData) Hint() account.Hint {
	return account.Hint{
		Username:  d.User.Username,
		FirstName: d.User.FirstName,
		LastName:  d.User.LastName,
	}
}

// InitDataVerifier validates init data against a bot token.
type InitDataVerifier struct {
	botToken  string
	maxAge    time.Duration
	skipCheck bool
	now       func() time.Time
}

// NewInitDataVerifier creates a verifier. maxAge <= 0 disables the age
// check. skipCheck disables signature and age checks and must only be used in
// development.
func NewInitDataVerifier(botToken string, maxAge time.Duration, skipCheck bool) *InitDataVerifier {
	return &InitDataVerifier{
		botToken:  botToken,
		maxAge:    maxAge,
		skipCheck: skipCheck,
		now:       time.Now,
	}
}

// FromHeader extracts the init data from an Authorization header value.
func FromHeader(header string) (string, error) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, AuthScheme) || strings.TrimSpace(raw) == "" {
		return "", ErrInitDataMissing
	}
	return strings.TrimSpace(raw), nil
}

// Parse verifies raw init data and returns its contents.
func (v *InitDataVerifier) Parse(raw string) (*InitData, error) {
	if raw == "" {
		return nil, ErrInitDataMissing
	}
	if !v.skipCheck {
		// Expiry is checked below against the verifier clock.
		if err := initdata.Validate(raw, v.botToken, 0); err != nil {
			return nil, mapInitDataError(err)
		}
	}

	parsed, err := initdata.Parse(raw)
	if err != nil || parsed.User.ID <= 0 {
		return nil, ErrInitDataInvalid
	}

	d := &InitData{
		User: TelegramUser{
			ID:           parsed.User.ID,
			Username:     parsed.User.Username,
			FirstName:    parsed.User.FirstName,
			LastName:     parsed.User.LastName,
			LanguageCode: parsed.User.LanguageCode,
		},
		QueryID: parsed.QueryID,
	}
	if parsed.AuthDateRaw > 0 {
		d.AuthDate = parsed.AuthDate().UTC()
	}
	if !v.skipCheck && v.maxAge > 0 {
		if d.AuthDate.IsZero() || v.now().Sub(d.AuthDate) > v.maxAge {
			return nil, ErrInitDataExpired
		}
	}
	return d, nil
}

func mapInitDataError(err error) error {
	switch {
	case errors.Is(err, initdata.ErrSignMissing), errors.Is(err, initdata.ErrSignInvalid):
		return ErrInitDataHash
	default:
		return ErrInitDataInvalid
	}
}

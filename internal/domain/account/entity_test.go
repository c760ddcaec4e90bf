package account

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

func TestPlatformID_IsValid(t *testing.T) {
	tests := []struct {
		in   PlatformID
		want bool
	}{
		{"555", true},
		{"123456789012", true},
		{"", false},
		{"-5", false},
		{"12a", false},
		{" 12", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.IsValid())
		})
	}
}

func TestHint_DisplayName(t *testing.T) {
	assert.Equal(t, "anna", Hint{Username: " anna ", FirstName: "Anna"}.DisplayName())
	assert.Equal(t, "Anna Petrova", Hint{FirstName: "Anna", LastName: "Petrova"}.DisplayName())
	assert.Equal(t, "Anna", Hint{FirstName: "Anna"}.DisplayName())
	assert.Equal(t, "", Hint{}.DisplayName())
}

func TestParseID(t *testing.T) {
	id := uuid.New()

	got, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, raw := range []string{"555", "not-a-uuid", uuid.Nil.String(), ""} {
		_, err := ParseID(raw)
		assert.True(t, shared.IsIdentityNotResolved(err), "input %q", raw)
	}
}

func TestNew(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a, err := New("555", Hint{FirstName: "Ivan"}, now)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a.ID)
	require.True(t, a.HasPlatformID())
	assert.Equal(t, PlatformID("555"), *a.PlatformID)
	assert.Equal(t, "Ivan", a.DisplayName)
	assert.Equal(t, now, a.CreatedAt)

	b, err := New("555", Hint{}, now)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = New("abc", Hint{}, now)
	assert.True(t, shared.IsValidation(err))
}

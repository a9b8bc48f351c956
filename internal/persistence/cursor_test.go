package persistence

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := &domain.Cursor{
		ReceivedAt: time.Date(2026, 3, 14, 8, 30, 15, 123456789, time.UTC),
		ID:         "ev-42",
	}

	token := EncodeCursor(cursor)
	require.NotEmpty(t, token)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, cursor.ReceivedAt.Equal(decoded.ReceivedAt))
	require.Equal(t, cursor.ID, decoded.ID)
}

func TestEncodeNilCursor(t *testing.T) {
	require.Empty(t, EncodeCursor(nil))
}

func TestDecodeEmptyToken(t *testing.T) {
	decoded, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("not-base64!!")
	require.Error(t, err)

	// Valid base64 but missing the separator.
	_, err = DecodeCursor(base64.StdEncoding.EncodeToString([]byte("no-separator")))
	require.Error(t, err)

	// Separator present but the timestamp is not RFC3339.
	_, err = DecodeCursor(base64.StdEncoding.EncodeToString([]byte("yesterday|ev-1")))
	require.Error(t, err)
}

// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"example.com/healthsync/internal/domain"
)

// EncodeCursor renders a keyset cursor as an opaque token. A nil cursor
// encodes to the empty string, meaning "start from the beginning".
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw := c.ReceivedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. Blank tokens decode
// to nil without error.
func DecodeCursor(token string) (*domain.Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	tsPart, id, found := strings.Cut(string(decoded), "|")
	if !found {
		return nil, fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, tsPart)
	if err != nil {
		return nil, err
	}
	return &domain.Cursor{ReceivedAt: ts, ID: id}, nil
}

package adapter

import (
	"encoding/json"
	"time"

	"example.com/healthsync/internal/domain"
)

const manualSchema = `{
  "type": "object",
  "required": ["entry_id", "user_id", "kind"],
  "properties": {
    "entry_id": {"type": "string"},
    "user_id": {"type": "string"},
    "kind": {"type": "string", "enum": ["metric", "activity"]},
    "recorded_at": {"type": "string"}
  }
}`

// NewManual builds the adapter for manual in-app entries. Manual entries carry
// the internal user id directly and need no provider connection.
func NewManual() domain.Adapter {
	return base{
		provider:  domain.ProviderManual,
		schema:    mustSchema("manual.json", manualSchema),
		supported: supportedSet("metric", "activity"),
		parse:     parseManual,
	}
}

func parseManual(payload []byte) (envelope, error) {
	var body struct {
		EntryID    string `json:"entry_id"`
		UserID     string `json:"user_id"`
		Kind       string `json:"kind"`
		RecordedAt string `json:"recorded_at"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return envelope{}, err
	}
	ts, _ := time.Parse(time.RFC3339, body.RecordedAt)
	return envelope{
		EventType:      body.Kind,
		NativeID:       body.EntryID,
		ProviderUserID: body.UserID,
		Timestamp:      ts,
	}, nil
}

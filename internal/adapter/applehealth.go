package adapter

import (
	"encoding/json"
	"time"

	"example.com/healthsync/internal/domain"
)

const appleHealthSchema = `{
  "type": "object",
  "required": ["export_id", "user_token", "samples"],
  "properties": {
    "export_id": {"type": "string"},
    "user_token": {"type": "string"},
    "exported_at": {"type": "string"},
    "samples": {"type": "array"}
  }
}`

// NewAppleHealth builds the adapter for Apple Health export batches. A batch
// of HealthKit samples arrives as one event; the normalizer fans it out into
// individual candidates.
func NewAppleHealth() domain.Adapter {
	return base{
		provider:  domain.ProviderAppleHealth,
		schema:    mustSchema("apple_health.json", appleHealthSchema),
		supported: supportedSet("samples"),
		parse:     parseAppleHealth,
	}
}

func parseAppleHealth(payload []byte) (envelope, error) {
	var body struct {
		ExportID   string `json:"export_id"`
		UserToken  string `json:"user_token"`
		ExportedAt string `json:"exported_at"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return envelope{}, err
	}
	ts, _ := time.Parse(time.RFC3339, body.ExportedAt)
	return envelope{
		EventType:      "samples",
		NativeID:       body.ExportID,
		ProviderUserID: body.UserToken,
		Timestamp:      ts,
	}, nil
}

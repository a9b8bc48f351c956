package adapter

import (
	"encoding/json"
	"time"

	"example.com/healthsync/internal/domain"
)

const googleFitSchema = `{
  "type": "object",
  "required": ["message_id", "user_id", "dataset"],
  "properties": {
    "message_id": {"type": "string"},
    "user_id": {"type": "string"},
    "dataset": {"type": "array"},
    "timestamp": {"type": "string"}
  }
}`

// NewGoogleFit builds the adapter for Google Fit dataset notifications.
func NewGoogleFit() domain.Adapter {
	return base{
		provider:  domain.ProviderGoogleFit,
		schema:    mustSchema("google_fit.json", googleFitSchema),
		supported: supportedSet("dataset"),
		parse:     parseGoogleFit,
	}
}

func parseGoogleFit(payload []byte) (envelope, error) {
	var body struct {
		MessageID string `json:"message_id"`
		UserID    string `json:"user_id"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return envelope{}, err
	}
	ts, _ := time.Parse(time.RFC3339, body.Timestamp)
	return envelope{
		EventType:      "dataset",
		NativeID:       body.MessageID,
		ProviderUserID: body.UserID,
		Timestamp:      ts,
	}, nil
}

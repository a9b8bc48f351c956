package adapter

import (
	"encoding/json"
	"time"

	"example.com/healthsync/internal/domain"
)

const terraSchema = `{
  "type": "object",
  "required": ["type", "user"],
  "properties": {
    "type": {"type": "string"},
    "user": {
      "type": "object",
      "required": ["user_id"],
      "properties": {"user_id": {"type": "string"}}
    },
    "sent_at": {"type": "string"}
  }
}`

// NewTerra builds the adapter for Terra aggregation webhooks.
func NewTerra() domain.Adapter {
	return base{
		provider:  domain.ProviderTerra,
		schema:    mustSchema("terra.json", terraSchema),
		supported: supportedSet("body", "sleep", "activity", "daily"),
		parse:     parseTerra,
	}
}

func parseTerra(payload []byte) (envelope, error) {
	var body struct {
		Type string `json:"type"`
		User struct {
			UserID string `json:"user_id"`
		} `json:"user"`
		SentAt     string `json:"sent_at"`
		ResourceID string `json:"resource_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return envelope{}, err
	}
	ts, _ := time.Parse(time.RFC3339, body.SentAt)
	return envelope{
		EventType:      body.Type,
		NativeID:       body.ResourceID,
		ProviderUserID: body.User.UserID,
		Timestamp:      ts,
	}, nil
}

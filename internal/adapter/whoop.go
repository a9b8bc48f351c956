package adapter

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/healthsync/internal/domain"
)

const whoopSchema = `{
  "type": "object",
  "required": ["id", "user_id", "type"],
  "properties": {
    "id": {"type": "string"},
    "user_id": {"type": "integer"},
    "type": {"type": "string"},
    "created_at": {"type": "string"}
  }
}`

// NewWhoop builds the adapter for WHOOP webhook payloads.
func NewWhoop() domain.Adapter {
	return base{
		provider:  domain.ProviderWhoop,
		schema:    mustSchema("whoop.json", whoopSchema),
		supported: supportedSet("recovery.updated", "sleep.updated", "workout.updated"),
		parse:     parseWhoop,
	}
}

func parseWhoop(payload []byte) (envelope, error) {
	var body struct {
		ID        string `json:"id"`
		UserID    int64  `json:"user_id"`
		Type      string `json:"type"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return envelope{}, err
	}
	ts, _ := time.Parse(time.RFC3339, body.CreatedAt)
	return envelope{
		EventType:      body.Type,
		NativeID:       body.ID,
		ProviderUserID: fmt.Sprintf("%d", body.UserID),
		Timestamp:      ts,
	}, nil
}

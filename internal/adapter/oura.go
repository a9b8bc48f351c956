package adapter

import (
	"encoding/json"
	"time"

	"example.com/healthsync/internal/domain"
)

const ouraSchema = `{
  "type": "object",
  "required": ["object_id", "user_id", "data_type"],
  "properties": {
    "object_id": {"type": "string"},
    "user_id": {"type": "string"},
    "data_type": {"type": "string"},
    "event_type": {"type": "string"},
    "event_time": {"type": "string"}
  }
}`

// NewOura builds the adapter for Oura webhook payloads. Oura distinguishes
// create/update in event_type; both map to the same data_type event since
// reconciliation re-ranks the full candidate set either way.
func NewOura() domain.Adapter {
	return base{
		provider:  domain.ProviderOura,
		schema:    mustSchema("oura.json", ouraSchema),
		supported: supportedSet("daily_readiness", "daily_sleep", "sleep", "workout"),
		parse:     parseOura,
	}
}

func parseOura(payload []byte) (envelope, error) {
	var body struct {
		ObjectID  string `json:"object_id"`
		UserID    string `json:"user_id"`
		DataType  string `json:"data_type"`
		EventTime string `json:"event_time"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return envelope{}, err
	}
	ts, _ := time.Parse(time.RFC3339, body.EventTime)
	return envelope{
		EventType:      body.DataType,
		NativeID:       body.ObjectID,
		ProviderUserID: body.UserID,
		Timestamp:      ts,
	}, nil
}

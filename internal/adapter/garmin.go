package adapter

import (
	"encoding/json"
	"time"

	"example.com/healthsync/internal/domain"
)

const garminSchema = `{
  "type": "object",
  "required": ["summaryId", "userId", "summaryType"],
  "properties": {
    "summaryId": {"type": "string"},
    "userId": {"type": "string"},
    "summaryType": {"type": "string"},
    "uploadStartTimeInSeconds": {"type": "integer"}
  }
}`

// NewGarmin builds the adapter for Garmin push payloads.
func NewGarmin() domain.Adapter {
	return base{
		provider:  domain.ProviderGarmin,
		schema:    mustSchema("garmin.json", garminSchema),
		supported: supportedSet("dailies", "sleeps", "activities"),
		parse:     parseGarmin,
	}
}

func parseGarmin(payload []byte) (envelope, error) {
	var body struct {
		SummaryID   string `json:"summaryId"`
		UserID      string `json:"userId"`
		SummaryType string `json:"summaryType"`
		UploadStart int64  `json:"uploadStartTimeInSeconds"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return envelope{}, err
	}
	var ts time.Time
	if body.UploadStart > 0 {
		ts = time.Unix(body.UploadStart, 0).UTC()
	}
	return envelope{
		EventType:      body.SummaryType,
		NativeID:       body.SummaryID,
		ProviderUserID: body.UserID,
		Timestamp:      ts,
	}, nil
}

package outbox

const rawEventReceivedSchema = `{
  "type": "object",
  "title": "RawEventReceived",
  "properties": {
    "event_id": {"type": "string"},
    "user_id": {"type": "string"},
    "provider": {"type": "string"},
    "event_type": {"type": "string"},
    "parse_error": {"type": "boolean"},
    "received_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "user_id", "provider", "event_type", "parse_error", "received_at"],
  "additionalProperties": false
}`

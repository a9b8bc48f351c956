// Package adapter translates provider-specific payloads into provider-agnostic
// RawEvents. Adapters are pure mappings: no I/O, no side effects, and they
// never reject input; malformed payloads are preserved with a parse-error
// flag so the raw log still captures the attempt.
package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"example.com/healthsync/internal/domain"
)

// envelope is the common {event_type, timestamp, body} shape every adapter
// extracts from its provider payload.
type envelope struct {
	EventType      string
	NativeID       string
	ProviderUserID string
	Timestamp      time.Time
}

type parseFunc func(payload []byte) (envelope, error)

// base implements domain.Adapter for a single provider.
type base struct {
	provider  domain.Provider
	schema    *jsonschema.Schema
	supported map[string]struct{}
	parse     parseFunc
}

// Provider returns the provider this adapter handles.
func (b base) Provider() domain.Provider { return b.provider }

// Normalize maps a raw provider payload to a RawEvent. Schema violations and
// parse failures set ParseError rather than returning an error; unsupported
// event types pass through tagged "unmapped.<type>" for later triage.
func (b base) Normalize(payload []byte, receivedAt time.Time) domain.RawEvent {
	ev := domain.RawEvent{
		Provider:   b.provider,
		Payload:    append(json.RawMessage(nil), payload...),
		Status:     domain.EventStatusPending,
		ReceivedAt: receivedAt.UTC(),
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		ev.ParseError = true
		ev.ParseDetail = fmt.Sprintf("invalid json: %v", err)
		return ev
	}
	if err := b.schema.Validate(inst); err != nil {
		ev.ParseError = true
		ev.ParseDetail = fmt.Sprintf("schema violation: %v", err)
		return ev
	}

	env, err := b.parse(payload)
	if err != nil {
		ev.ParseError = true
		ev.ParseDetail = err.Error()
		return ev
	}

	ev.EventType = env.EventType
	if _, ok := b.supported[env.EventType]; !ok {
		ev.EventType = "unmapped." + env.EventType
	}
	ev.ProviderUserID = env.ProviderUserID
	if env.NativeID != "" {
		ev.DedupKey = string(b.provider) + ":" + env.NativeID
	}
	return ev
}

// mustSchema compiles a JSON schema literal. Schemas are package constants, so
// a compile failure is a programmer error.
func mustSchema(name, def string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("adapter: bad schema %s: %v", name, err))
	}
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("adapter: add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("adapter: compile schema %s: %v", name, err))
	}
	return schema
}

func supportedSet(types ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(types))
	for _, t := range types {
		out[t] = struct{}{}
	}
	return out
}

// All returns one adapter per supported provider, for registry construction.
func All() []domain.Adapter {
	return []domain.Adapter{
		NewWhoop(),
		NewOura(),
		NewGarmin(),
		NewAppleHealth(),
		NewGoogleFit(),
		NewTerra(),
		NewManual(),
	}
}

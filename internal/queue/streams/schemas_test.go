package streams

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEnrichSchemaValidates(t *testing.T) {
	reg, err := NewBaseRegistry()
	if err != nil {
		t.Fatalf("base registry: %v", err)
	}
	good, _ := json.Marshal(EnrichPayload{DocumentID: "d1", OwnerID: "u1", Reason: ReasonUpload})
	if err := reg.Validate(EventDocumentEnrich, VersionV1, good); err != nil {
		t.Fatalf("expected payload to validate: %v", err)
	}
	cases := map[string]string{
		"missing owner":  `{"document_id":"d1"}`,
		"empty document": `{"document_id":"","owner_id":"u1"}`,
		"bad reason":     `{"document_id":"d1","owner_id":"u1","reason":"cron"}`,
		"extra field":    `{"document_id":"d1","owner_id":"u1","content":"x"}`,
	}
	for name, payload := range cases {
		if err := reg.Validate(EventDocumentEnrich, VersionV1, []byte(payload)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestEnrichedSchemaValidates(t *testing.T) {
	reg, _ := NewBaseRegistry()
	good, _ := json.Marshal(EnrichedPayload{DocumentID: "d1", OwnerID: "u1", Status: "ready"})
	if err := reg.Validate(EventDocumentEnriched, VersionV1, good); err != nil {
		t.Fatalf("expected payload to validate: %v", err)
	}
	if err := reg.Validate(EventDocumentEnriched, VersionV1, []byte(`{"document_id":"d1","owner_id":"u1","status":"processing"}`)); err == nil {
		t.Fatalf("expected status enum to be enforced")
	}
}

func TestUnknownSchema(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := reg.Validate("document.enrich", "v2", []byte(`{}`)); !errors.Is(err, ErrUnknownSchema) {
		t.Fatalf("expected ErrUnknownSchema, got %v", err)
	}
	if err := reg.Register("x", "v1", []byte(`{"type": 12}`)); err == nil {
		t.Fatalf("expected compile error for invalid schema")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventDocumentEnrich, VersionV1, EnrichPayload{DocumentID: "d1", OwnerID: "u1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	var p EnrichPayload
	if err := back.Decode(&p); err != nil || p.DocumentID != "d1" {
		t.Fatalf("Decode: %+v %v", p, err)
	}
	retry := back.Retry()
	if retry.Attempt != 1 || retry.EventID == back.EventID {
		t.Fatalf("unexpected retry envelope %+v", retry)
	}
	if _, err := UnmarshalEnvelope([]byte(`{"event_id":"x","event_type":"y","payload_version":"v1"}`)); err == nil {
		t.Fatalf("expected missing data to be rejected")
	}
}

func TestDecodeEntry(t *testing.T) {
	env, _ := NewEnvelope(EventDocumentEnrich, VersionV1, EnrichPayload{DocumentID: "d1", OwnerID: "u1"})
	raw, _ := env.Marshal()
	if _, _, err := decodeEntry(map[string]interface{}{"envelope": string(raw)}); err != nil {
		t.Fatalf("string entry: %v", err)
	}
	if _, reason, err := decodeEntry(map[string]interface{}{"other": "x"}); err == nil || reason != "missing" {
		t.Fatalf("expected missing reason, got %q %v", reason, err)
	}
	if _, reason, err := decodeEntry(map[string]interface{}{"envelope": "{"}); err == nil || reason != "envelope" {
		t.Fatalf("expected envelope reason, got %q %v", reason, err)
	}
}

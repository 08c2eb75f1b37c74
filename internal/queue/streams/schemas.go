package streams

import "errors"

const (
	// EventDocumentEnrich asks a worker to run the enrichment pipeline for a document.
	EventDocumentEnrich = "document.enrich"
	// EventDocumentEnriched announces a finished enrichment.
	EventDocumentEnriched = "document.enriched"
	// VersionV1 is the only payload version so far.
	VersionV1 = "v1"
)

// Reasons carried in EnrichPayload.Reason.
const (
	ReasonUpload    = "upload"
	ReasonReprocess = "reprocess"
	ReasonSweep     = "sweep"
)

// EnrichPayload is the document.enrich v1 body.
type EnrichPayload struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	Reason     string `json:"reason"`
}

// EnrichedPayload is the document.enriched v1 body.
type EnrichedPayload struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	Status     string `json:"status"`
}

// Definition is one registry entry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventDocumentEnrich,
		Version:   VersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["document_id", "owner_id"],
  "properties": {
    "document_id": {"type": "string", "minLength": 1},
    "owner_id": {"type": "string", "minLength": 1},
    "reason": {"type": "string", "enum": ["upload", "reprocess", "sweep"]}
  },
  "additionalProperties": false
}`),
	},
	{
		EventType: EventDocumentEnriched,
		Version:   VersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["document_id", "owner_id", "status"],
  "properties": {
    "document_id": {"type": "string", "minLength": 1},
    "owner_id": {"type": "string", "minLength": 1},
    "status": {"type": "string", "enum": ["ready", "failed"]}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns a copy of the built-in schemas.
func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads the built-in schemas into reg.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return errors.New("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return err
		}
	}
	return nil
}

// NewBaseRegistry returns a registry preloaded with the built-in schemas.
func NewBaseRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const envelopeSchema = `{
  "type": "object",
  "required": ["kind", "actorId", "originTimestamp"],
  "properties": {
    "kind": {"type": "string", "minLength": 1},
    "actorId": {"type": "string", "minLength": 1},
    "originTimestamp": {"type": "number"},
    "scope": {
      "type": ["object", "null"],
      "properties": {
        "teamId": {"type": "string"},
        "projectId": {"type": "string"}
      }
    }
  }
}`

const taskPayloadSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "progress": {"type": "number"},
    "modifiedAt": {"type": "number"}
  }
}`

const deletePayloadSchema = `{
  "type": "object",
  "required": ["taskId"],
  "properties": {"taskId": {"type": "string", "minLength": 1}}
}`

const memberPayloadSchema = `{
  "type": "object",
  "required": ["actorId"],
  "properties": {"actorId": {"type": "string", "minLength": 1}}
}`

const conflictPayloadSchema = `{
  "type": "object",
  "required": ["resourceId"],
  "properties": {"resourceId": {"type": "string", "minLength": 1}}
}`

var (
	envelopeValidator = mustSchema(envelopeSchema)
	payloadValidators = map[Kind]*gojsonschema.Schema{
		KindTaskUpdate:       mustSchema(taskPayloadSchema),
		KindTaskCreate:       mustSchema(taskPayloadSchema),
		KindTaskDelete:       mustSchema(deletePayloadSchema),
		KindMemberJoin:       mustSchema(memberPayloadSchema),
		KindMemberLeave:      mustSchema(memberPayloadSchema),
		KindConflictDetected: mustSchema(conflictPayloadSchema),
	}
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("protocol: invalid schema: %v", err))
	}
	return s
}

// Parse validates raw and decodes it into an Envelope. Unknown kinds are
// returned as-is so callers can ignore them. Every failure is a *ParseError.
func Parse(raw []byte) (Envelope, error) {
	if !json.Valid(raw) {
		return Envelope{}, &ParseError{Reason: "malformed json"}
	}
	if err := validate(envelopeValidator, raw); err != nil {
		return Envelope{}, &ParseError{Reason: "invalid envelope", Err: err}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &ParseError{Reason: "decode envelope", Err: err}
	}

	schema, ok := payloadValidators[env.Kind]
	if !ok {
		return env, nil
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return Envelope{}, &ParseError{Reason: fmt.Sprintf("%s envelope has no payload", env.Kind)}
	}
	if err := validate(schema, env.Payload); err != nil {
		return Envelope{}, &ParseError{Reason: fmt.Sprintf("invalid %s payload", env.Kind), Err: err}
	}
	return env, nil
}

func validate(schema *gojsonschema.Schema, doc []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// recordSchema accepts any object whose known fields have a usable shape.
const recordSchema = `{
  "type": "object",
  "properties": {
    "ticker":           {"type": ["string", "null"]},
    "symbol":           {"type": ["string", "null"]},
    "asset":            {"type": ["object", "null"]},
    "representative":   {"type": ["string", "null"]},
    "senator":          {"type": ["string", "null"]},
    "name":             {"type": ["string", "null"]},
    "owner_name":       {"type": ["string", "null"]},
    "party_name":       {"type": ["string", "null"]},
    "type":             {"type": ["string", "null"]},
    "transaction":      {"type": ["string", "null"]},
    "transaction_type": {"type": ["string", "null"]},
    "transaction_date": {"type": ["string", "null"]},
    "transactionDate":  {"type": ["string", "null"]},
    "trade_date":       {"type": ["string", "null"]},
    "disclosure_date":  {"type": ["string", "null"]},
    "filing_date":      {"type": ["string", "null"]},
    "disclosureDate":   {"type": ["string", "null"]},
    "filed_at":         {"type": ["string", "null"]},
    "party":            {"type": ["string", "null"]},
    "affiliation":      {"type": ["string", "null"]},
    "amount":           {"type": ["string", "number", "null"]}
  }
}`

type recordValidator struct {
	schema *jsonschema.Schema
}

func newRecordValidator() (*recordValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("feed_record.json", strings.NewReader(recordSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("feed_record.json")
	if err != nil {
		return nil, fmt.Errorf("compile feed record schema: %w", err)
	}
	return &recordValidator{schema: schema}, nil
}

func (v *recordValidator) Validate(raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return v.schema.Validate(doc)
}

var defaultValidator = func() *recordValidator {
	v, err := newRecordValidator()
	if err != nil {
		panic(err)
	}
	return v
}()

// Validate checks a raw record against the feed record schema.
func Validate(raw json.RawMessage) error {
	return defaultValidator.Validate(raw)
}

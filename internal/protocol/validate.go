package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	//go:embed schemas/request.schema.json
	requestSchemaJSON string
	//go:embed schemas/result.schema.json
	resultSchemaJSON string
)

var (
	schemasOnce   sync.Once
	requestSchema *jsonschema.Schema
	resultSchema  *jsonschema.Schema
	schemasErr    error
)

func loadSchemas() error {
	schemasOnce.Do(func() {
		requestSchema, schemasErr = jsonschema.CompileString("request.schema.json", requestSchemaJSON)
		if schemasErr != nil {
			return
		}
		resultSchema, schemasErr = jsonschema.CompileString("result.schema.json", resultSchemaJSON)
	})
	return schemasErr
}

// ValidateRequest checks a raw coordinator -> worker message against the
// request schema.
func ValidateRequest(raw []byte) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	return validate(requestSchema, raw)
}

// ValidateResult checks a raw worker -> coordinator result message.
func ValidateResult(raw []byte) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	return validate(resultSchema, raw)
}

func validate(s *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return s.Validate(v)
}

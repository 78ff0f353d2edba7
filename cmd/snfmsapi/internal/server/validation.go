package server

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names, one per embedded file.
const (
	SchemaLogin          = "login"
	SchemaUserCreate     = "user_create"
	SchemaRoleAssign     = "role_assign"
	SchemaAttributeSet   = "attribute_set"
	SchemaRoleCreate     = "role_create"
	SchemaRoleClone      = "role_clone"
	SchemaSelection      = "selection"
	SchemaAttributeNames = "attribute_names"
	SchemaMessageCreate  = "message_create"
)

// BodyValidator checks request bodies against the embedded JSON schemas.
// Schemas are compiled once at construction.
type BodyValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewBodyValidator compiles every embedded schema.
func NewBodyValidator() (*BodyValidator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)

	v := &BodyValidator{schemas: make(map[string]*jsonschema.Schema, len(entries))}
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", entry.Name(), err)
		}
		if err := compiler.AddResource(entry.Name(), parsed); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", entry.Name(), err)
		}
		schema, err := compiler.Compile(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", entry.Name(), err)
		}
		v.schemas[strings.TrimSuffix(entry.Name(), ".json")] = schema
	}
	return v, nil
}

// Validate checks body against the named schema. Violations wrap
// errs.ErrInvalidInput.
func (v *BodyValidator) Validate(name string, body []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", errs.ErrInvalidInput, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s", errs.ErrInvalidInput, formatValidationError(err))
	}
	return nil
}

// formatValidationError renders the JSON path of the first violation,
// e.g. "validation failed at '$.role_name': ...".
func formatValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	msg := ve.Error()

	// Locate the deepest cause; the root only says the document is invalid.
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	loc := "$"
	var parts []string
	for _, part := range ve.InstanceLocation {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) > 0 {
		loc = "$." + strings.Join(parts, ".")
	}

	if len(msg) > 200 {
		msg = msg[:200] + "... (truncated)"
	}
	return fmt.Sprintf("validation failed at '%s': %s", loc, msg)
}

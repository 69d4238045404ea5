package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// maxBodyBytes bounds request bodies; photos arrive base64-encoded inline.
const maxBodyBytes = 12 << 20

var (
	checkInSchema = mustCompile("schemas/checkin.schema.json")
	sessionSchema = mustCompile("schemas/session.schema.json")
)

func mustCompile(name string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(name, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return s
}

// errInvalidJSON marks a body that is not JSON at all.
var errInvalidJSON = errors.New("request body must be valid JSON")

// decodeValidated reads the body, validates it against schema and decodes it
// into dst. Schema violations are returned as *jsonschema.ValidationError.
func decodeValidated(body io.Reader, schema *jsonschema.Schema, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return errInvalidJSON
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errInvalidJSON
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	return nil
}

// schemaMessage flattens a validation error to its most specific causes.
func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaves := leafCauses(ve)
	msg := ""
	for i, l := range leaves {
		if i == 3 {
			break
		}
		if i > 0 {
			msg += "; "
		}
		loc := l.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		msg += loc + ": " + l.Message
	}
	return msg
}

func leafCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leafCauses(c)...)
	}
	return out
}

package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"dicomvol/internal/logging"
)

// DescriptionFile is the optional sidecar name inside a data root
const DescriptionFile = "descr.json"

// A description is one object, or an array of objects of which the first is used.
const descriptionSchema = `{
	"oneOf": [
		{"type": "object"},
		{"type": "array", "minItems": 1, "items": {"type": "object"}}
	]
}`

var sidecarSchema = jsonschema.MustCompileString("descr.schema.json", descriptionSchema)

// ReadDescription loads a description sidecar. A missing file yields an empty
// document. Numbers are kept as json.Number so they are written back unchanged.
func ReadDescription(path string, logger *slog.Logger) (Document, error) {
	logger = logging.OrDefault(logger)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read description: %w", err)
	}
	return ParseDescription(data, logger)
}

// ParseDescription decodes and validates description JSON
func ParseDescription(data []byte, logger *slog.Logger) (Document, error) {
	logger = logging.OrDefault(logger)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse description: %w", err)
	}
	if err := sidecarSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid description: %w", err)
	}

	switch v := raw.(type) {
	case map[string]any:
		return Document(v), nil
	case []any:
		if len(v) > 1 {
			logger.Warn("description holds several objects, using the first", "count", len(v))
		}
		return Document(v[0].(map[string]any)), nil
	}
	return nil, fmt.Errorf("invalid description: unexpected %T", raw)
}

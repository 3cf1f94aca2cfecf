// Package output reads the input description sidecar and writes the
// structured output document of a pipeline run.
package output

import (
	"fmt"
	"sort"
	"strings"

	"dicomvol/pkg/config"
)

// Shape keys set on every output document
const (
	KeyShapeX = "shape_x"
	KeyShapeY = "shape_y"
	KeyShapeZ = "shape_z"
)

// Document is the structured output: the description plus computed fields
type Document map[string]any

// Clone returns a shallow copy of d
func (d Document) Clone() Document {
	c := make(Document, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// SetShape records the volume dimensions
func (d Document) SetShape(shape [3]int) {
	d[KeyShapeX] = shape[0]
	d[KeyShapeY] = shape[1]
	d[KeyShapeZ] = shape[2]
}

// MetricValue builds the value stored for a metric. A bare target yields the
// number itself. A record target yields an object holding the static fields,
// the description fields named in From, and the number under "value".
// Description keys missing from d are returned in missing.
func (d Document) MetricValue(target config.MetricTarget, value float64) (v any, missing []string) {
	if !target.Record() {
		return value, nil
	}

	rec := make(map[string]any, len(target.From)+len(target.Static)+1)
	for field, literal := range target.Static {
		rec[field] = literal
	}
	for field, key := range target.From {
		src, ok := d[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		rec[field] = src
	}
	rec["value"] = value
	sort.Strings(missing)
	return rec, missing
}

// SetMetric stores a metric at the target's dot separated path, creating
// intermediate objects as needed.
func (d Document) SetMetric(target config.MetricTarget, value float64) (missing []string, err error) {
	v, missing := d.MetricValue(target, value)
	if err := d.SetPath(target.Path, v); err != nil {
		return missing, err
	}
	return missing, nil
}

// SetPath stores v at a dot separated key path
func (d Document) SetPath(path string, v any) error {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("invalid key path %q", path)
		}
	}

	cur := map[string]any(d)
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p]
		if !ok {
			child := make(map[string]any)
			cur[p] = child
			cur = child
			continue
		}
		switch m := next.(type) {
		case map[string]any:
			cur = m
		case Document:
			cur = m
		default:
			return fmt.Errorf("key path %q: %q is not an object", path, p)
		}
	}
	cur[parts[len(parts)-1]] = v
	return nil
}

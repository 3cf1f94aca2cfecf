package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Metadata maps DICOM keywords (e.g. "SliceLocation") to decoded element values.
// Values are []string, []int or []float64, matching what the DICOM decoder yields.
type Metadata map[string]any

// Floats returns the numeric values of a metadata element. String values
// (DS and IS elements are stored as strings) are parsed as decimals.
func (m Metadata) Floats(name string) ([]float64, bool) {
	raw, ok := m[name]
	if !ok {
		return nil, false
	}

	switch v := raw.(type) {
	case []float64:
		if len(v) == 0 {
			return nil, false
		}
		return v, true
	case []int:
		if len(v) == 0 {
			return nil, false
		}
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, true
	case []string:
		var out []float64
		for _, s := range v {
			// Multi-valued strings may arrive as "0.5\0.5"
			for _, part := range strings.Split(s, "\\") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				f, err := strconv.ParseFloat(part, 64)
				if err != nil {
					return nil, false
				}
				out = append(out, f)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	case float64:
		return []float64{v}, true
	case int:
		return []float64{float64(v)}, true
	}
	return nil, false
}

// Has reports whether an element is present with at least one non-blank value.
// A present element whose values do not parse still counts.
func (m Metadata) Has(name string) bool {
	raw, ok := m[name]
	if !ok || raw == nil {
		return false
	}
	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			if strings.Trim(s, " \\\x00") != "" {
				return true
			}
		}
		return false
	case []int:
		return len(v) > 0
	case []float64:
		return len(v) > 0
	}
	return true
}

// Float returns the first numeric value of a metadata element.
func (m Metadata) Float(name string) (float64, bool) {
	vals, ok := m.Floats(name)
	if !ok {
		return 0, false
	}
	return vals[0], true
}

// String returns the first value of a metadata element rendered as text.
func (m Metadata) String(name string) (string, bool) {
	raw, ok := m[name]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case []string:
		if len(v) == 0 {
			return "", false
		}
		return strings.TrimSpace(v[0]), true
	case []int:
		if len(v) == 0 {
			return "", false
		}
		return strconv.Itoa(v[0]), true
	case []float64:
		if len(v) == 0 {
			return "", false
		}
		return strconv.FormatFloat(v[0], 'g', -1, 64), true
	case string:
		return v, true
	}
	return fmt.Sprint(raw), true
}

// Shape is the (rows, cols) extent of a slice's pixel buffer.
type Shape struct {
	Rows int
	Cols int
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d,%d)", s.Rows, s.Cols)
}

// SliceRecord represents one DICOM instance carrying a 2-D image
type SliceRecord struct {
	// Path is the file the record was decoded from
	Path string

	// Metadata holds the decoded non-pixel elements by keyword
	Metadata Metadata

	// Rows and Cols are the pixel buffer dimensions
	Rows int
	Cols int

	// Pixels is the first frame in row-major order, len == Rows*Cols
	Pixels []float64
}

// Shape returns the pixel buffer shape
func (s *SliceRecord) Shape() Shape {
	return Shape{Rows: s.Rows, Cols: s.Cols}
}

// Aspects holds the display scaling factors for the three orthogonal planes
type Aspects struct {
	Axial    float64 `json:"axial"`
	Sagittal float64 `json:"sagittal"`
	Coronal  float64 `json:"coronal"`
}

// SeriesVolume represents a 3D volume stacked from ordered slices
type SeriesVolume struct {
	// Data is the volume as a 1D array, one plane after another:
	// index = z*Rows*Cols + r*Cols + c
	Data []float64

	// Rows, Cols are the in-plane dimensions, Slices the number of planes
	Rows   int
	Cols   int
	Slices int

	// PixelSpacing (row, col) and SliceThickness as taken from the first slice
	PixelSpacing   [2]float64
	SliceThickness float64

	// Aspects derived from the spacing above
	Aspects Aspects
}

// NewSeriesVolume allocates a zero-filled volume
func NewSeriesVolume(rows, cols, slices int) *SeriesVolume {
	return &SeriesVolume{
		Data:   make([]float64, rows*cols*slices),
		Rows:   rows,
		Cols:   cols,
		Slices: slices,
	}
}

// Shape returns (rows, cols, slices)
func (v *SeriesVolume) Shape() [3]int {
	return [3]int{v.Rows, v.Cols, v.Slices}
}

func (v *SeriesVolume) index(r, c, z int) int {
	return z*v.Rows*v.Cols + r*v.Cols + c
}

// At returns the voxel at row r, column c, plane z
func (v *SeriesVolume) At(r, c, z int) float64 {
	return v.Data[v.index(r, c, z)]
}

// Set writes the voxel at row r, column c, plane z
func (v *SeriesVolume) Set(r, c, z int, value float64) {
	v.Data[v.index(r, c, z)] = value
}

// Plane returns plane z as a row-major slice sharing the volume's storage
func (v *SeriesVolume) Plane(z int) []float64 {
	n := v.Rows * v.Cols
	return v.Data[z*n : (z+1)*n]
}

package reconstruction

import (
	"fmt"
	"math"

	"dicomvol/internal/models"
	"dicomvol/pkg/config"
)

// Spacing is the physical sampling of a series
type Spacing struct {
	// Pixel is the (row, column) spacing within a slice
	Pixel [2]float64

	// Thickness is the distance between slice planes
	Thickness float64
}

// SpacingOf reads PixelSpacing and SliceThickness from a slice. With
// config.SpacingDefault absent values become [1,1] and 1; with
// config.SpacingRequire they are an error. A value that is present but does
// not parse is ErrMalformedSpacing under either policy.
func SpacingOf(s *models.SliceRecord, policy string) (Spacing, error) {
	sp := Spacing{Pixel: [2]float64{1, 1}, Thickness: 1}
	require := policy == config.SpacingRequire

	switch ps, ok := s.Metadata.Floats("PixelSpacing"); {
	case ok:
		if len(ps) < 2 {
			return sp, fmt.Errorf("PixelSpacing has %d values, want 2: %w", len(ps), ErrMalformedSpacing)
		}
		sp.Pixel = [2]float64{ps[0], ps[1]}
	case s.Metadata.Has("PixelSpacing"):
		return sp, fmt.Errorf("PixelSpacing %v in %s is not numeric: %w", s.Metadata["PixelSpacing"], s.Path, ErrMalformedSpacing)
	case require:
		return sp, fmt.Errorf("PixelSpacing missing in %s: %w", s.Path, ErrMalformedSpacing)
	}

	switch st, ok := s.Metadata.Float("SliceThickness"); {
	case ok:
		sp.Thickness = st
	case s.Metadata.Has("SliceThickness"):
		return sp, fmt.Errorf("SliceThickness %v in %s is not numeric: %w", s.Metadata["SliceThickness"], s.Path, ErrMalformedSpacing)
	case require:
		return sp, fmt.Errorf("SliceThickness missing in %s: %w", s.Path, ErrMalformedSpacing)
	}
	return sp, nil
}

// Aspects derives the axial, sagittal and coronal display aspects.
// A zero divisor or a non-finite or non-positive result is ErrMalformedSpacing.
func (sp Spacing) Aspects() (models.Aspects, error) {
	if sp.Pixel[0] == 0 || sp.Thickness == 0 {
		return models.Aspects{}, fmt.Errorf("zero spacing %v / thickness %v: %w", sp.Pixel, sp.Thickness, ErrMalformedSpacing)
	}
	a := models.Aspects{
		Axial:    sp.Pixel[1] / sp.Pixel[0],
		Sagittal: sp.Pixel[1] / sp.Thickness,
		Coronal:  sp.Pixel[0] / sp.Thickness,
	}
	for _, v := range []float64{a.Axial, a.Sagittal, a.Coronal} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return models.Aspects{}, fmt.Errorf("aspect %v from spacing %v / thickness %v: %w", v, sp.Pixel, sp.Thickness, ErrMalformedSpacing)
		}
	}
	return a, nil
}

// Assemble stacks ordered slices into a volume of shape (rows, cols, len(ordered)).
// Plane i is an exact copy of ordered[i]. Spacing comes from ordered[0] only.
func Assemble(ordered []*models.SliceRecord, spacingPolicy string) (*models.SeriesVolume, error) {
	if len(ordered) == 0 {
		return nil, ErrEmptyInput
	}
	first := ordered[0]

	sp, err := SpacingOf(first, spacingPolicy)
	if err != nil {
		return nil, err
	}
	aspects, err := sp.Aspects()
	if err != nil {
		return nil, err
	}

	vol := models.NewSeriesVolume(first.Rows, first.Cols, len(ordered))
	for i, s := range ordered {
		if s.Shape() != first.Shape() {
			return nil, fmt.Errorf("slice %s has shape %s, want %s", s.Path, s.Shape(), first.Shape())
		}
		if len(s.Pixels) != s.Rows*s.Cols {
			return nil, fmt.Errorf("slice %s has %d samples, want %d", s.Path, len(s.Pixels), s.Rows*s.Cols)
		}
		copy(vol.Plane(i), s.Pixels)
	}

	vol.PixelSpacing = sp.Pixel
	vol.SliceThickness = sp.Thickness
	vol.Aspects = aspects
	return vol, nil
}

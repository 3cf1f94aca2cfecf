// Package visualization renders orthogonal cross-sections of an assembled volume.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"

	"dicomvol/internal/models"
)

// Planes of a series volume
const (
	Axial    = "axial"    // fixed slice index: rows x cols
	Sagittal = "sagittal" // fixed column: rows x slices
	Coronal  = "coronal"  // fixed row: cols x slices
)

// Viewer extracts display images from a series volume
type Viewer struct {
	vol *models.SeriesVolume

	// intensity window mapped onto the 16-bit gray range
	lo, hi float64
}

// NewViewer creates a viewer whose intensity window spans the volume's range
func NewViewer(vol *models.SeriesVolume) *Viewer {
	v := &Viewer{vol: vol}
	if len(vol.Data) > 0 {
		v.lo = floats.Min(vol.Data)
		v.hi = floats.Max(vol.Data)
	}
	return v
}

// Extent returns the number of positions along a plane's fixed axis
func (v *Viewer) Extent(plane string) (int, error) {
	switch plane {
	case Axial:
		return v.vol.Slices, nil
	case Sagittal:
		return v.vol.Cols, nil
	case Coronal:
		return v.vol.Rows, nil
	}
	return 0, fmt.Errorf("invalid plane: %s (must be %s, %s or %s)", plane, Axial, Sagittal, Coronal)
}

// Aspect returns the display aspect (height per width unit) of a plane
func (v *Viewer) Aspect(plane string) float64 {
	switch plane {
	case Sagittal:
		return v.vol.Aspects.Sagittal
	case Coronal:
		return v.vol.Aspects.Coronal
	}
	return v.vol.Aspects.Axial
}

func (v *Viewer) gray(value float64) color.Gray16 {
	if v.hi <= v.lo {
		return color.Gray16{}
	}
	n := (value - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, math.Round(n*65535))))}
}

// ExtractSlice extracts a 2D cross-section at position along the plane's fixed axis
func (v *Viewer) ExtractSlice(plane string, position int) (*image.Gray16, error) {
	extent, err := v.Extent(plane)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= extent {
		return nil, fmt.Errorf("position %d outside [0,%d) for %s plane", position, extent, plane)
	}

	vol := v.vol
	var img *image.Gray16
	switch plane {
	case Axial:
		img = image.NewGray16(image.Rect(0, 0, vol.Cols, vol.Rows))
		for r := 0; r < vol.Rows; r++ {
			for c := 0; c < vol.Cols; c++ {
				img.SetGray16(c, r, v.gray(vol.At(r, c, position)))
			}
		}
	case Sagittal:
		img = image.NewGray16(image.Rect(0, 0, vol.Slices, vol.Rows))
		for r := 0; r < vol.Rows; r++ {
			for z := 0; z < vol.Slices; z++ {
				img.SetGray16(z, r, v.gray(vol.At(r, position, z)))
			}
		}
	case Coronal:
		img = image.NewGray16(image.Rect(0, 0, vol.Slices, vol.Cols))
		for c := 0; c < vol.Cols; c++ {
			for z := 0; z < vol.Slices; z++ {
				img.SetGray16(z, c, v.gray(vol.At(position, c, z)))
			}
		}
	}
	return img, nil
}

// Scale stretches img vertically by aspect so physical proportions display correctly
func Scale(img image.Image, aspect float64) image.Image {
	b := img.Bounds()
	h := int(math.Round(float64(b.Dy()) * aspect))
	if h < 1 {
		h = 1
	}
	if h == b.Dy() {
		return img
	}
	dst := image.NewGray16(image.Rect(0, 0, b.Dx(), h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// SaveSlice saves an image as PNG
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveOrthogonal writes the three mid-planes, aspect corrected, as
// axial.png, sagittal.png and coronal.png into outputDir.
func (v *Viewer) SaveOrthogonal(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for _, plane := range []string{Axial, Sagittal, Coronal} {
		extent, _ := v.Extent(plane)
		img, err := v.ExtractSlice(plane, extent/2)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, plane+".png")
		if err := SaveSlice(Scale(img, v.Aspect(plane)), filename); err != nil {
			return fmt.Errorf("save %s: %w", plane, err)
		}
	}
	return nil
}

// SaveSliceSequence extracts and saves every cross-section along the specified plane
func (v *Viewer) SaveSliceSequence(plane string, outputDir string) error {
	extent, err := v.Extent(plane)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < extent; pos++ {
		img, err := v.ExtractSlice(plane, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", plane, pos))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

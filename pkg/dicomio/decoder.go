// Package dicomio turns DICOM files into slice records.
package dicomio

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomvol/internal/models"
)

// ErrNoPixelData marks a parsed DICOM instance that carries no usable image.
var ErrNoPixelData = errors.New("no pixel data")

// Decoder turns one file into a slice record
type Decoder interface {
	Decode(path string) (*models.SliceRecord, error)
}

// DICOMDecoder decodes files with github.com/suyashkumar/dicom.
// Only the first frame and the first sample of each pixel are kept.
type DICOMDecoder struct{}

// Decode parses path and extracts its metadata and first frame
func (DICOMDecoder) Decode(path string) (*models.SliceRecord, error) {
	dataset, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return FromDataset(path, dataset)
}

// FromDataset builds a slice record from an already parsed dataset
func FromDataset(path string, dataset dicom.Dataset) (*models.SliceRecord, error) {
	pixelDataElement, err := dataset.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoPixelData)
	}

	rows, cols, pixels, err := firstFrame(dataset, pixelDataElement)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &models.SliceRecord{
		Path:     path,
		Metadata: Metadata(dataset),
		Rows:     rows,
		Cols:     cols,
		Pixels:   pixels,
	}, nil
}

// Metadata collects every top level string, integer and float element by keyword.
// Pixel data, byte blobs and sequences are left out.
func Metadata(dataset dicom.Dataset) models.Metadata {
	md := make(models.Metadata, len(dataset.Elements))
	for _, elem := range dataset.Elements {
		if elem == nil || elem.Value == nil || elem.Tag == tag.PixelData {
			continue
		}
		name := elem.Tag.String()
		if info, err := tag.Find(elem.Tag); err == nil && info.Name != "" {
			name = info.Name
		}

		switch elem.Value.ValueType() {
		case dicom.Strings:
			md[name] = dicom.MustGetStrings(elem.Value)
		case dicom.Ints:
			md[name] = dicom.MustGetInts(elem.Value)
		case dicom.Floats:
			md[name] = dicom.MustGetFloats(elem.Value)
		}
	}
	return md
}

func intElement(dataset dicom.Dataset, t tag.Tag, fallback int) int {
	elem, err := dataset.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return fallback
	}
	switch elem.Value.ValueType() {
	case dicom.Ints:
		if vals := dicom.MustGetInts(elem.Value); len(vals) > 0 {
			return vals[0]
		}
	case dicom.Strings:
		var v int
		if vals := dicom.MustGetStrings(elem.Value); len(vals) > 0 {
			if _, err := fmt.Sscanf(vals[0], "%d", &v); err == nil {
				return v
			}
		}
	}
	return fallback
}

func firstFrame(dataset dicom.Dataset, pixelDataElement *dicom.Element) (int, int, []float64, error) {
	if pixelDataElement.Value == nil || pixelDataElement.Value.ValueType() != dicom.PixelData {
		return 0, 0, nil, ErrNoPixelData
	}
	pixelDataInfo := dicom.MustGetPixelDataInfo(pixelDataElement.Value)
	if len(pixelDataInfo.Frames) == 0 {
		return 0, 0, nil, ErrNoPixelData
	}
	fr := pixelDataInfo.Frames[0]

	if fr.Encapsulated {
		img, err := fr.GetImage()
		if err != nil {
			return 0, 0, nil, fmt.Errorf("decode encapsulated frame: %w", err)
		}
		return imageToFloat(img)
	}

	nativeFrame, err := fr.GetNativeFrame()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("read native frame: %w", err)
	}
	rows, cols := nativeFrame.Rows, nativeFrame.Cols
	if rows <= 0 || cols <= 0 || len(nativeFrame.Data) < rows*cols {
		return 0, 0, nil, ErrNoPixelData
	}

	signed := intElement(dataset, tag.PixelRepresentation, 0) == 1
	bitsStored := intElement(dataset, tag.BitsStored, nativeFrame.BitsPerSample)

	pixels := make([]float64, rows*cols)
	for i := range pixels {
		sample := nativeFrame.Data[i]
		if len(sample) == 0 {
			return 0, 0, nil, ErrNoPixelData
		}
		v := sample[0]
		if signed {
			v = signExtend(v, bitsStored)
		}
		pixels[i] = float64(v)
	}
	return rows, cols, pixels, nil
}

// signExtend reinterprets the low bits of v as a two's complement number
func signExtend(v, bits int) int {
	if bits <= 0 || bits >= 63 {
		return v
	}
	mask := (1 << bits) - 1
	v &= mask
	if v&(1<<(bits-1)) != 0 {
		v -= 1 << bits
	}
	return v
}

func imageToFloat(img image.Image) (int, int, []float64, error) {
	bounds := img.Bounds()
	rows, cols := bounds.Dy(), bounds.Dx()
	if rows <= 0 || cols <= 0 {
		return 0, 0, nil, ErrNoPixelData
	}
	pixels := make([]float64, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			pixels[y*cols+x] = float64(g.Y)
		}
	}
	return rows, cols, pixels, nil
}

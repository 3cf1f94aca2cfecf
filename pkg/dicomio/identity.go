package dicomio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrIncompleteIdentity means one of the patient, study or series identifiers is missing.
var ErrIncompleteIdentity = errors.New("incomplete study identity")

// Identity locates a file within the patient / study / series hierarchy
type Identity struct {
	PatientID         string `json:"PatientID"`
	StudyInstanceUID  string `json:"StudyInstanceUID"`
	SeriesInstanceUID string `json:"SeriesInstanceUID"`
}

// Key concatenates the three identifiers
func (id Identity) Key() string {
	return id.PatientID + id.StudyInstanceUID + id.SeriesInstanceUID
}

// IdentifyFunc reads the identity of one file
type IdentifyFunc func(path string) (Identity, error)

// Identify parses the header of path, skipping pixel data, and returns its identity
func Identify(path string) (Identity, error) {
	dataset, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return Identity{}, fmt.Errorf("parse %s: %w", path, err)
	}

	var id Identity
	var ok bool
	if id.PatientID, ok = StringValue(dataset, tag.PatientID); !ok {
		return id, fmt.Errorf("%s: PatientID: %w", path, ErrIncompleteIdentity)
	}
	if id.StudyInstanceUID, ok = StringValue(dataset, tag.StudyInstanceUID); !ok {
		return id, fmt.Errorf("%s: StudyInstanceUID: %w", path, ErrIncompleteIdentity)
	}
	if id.SeriesInstanceUID, ok = StringValue(dataset, tag.SeriesInstanceUID); !ok {
		return id, fmt.Errorf("%s: SeriesInstanceUID: %w", path, ErrIncompleteIdentity)
	}
	return id, nil
}

// StringValue returns the first string value of an element
func StringValue(dataset dicom.Dataset, t tag.Tag) (string, bool) {
	elem, err := dataset.FindElementByTag(t)
	if err != nil || elem.Value == nil || elem.Value.ValueType() != dicom.Strings {
		return "", false
	}
	vals := dicom.MustGetStrings(elem.Value)
	if len(vals) == 0 {
		return "", false
	}
	// Strings are padded to even length with spaces or NULs
	return strings.TrimRight(vals[0], " \x00"), true
}

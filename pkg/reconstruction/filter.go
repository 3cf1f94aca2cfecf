package reconstruction

import (
	"fmt"

	"dicomvol/internal/models"
	"dicomvol/pkg/config"
)

// FilterResult is the outcome of shape filtering
type FilterResult struct {
	// Kept are the slices matching Reference, in their original order
	Kept []*models.SliceRecord

	// Reference is the shape every kept slice shares
	Reference models.Shape

	// Excluded counts the slices dropped for a different shape
	Excluded int
}

// ReferenceShape picks the shape slices are filtered against.
//
// With config.ReferenceFirst the first slice in read order wins; the reader
// enumerates in filename order, so the choice is deterministic for a given
// directory. With config.ReferenceMajority the most frequent shape wins and
// ties go to the shape seen first.
func ReferenceShape(slices []*models.SliceRecord, policy string) (models.Shape, error) {
	if len(slices) == 0 {
		return models.Shape{}, ErrEmptyInput
	}

	switch policy {
	case "", config.ReferenceFirst:
		return slices[0].Shape(), nil
	case config.ReferenceMajority:
		counts := make(map[models.Shape]int)
		var order []models.Shape
		for _, s := range slices {
			shape := s.Shape()
			if counts[shape] == 0 {
				order = append(order, shape)
			}
			counts[shape]++
		}
		best := order[0]
		for _, shape := range order[1:] {
			if counts[shape] > counts[best] {
				best = shape
			}
		}
		return best, nil
	}
	return models.Shape{}, fmt.Errorf("unknown reference policy %q", policy)
}

// FilterByShape keeps only slices whose pixel shape equals the reference shape
func FilterByShape(slices []*models.SliceRecord, policy string) (FilterResult, error) {
	ref, err := ReferenceShape(slices, policy)
	if err != nil {
		return FilterResult{}, err
	}

	res := FilterResult{Reference: ref}
	for _, s := range slices {
		if s.Shape() == ref {
			res.Kept = append(res.Kept, s)
		} else {
			res.Excluded++
		}
	}

	if len(res.Kept) == 0 {
		return res, fmt.Errorf("no slice matches reference shape %s: %w", ref, ErrEmptyInput)
	}
	return res, nil
}

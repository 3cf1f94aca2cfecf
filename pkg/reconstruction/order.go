package reconstruction

import (
	"log/slog"
	"math"
	"sort"

	"dicomvol/internal/logging"
	"dicomvol/internal/models"
)

// sortKeyElements are tried in order; the first usable one is the key
var sortKeyElements = []string{"SliceLocation", "InstanceNumber"}

// SortKey is SliceLocation when present, else InstanceNumber, else 0.
// It also returns the elements that were present but could not be parsed.
func SortKey(s *models.SliceRecord) (float64, []string) {
	var garbled []string
	for _, name := range sortKeyElements {
		if v, ok := s.Metadata.Float(name); ok && !math.IsNaN(v) {
			return v, garbled
		}
		if s.Metadata.Has(name) {
			garbled = append(garbled, name)
		}
	}
	return 0, garbled
}

// OrderSlices returns the slices sorted by SortKey. The sort is stable, so
// slices with equal keys keep their relative input order. The input is not
// modified. Unparseable location elements are logged at WARN.
func OrderSlices(slices []*models.SliceRecord, logger *slog.Logger) []*models.SliceRecord {
	logger = logging.OrDefault(logger)
	ordered := make([]*models.SliceRecord, len(slices))
	copy(ordered, slices)

	keys := make(map[*models.SliceRecord]float64, len(ordered))
	for _, s := range ordered {
		key, garbled := SortKey(s)
		if len(garbled) > 0 {
			logger.Warn("unparseable ordering metadata", "path", s.Path, "elements", garbled, "key", key)
		}
		keys[s] = key
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return keys[ordered[i]] < keys[ordered[j]]
	})
	return ordered
}

// Package analysis computes scalar summaries over an assembled volume.
package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"dicomvol/internal/models"
)

// SignalToNoise is the metric name for the whole-volume mean/std ratio
const SignalToNoise = "signal-to-noise"

// SafeRatio returns num/den, or sentinel when den is exactly zero.
func SafeRatio(num, den, sentinel float64) float64 {
	if den == 0 {
		return sentinel
	}
	return num / den
}

// SignalToNoiseRatio is the population mean divided by the population standard
// deviation of values. A zero deviation, or no values, yields 0.
func SignalToNoiseRatio(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return SafeRatio(mean, std, 0)
}

// Summary holds descriptive statistics of a volume's intensities
type Summary struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Summarize computes intensity statistics over every voxel
func Summarize(vol *models.SeriesVolume) Summary {
	if vol == nil || len(vol.Data) == 0 {
		return Summary{}
	}
	mean, std := stat.PopMeanStdDev(vol.Data, nil)
	return Summary{
		Min:    floats.Min(vol.Data),
		Max:    floats.Max(vol.Data),
		Mean:   mean,
		StdDev: std,
	}
}

// Func computes one named metric from a volume
type Func func(vol *models.SeriesVolume) float64

var registry = map[string]Func{
	SignalToNoise: func(vol *models.SeriesVolume) float64 {
		return SignalToNoiseRatio(vol.Data)
	},
	"mean": func(vol *models.SeriesVolume) float64 {
		return Summarize(vol).Mean
	},
	"std": func(vol *models.SeriesVolume) float64 {
		return Summarize(vol).StdDev
	},
}

// Lookup returns the metric function registered under name
func Lookup(name string) (Func, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", name)
	}
	return fn, nil
}

// Compute evaluates a registered metric and rejects non-finite results.
func Compute(name string, vol *models.SeriesVolume) (float64, error) {
	fn, err := Lookup(name)
	if err != nil {
		return 0, err
	}
	v := fn(vol)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("metric %q is not finite", name)
	}
	return v, nil
}

package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomvol/internal/models"
)

func TestSafeRatio(t *testing.T) {
	assert.Equal(t, 2.0, SafeRatio(4, 2, -1))
	assert.Equal(t, -1.0, SafeRatio(4, 0, -1))
	assert.Equal(t, 0.0, SafeRatio(0, 0, 0))
}

func TestSignalToNoiseConstantVolume(t *testing.T) {
	vol := models.NewSeriesVolume(4, 4, 3)
	for i := range vol.Data {
		vol.Data[i] = 7
	}

	snr, err := Compute(SignalToNoise, vol)
	require.NoError(t, err)
	assert.Equal(t, 0.0, snr)
}

func TestSignalToNoiseRatio(t *testing.T) {
	// mean 2, population std 1
	values := []float64{1, 3, 1, 3}
	assert.InDelta(t, 2.0, SignalToNoiseRatio(values), 1e-12)
	assert.Equal(t, 0.0, SignalToNoiseRatio(nil))
}

func TestSummarize(t *testing.T) {
	vol := models.NewSeriesVolume(1, 2, 2)
	copy(vol.Data, []float64{1, 3, 1, 3})

	s := Summarize(vol)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 3.0, s.Max)
	assert.InDelta(t, 2.0, s.Mean, 1e-12)
	assert.InDelta(t, 1.0, s.StdDev, 1e-12)
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestComputeUnknownMetric(t *testing.T) {
	_, err := Compute("entropy", models.NewSeriesVolume(1, 1, 1))
	assert.Error(t, err)
}

func TestComputeRejectsNonFinite(t *testing.T) {
	vol := models.NewSeriesVolume(1, 1, 2)
	vol.Data[0] = math.Inf(1)
	vol.Data[1] = 1
	_, err := Compute("mean", vol)
	assert.Error(t, err)
}

package reconstruction

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"dicomvol/internal/logging"
	"dicomvol/internal/models"
	"dicomvol/pkg/config"
	"dicomvol/pkg/output"
)

// stubDecoder serves prepared records by file name, rejecting unknown files
type stubDecoder map[string]*models.SliceRecord

func (s stubDecoder) Decode(path string) (*models.SliceRecord, error) {
	rec, ok := s[filepath.Base(path)]
	if !ok {
		return nil, fmt.Errorf("%s: not a DICOM file", path)
	}
	rec.Path = path
	return rec, nil
}

// createDataRoot lays out dataRoot/input with one empty file per record name
// plus the given extra junk files, and an optional descr.json.
func createDataRoot(t *testing.T, records stubDecoder, junk []string, descr string) string {
	t.Helper()
	root := t.TempDir()
	input := filepath.Join(root, InputSubdir)
	if err := os.MkdirAll(input, 0755); err != nil {
		t.Fatalf("Failed to create input dir: %v", err)
	}
	names := append([]string{}, junk...)
	for name := range records {
		names = append(names, name)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(input, name), []byte(name), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if descr != "" {
		if err := os.WriteFile(filepath.Join(root, output.DescriptionFile), []byte(descr), 0644); err != nil {
			t.Fatalf("Failed to write description: %v", err)
		}
	}
	return root
}

func newParams(root, out string, dec stubDecoder) *Params {
	params := ParamsFromConfig(config.DefaultConfig(), root, out)
	params.Decoder = dec
	return params
}

// TestProcessEndToEnd runs the full pipeline over a mixed-shape series
func TestProcessEndToEnd(t *testing.T) {
	records := stubDecoder{
		"01.dcm": makeSlice(4, 4, 1, models.Metadata{"SliceLocation": []string{"30"}, "PixelSpacing": []string{"0.5", "0.5"}, "SliceThickness": []string{"2"}}),
		"02.dcm": makeSlice(4, 4, 2, models.Metadata{"SliceLocation": []string{"10"}, "PixelSpacing": []string{"0.5", "0.5"}, "SliceThickness": []string{"2"}}),
		"03.dcm": makeSlice(2, 2, 9, models.Metadata{"SliceLocation": []string{"0"}}),
		"04.dcm": makeSlice(4, 4, 3, models.Metadata{"SliceLocation": []string{"20"}, "PixelSpacing": []string{"0.5", "0.5"}, "SliceThickness": []string{"2"}}),
	}
	root := createDataRoot(t, records, []string{"README.txt"}, `[{"PatientID":"X","ReferringPhysician":"baseline"}]`)
	out := filepath.Join(t.TempDir(), "out")

	res, err := NewReconstructor(newParams(root, out, records), logging.Discard()).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if res.Volume.Shape() != [3]int{4, 4, 3} {
		t.Errorf("Expected shape (4,4,3), got %v", res.Volume.Shape())
	}
	if res.Read != 4 || res.Excluded != 1 {
		t.Errorf("Expected 4 read and 1 excluded, got %d and %d", res.Read, res.Excluded)
	}
	// Ordered by SliceLocation 10, 20, 30
	for z, want := range []float64{2, 3, 1} {
		if got := res.Volume.At(0, 0, z); got != want {
			t.Errorf("Plane %d: expected fill %v, got %v", z, want, got)
		}
	}
	// The first ordered slice (location 10) carries spacing 0.5/0.5/2
	wantAspects := models.Aspects{Axial: 1, Sagittal: 0.25, Coronal: 0.25}
	if res.Volume.Aspects != wantAspects {
		t.Errorf("Expected aspects %+v, got %+v", wantAspects, res.Volume.Aspects)
	}

	data, err := os.ReadFile(filepath.Join(out, "output.json"))
	if err != nil {
		t.Fatalf("Output not written: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	want := map[string]any{
		"PatientID":          "X",
		"ReferringPhysician": "baseline",
		"shape_x":            4.0,
		"shape_y":            4.0,
		"shape_z":            3.0,
		"signal-to-noise": map[string]any{
			"record_id":         "X",
			"redcap_event_name": "baseline",
			"field_name":        "signal-to-noise",
			"value":             res.Document["signal-to-noise"].(map[string]any)["value"],
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output.json mismatch (-want +got):\n%s", diff)
	}
}

// TestProcessDescriptionRoundTrip checks that description fields survive unchanged
func TestProcessDescriptionRoundTrip(t *testing.T) {
	records := stubDecoder{"a.dcm": makeSlice(2, 3, 1, nil)}
	root := createDataRoot(t, records, nil, `{"PatientID":"X"}`)
	out := t.TempDir()

	params := newParams(root, out, records)
	params.Metrics = nil
	if _, err := NewReconstructor(params, logging.Discard()).Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(out, "output.json"))
	if err != nil {
		t.Fatalf("Output not written: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	want := map[string]any{"PatientID": "X", "shape_x": 2.0, "shape_y": 3.0, "shape_z": 1.0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output.json mismatch (-want +got):\n%s", diff)
	}
}

// TestProcessEmptyInput verifies an empty directory fails without writing output
func TestProcessEmptyInput(t *testing.T) {
	root := createDataRoot(t, stubDecoder{}, nil, "")
	out := t.TempDir()

	_, err := NewReconstructor(newParams(root, out, stubDecoder{}), logging.Discard()).Process()
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("Expected ErrEmptyInput, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageRead {
		t.Errorf("Expected a read stage error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "output.json")); !os.IsNotExist(err) {
		t.Errorf("No output file may be written on empty input")
	}
}

// TestProcessMalformedSpacing verifies zero or unparseable spacing aborts before writing
func TestProcessMalformedSpacing(t *testing.T) {
	cases := map[string]models.Metadata{
		"zero":        {"PixelSpacing": []string{"0", "1"}},
		"unparseable": {"PixelSpacing": []string{"0.5", "abc"}, "SliceThickness": []string{"n/a"}},
	}
	for name, md := range cases {
		records := stubDecoder{"a.dcm": makeSlice(2, 2, 1, md)}
		root := createDataRoot(t, records, nil, "")
		out := t.TempDir()

		_, err := NewReconstructor(newParams(root, out, records), logging.Discard()).Process()
		if !errors.Is(err, ErrMalformedSpacing) {
			t.Fatalf("%s: expected ErrMalformedSpacing, got %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(out, "output.json")); !os.IsNotExist(err) {
			t.Errorf("%s: no output file may be written on a fatal error", name)
		}
	}
}

// TestProcessOutputDirPolicy checks both settings of AbortOnMkdirError
func TestProcessOutputDirPolicy(t *testing.T) {
	records := stubDecoder{"a.dcm": makeSlice(2, 2, 1, nil)}
	root := createDataRoot(t, records, nil, "")

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatalf("Failed to create blocker: %v", err)
	}
	out := filepath.Join(blocker, "out")

	for _, abort := range []bool{true, false} {
		params := newParams(root, out, records)
		params.AbortOnMkdirError = abort
		_, err := NewReconstructor(params, logging.Discard()).Process()
		if !errors.Is(err, ErrOutputWrite) {
			t.Fatalf("abort=%v: expected ErrOutputWrite, got %v", abort, err)
		}
		var stageErr *StageError
		if !errors.As(err, &stageErr) || stageErr.Stage != StageWrite {
			t.Errorf("abort=%v: expected a write stage error, got %v", abort, err)
		}
	}
}

// TestProcessAnalyzeHook verifies caller analysis lands in the document
func TestProcessAnalyzeHook(t *testing.T) {
	records := stubDecoder{"a.dcm": makeSlice(2, 2, 4, nil)}
	root := createDataRoot(t, records, nil, "")

	params := newParams(root, t.TempDir(), records)
	params.Analyze = func(vol *models.SeriesVolume, doc output.Document) error {
		doc["voxels"] = len(vol.Data)
		return nil
	}
	res, err := NewReconstructor(params, logging.Discard()).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Document["voxels"] != 4 {
		t.Errorf("Expected the hook's field, got %v", res.Document["voxels"])
	}

	params.Analyze = func(*models.SeriesVolume, output.Document) error { return errors.New("boom") }
	if _, err := NewReconstructor(params, logging.Discard()).Process(); err == nil {
		t.Error("Expected the hook's error to abort the run")
	}
}

// TestProcessPreview verifies preview images are written when enabled
func TestProcessPreview(t *testing.T) {
	records := stubDecoder{
		"a.dcm": makeSlice(3, 3, 1, models.Metadata{"InstanceNumber": []string{"1"}}),
		"b.dcm": makeSlice(3, 3, 5, models.Metadata{"InstanceNumber": []string{"2"}}),
	}
	root := createDataRoot(t, records, nil, "")
	out := t.TempDir()

	params := newParams(root, out, records)
	params.Preview = true
	if _, err := NewReconstructor(params, logging.Discard()).Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	for _, name := range []string{"axial.png", "sagittal.png", "coronal.png"} {
		if _, err := os.Stat(filepath.Join(out, "preview", name)); err != nil {
			t.Errorf("Missing preview %s: %v", name, err)
		}
	}
}

func TestStageErrorMessage(t *testing.T) {
	err := stageError(StageAssemble, ErrMalformedSpacing)
	if err.Error() != "stage assemble failed: malformed spacing metadata" {
		t.Errorf("Unexpected message: %q", err.Error())
	}
	if !errors.Is(err, ErrMalformedSpacing) {
		t.Error("StageError must unwrap to its cause")
	}
}

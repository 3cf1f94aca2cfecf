package reconstruction

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"dicomvol/internal/logging"
	"dicomvol/internal/models"
	"dicomvol/pkg/analysis"
	"dicomvol/pkg/config"
	"dicomvol/pkg/dicomio"
	"dicomvol/pkg/output"
	"dicomvol/pkg/visualization"
)

// InputSubdir is the directory below a data root holding the slices
const InputSubdir = "input"

// AnalyzeFunc lets a caller add its own fields to the output document once the
// volume is assembled. Returning an error aborts the run before anything is written.
type AnalyzeFunc func(vol *models.SeriesVolume, doc output.Document) error

// Params holds the reconstruction parameters.
type Params struct {
	// InputDir is the flat directory of DICOM slices
	InputDir string

	// DescriptionPath is the optional sidecar; empty or missing means no description
	DescriptionPath string

	// OutputDir receives the structured output (and preview images)
	OutputDir string

	// OutputFileName defaults to output.json
	OutputFileName string

	// Reference is the shape reference policy (config.ReferenceFirst or config.ReferenceMajority)
	Reference string

	// Spacing is the spacing policy (config.SpacingDefault or config.SpacingRequire)
	Spacing string

	// Metrics are computed after assembly and stored in the output document
	Metrics []config.MetricTarget

	// AbortOnMkdirError stops the run immediately when OutputDir cannot be
	// created. Otherwise the failure is logged and reported by the final write.
	AbortOnMkdirError bool

	// Preview writes orthogonal mid-plane PNGs into OutputDir/PreviewDir
	Preview    bool
	PreviewDir string

	// Analyze is an optional caller supplied analysis step
	Analyze AnalyzeFunc

	// Decoder overrides the DICOM decoder; nil uses dicomio.DICOMDecoder
	Decoder dicomio.Decoder
}

// ParamsFromConfig lays out a run over dataRoot (dataRoot/input and
// dataRoot/descr.json) writing into outputDir.
func ParamsFromConfig(cfg *config.Config, dataRoot, outputDir string) *Params {
	return &Params{
		InputDir:          filepath.Join(dataRoot, InputSubdir),
		DescriptionPath:   filepath.Join(dataRoot, output.DescriptionFile),
		OutputDir:         outputDir,
		OutputFileName:    cfg.Output.FileName,
		Reference:         cfg.Filter.Reference,
		Spacing:           cfg.Assembly.Spacing,
		Metrics:           cfg.Metrics,
		AbortOnMkdirError: cfg.Output.AbortOnMkdirError,
		Preview:           cfg.Output.Preview,
		PreviewDir:        cfg.Output.PreviewDir,
	}
}

// Result describes a completed run
type Result struct {
	Volume     *models.SeriesVolume
	Document   output.Document
	OutputPath string

	// Reference is the shape slices were filtered against
	Reference models.Shape

	// Read and Excluded count decoded slices and shape mismatches
	Read     int
	Excluded int
}

// Reconstructor runs the series to volume pipeline:
// 1. Reading the slices of the input directory
// 2. Filtering them against a reference shape
// 3. Ordering them by location
// 4. Stacking them into a volume and deriving display aspects
// 5. Computing metrics into the description
// 6. Writing the structured output
type Reconstructor struct {
	params *Params
	logger *slog.Logger
}

// NewReconstructor creates a new reconstructor instance with the provided parameters.
func NewReconstructor(params *Params, logger *slog.Logger) *Reconstructor {
	return &Reconstructor{
		params: params,
		logger: logging.OrDefault(logger),
	}
}

// Process runs the complete pipeline. Fatal failures are *StageError values
// wrapping ErrEmptyInput, ErrMalformedSpacing, ErrOutputWrite or the
// underlying cause. Nothing is written unless every stage succeeds.
func (r *Reconstructor) Process() (*Result, error) {
	p := r.params

	// The output directory is created first; its failure policy is explicit
	mkdirErr := output.EnsureDir(p.OutputDir)
	if mkdirErr != nil {
		if p.AbortOnMkdirError {
			return nil, stageError(StageWrite, mkdirErr)
		}
		r.logger.Error("cannot create output directory, continuing", "dir", p.OutputDir, "error", mkdirErr)
	}

	r.logger.Info("Step 1: loading input slices", "dir", p.InputDir)
	doc := output.Document{}
	if p.DescriptionPath != "" {
		desc, err := output.ReadDescription(p.DescriptionPath, r.logger)
		if err != nil {
			return nil, stageError(StageRead, err)
		}
		doc = desc.Clone()
	}
	slices, err := dicomio.NewReader(p.Decoder, r.logger).ReadDir(p.InputDir)
	if err != nil {
		return nil, stageError(StageRead, err)
	}

	r.logger.Info("Step 2: filtering slices by shape", "policy", p.Reference)
	filtered, err := FilterByShape(slices, p.Reference)
	if err != nil {
		return nil, stageError(StageFilter, err)
	}
	if filtered.Excluded > 0 {
		r.logger.Warn("excluded slices with a different shape",
			"excluded", filtered.Excluded,
			"kept", len(filtered.Kept),
			"reference", filtered.Reference.String())
	}

	r.logger.Info("Step 3: ordering slices")
	ordered := OrderSlices(filtered.Kept, r.logger.With("stage", StageOrder))

	r.logger.Info("Step 4: assembling volume", "spacing", p.Spacing)
	vol, err := Assemble(ordered, p.Spacing)
	if err != nil {
		return nil, stageError(StageAssemble, err)
	}
	r.logger.Info("assembled volume",
		"shape", fmt.Sprint(vol.Shape()),
		"axial", vol.Aspects.Axial,
		"sagittal", vol.Aspects.Sagittal,
		"coronal", vol.Aspects.Coronal)

	if p.Preview && mkdirErr == nil {
		dir := filepath.Join(p.OutputDir, p.PreviewDir)
		if err := visualization.NewViewer(vol).SaveOrthogonal(dir); err != nil {
			r.logger.Warn("failed to save preview", "dir", dir, "error", err)
		}
	}

	r.logger.Info("Step 5: computing metrics")
	doc.SetShape(vol.Shape())
	for _, m := range p.Metrics {
		v, err := analysis.Compute(m.Name, vol)
		if err != nil {
			return nil, stageError(StageAnalyse, err)
		}
		missing, err := doc.SetMetric(m, v)
		if err != nil {
			return nil, stageError(StageAnalyse, err)
		}
		if len(missing) > 0 {
			r.logger.Warn("metric record fields missing from description", "metric", m.Name, "keys", missing)
		}
	}
	if p.Analyze != nil {
		if err := p.Analyze(vol, doc); err != nil {
			return nil, stageError(StageAnalyse, err)
		}
	}

	r.logger.Info("Step 6: writing structured output", "dir", p.OutputDir)
	if mkdirErr != nil {
		return nil, stageError(StageWrite, mkdirErr)
	}
	path, err := output.Write(p.OutputDir, p.OutputFileName, doc)
	if err != nil {
		return nil, stageError(StageWrite, err)
	}

	return &Result{
		Volume:     vol,
		Document:   doc,
		OutputPath: path,
		Reference:  filtered.Reference,
		Read:       len(slices),
		Excluded:   filtered.Excluded,
	}, nil
}

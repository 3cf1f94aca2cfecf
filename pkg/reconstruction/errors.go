package reconstruction

import (
	"errors"
	"fmt"

	"dicomvol/pkg/dicomio"
	"dicomvol/pkg/output"
)

var (
	// ErrEmptyInput means no valid slices were left to build a volume from
	ErrEmptyInput = dicomio.ErrEmptyInput

	// ErrMalformedSpacing means the spacing metadata cannot produce finite aspects
	ErrMalformedSpacing = errors.New("malformed spacing metadata")

	// ErrOutputWrite means the output directory or document could not be written
	ErrOutputWrite = output.ErrOutputWrite
)

// Pipeline stages, in execution order
const (
	StageRead     = "read"
	StageFilter   = "filter"
	StageOrder    = "order"
	StageAssemble = "assemble"
	StageAnalyse  = "analyse"
	StageWrite    = "write"
)

// StageError records which pipeline stage failed
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

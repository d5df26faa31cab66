package pipeline

import (
	"errors"
	"fmt"
)

// Stage names a step of one comparison.
type Stage string

const (
	StageLoad       Stage = "load-matrices"
	StageEstimateQ  Stage = "estimate-q"
	StageCalibrateQ Stage = "calibrate-q"
	StageEstimateP  Stage = "estimate-p"
	StageReport     Stage = "report"
	StageCrossValid Stage = "cross-validate"
)

// StageError ties a failure to the comparison and stage it came from.
type StageError struct {
	Comparison Comparison
	Stage      Stage
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Comparison, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// wrapStage attaches the stage unless err already carries one.
func wrapStage(cmp Comparison, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Comparison: cmp, Stage: stage, Err: err}
}

// StageOf returns the stage recorded in err, or "" when there is none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

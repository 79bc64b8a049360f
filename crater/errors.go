package crater

import (
	"errors"
	"fmt"
	"log"
)

var (
	// ErrInputShape marks malformed input arrays. Runs abort on it.
	ErrInputShape = errors.New("malformed input")
	// ErrExternalTool marks failures of reprojection or weight lookups
	ErrExternalTool = errors.New("external tool failure")
)

// InputShapeError describes a structural problem with input data: a missing
// column, a ragged row or inconsistent array lengths.
type InputShapeError struct {
	Source string // file or array name
	Line   int    // 1-based line number, 0 when not applicable
	Reason string
}

func (e *InputShapeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Source, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Reason)
}

func (e *InputShapeError) Unwrap() error { return ErrInputShape }

func shapeErrorf(source string, line int, format string, args ...any) error {
	return &InputShapeError{Source: source, Line: line, Reason: fmt.Sprintf(format, args...)}
}

// ToolError reports a failure in an external collaborator (campt, weight
// service). Affected markings are treated as absent.
type ToolError struct {
	Tool   string
	Failed int // number of records that could not be resolved
	Err    error
}

func (e *ToolError) Error() string {
	if e.Failed > 0 {
		return fmt.Sprintf("%s: %d records failed: %v", e.Tool, e.Failed, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() []error { return []error{ErrExternalTool, e.Err} }

// WarningKind classifies non-fatal diagnostics
type WarningKind string

const (
	WarnEmptyRegion       WarningKind = "EmptyRegion"
	WarnDegenerateCluster WarningKind = "DegenerateCluster"
)

// Warning is a diagnostic surfaced alongside a result. It never aborts a run.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return string(w.Kind) + ": " + w.Message
}

func newWarning(kind WarningKind, format string, args ...any) Warning {
	w := Warning{Kind: kind, Message: fmt.Sprintf(format, args...)}
	log.Printf("Warning: %s", w)
	return w
}

package pdfquiz

import "fmt"

// ExtractionError reports that a source document could not be parsed.
// The ingestion is aborted; the caller must supply a new document.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract document: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// DecodeError reports that a stored passage file is corrupt. The load is
// aborted; the caller must re-ingest the source document.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode passages %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SynthesisParseError reports that a single generation attempt returned
// malformed or non-conforming output. The attempt is dropped and the rest
// of the batch continues.
type SynthesisParseError struct {
	Attempt int
	Err     error
}

func (e *SynthesisParseError) Error() string {
	return fmt.Sprintf("generation attempt %d: %v", e.Attempt, e.Err)
}

func (e *SynthesisParseError) Unwrap() error { return e.Err }

// DimensionMismatchError reports embedding vectors of unequal dimension.
// This is a contract violation by the embedding capability and is fatal
// for the current batch.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// EvaluationError reports a failure of the faithfulness evaluation
// capability. Scores degrade to unavailable; the question itself is
// still shown.
type EvaluationError struct {
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate answer: %v", e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

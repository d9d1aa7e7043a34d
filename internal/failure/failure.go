// Package failure defines the error kinds produced by the extraction
// pipeline. Component results carry these instead of raising, and the record
// merger reads them to derive a processing status.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies where in the pipeline an error originated
type Kind string

const (
	Probe           Kind = "probe"
	FrameExtraction Kind = "frame_extraction"
	Preprocess      Kind = "preprocess"
	OCR             Kind = "ocr"
	AudioExtraction Kind = "audio_extraction"
	Transcription   Kind = "transcription"
	Validation      Kind = "validation"
	Persistence     Kind = "persistence"
)

var labels = map[Kind]string{
	Probe:           "probe failed",
	FrameExtraction: "frame extraction failed",
	Preprocess:      "image preprocessing failed",
	OCR:             "ocr failed",
	AudioExtraction: "audio extraction failed",
	Transcription:   "transcription failed",
	Validation:      "validation failed",
	Persistence:     "persistence failed",
}

// Error is a classified pipeline error
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	label := labels[e.Kind]
	if label == "" {
		label = string(e.Kind)
	}
	switch {
	case e.Err == nil && e.Op == "":
		return label
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", label, e.Op)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", label, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", label, e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and an operation description
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a kind-tagged error from a format string
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Truncate shortens a message to at most n runes
func Truncate(msg string, n int) string {
	r := []rune(msg)
	if len(r) <= n {
		return msg
	}
	return string(r[:n])
}

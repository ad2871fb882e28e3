// Package biometric enrolls reference templates from face samples and
// verifies probes against them. Three scoring strategies sit behind the
// Matcher interface: an LBPH classifier (distance to class), raw-pixel
// mean-squared error, and embedding cosine similarity.
package biometric

import (
	"context"
	"errors"
)

var (
	ErrNoSubjectDetected        = errors.New("no subject detected")
	ErrMultipleSubjectsDetected = errors.New("multiple subjects detected")
	ErrMalformedSample          = errors.New("malformed sample")
	ErrNoMatch                  = errors.New("sample does not match enrolled template")
	ErrNotEnrolled              = errors.New("participant has no enrolled template")
	ErrIncompatibleTemplate     = errors.New("template was produced by a different strategy")
	ErrIdentifyUnsupported      = errors.New("strategy does not support identification")
	ErrUnavailable              = errors.New("biometric dependency unavailable")
)

// Sample is an encoded image (PNG or JPEG) as submitted by the caller.
type Sample []byte

// Result is the outcome of a comparison. Score is a distance for the
// classifier and pixel strategies (lower is better) and a similarity for
// the embedding strategy (higher is better).
type Result struct {
	Matched   bool    `json:"matched"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	// Subject is the identity the strategy settled on. For verification it
	// is the predicted or claimed subject; for identification the best match.
	Subject string `json:"subject,omitempty"`
}

// Matcher is a pluggable scoring strategy.
//
// Enroll and Verify both require exactly one detectable subject in the
// sample and report ErrNoSubjectDetected / ErrMultipleSubjectsDetected
// otherwise. A non-matching probe is not an error: Verify returns a Result
// with Matched=false and the score that decided it.
type Matcher interface {
	Strategy() string
	Enroll(ctx context.Context, subject string, sample Sample) (Template, error)
	Verify(ctx context.Context, subject string, tmpl Template, sample Sample) (Result, error)
}

// Trainer is implemented by strategies that keep a discriminative model
// built from the full enrolled set. Train replaces the model wholesale.
type Trainer interface {
	Train(templates map[string]Template) error
}

// Identifier is implemented by strategies that can pick the best enrolled
// identity for a probe without a claimed subject.
type Identifier interface {
	Identify(ctx context.Context, sample Sample, templates map[string]Template) (Result, error)
}

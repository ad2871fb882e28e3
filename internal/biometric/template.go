package biometric

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Template is the stored reference derived at enrollment. Only this package
// interprets its contents; everything else handles the encoded bytes.
type Template struct {
	Strategy string `cbor:"1,keyasint"`
	// Size is the side length of the canonical square face.
	Size int `cbor:"2,keyasint"`
	// Pixels holds the normalized grayscale face, row-major, Size*Size bytes.
	Pixels []byte `cbor:"3,keyasint,omitempty"`
	// Vector is the strategy feature: LBP histogram or embedding.
	Vector []float32 `cbor:"4,keyasint,omitempty"`
}

var templateEncMode cbor.EncMode

func init() {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("biometric: cbor enc mode: %v", err))
	}
	templateEncMode = mode
}

// MarshalTemplate encodes a template for storage.
func MarshalTemplate(t Template) ([]byte, error) {
	data, err := templateEncMode.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}
	return data, nil
}

// UnmarshalTemplate decodes a stored template.
func UnmarshalTemplate(data []byte) (Template, error) {
	var t Template
	if err := cbor.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("decode template: %w", err)
	}
	if t.Strategy == "" {
		return Template{}, fmt.Errorf("decode template: missing strategy")
	}
	return t, nil
}

func (t Template) check(strategy string) error {
	if t.Strategy != strategy {
		return fmt.Errorf("%w: have %q, want %q", ErrIncompatibleTemplate, t.Strategy, strategy)
	}
	return nil
}

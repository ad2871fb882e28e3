package biometric

import (
	"context"
	"fmt"
	"image"
)

// PixelMatcher compares the normalized probe to the stored face by mean
// squared error over raw intensities. It needs no training.
type PixelMatcher struct {
	norm   normalizer
	maxMSE float64
}

// NewPixelMatcher accepts a probe when its MSE against the template is below maxMSE.
func NewPixelMatcher(detector Detector, size int, maxMSE float64) *PixelMatcher {
	return &PixelMatcher{norm: normalizer{detector: detector, size: size}, maxMSE: maxMSE}
}

func (m *PixelMatcher) Strategy() string { return "pixel" }

func (m *PixelMatcher) Enroll(ctx context.Context, _ string, sample Sample) (Template, error) {
	face, err := m.norm.face(ctx, sample)
	if err != nil {
		return Template{}, err
	}
	return Template{Strategy: m.Strategy(), Size: m.norm.size, Pixels: face.Pix}, nil
}

func (m *PixelMatcher) Verify(ctx context.Context, subject string, tmpl Template, sample Sample) (Result, error) {
	if err := tmpl.check(m.Strategy()); err != nil {
		return Result{}, err
	}
	ref, err := grayFromPixels(tmpl.Pixels, tmpl.Size)
	if err != nil {
		return Result{}, err
	}
	probe, err := m.norm.face(ctx, sample)
	if err != nil {
		return Result{}, err
	}
	if tmpl.Size != m.norm.size {
		probe = canonical(probe, probe.Bounds(), tmpl.Size)
	}
	mse, err := meanSquaredError(ref, probe)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Matched:   mse < m.maxMSE,
		Score:     mse,
		Threshold: m.maxMSE,
		Subject:   subject,
	}, nil
}

func meanSquaredError(a, b *image.Gray) (float64, error) {
	if a.Bounds().Size() != b.Bounds().Size() {
		return 0, fmt.Errorf("%w: size mismatch %v vs %v", ErrMalformedSample, a.Bounds().Size(), b.Bounds().Size())
	}
	w, h := a.Bounds().Dx(), a.Bounds().Dy()
	var sum float64
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w]
		rb := b.Pix[y*b.Stride : y*b.Stride+w]
		for x := range ra {
			d := float64(ra[x]) - float64(rb[x])
			sum += d * d
		}
	}
	return sum / float64(w*h), nil
}

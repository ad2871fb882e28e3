package biometric

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// Detector locates subject regions (faces) in a sample.
type Detector interface {
	Detect(ctx context.Context, sample Sample) ([]image.Rectangle, error)
}

// WholeImage treats the full frame as the single subject region. Use it
// when the capturing client already crops to the face.
type WholeImage struct{}

// Detect returns the sample bounds as one region.
func (WholeImage) Detect(_ context.Context, sample Sample) ([]image.Rectangle, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(sample))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSample, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, nil
	}
	return []image.Rectangle{image.Rect(0, 0, cfg.Width, cfg.Height)}, nil
}

// normalizer turns a raw sample into the canonical square grayscale face.
type normalizer struct {
	detector Detector
	size     int
}

func (n normalizer) face(ctx context.Context, sample Sample) (*image.Gray, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: empty sample", ErrMalformedSample)
	}
	img, _, err := image.Decode(bytes.NewReader(sample))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSample, err)
	}
	regions, err := n.detector.Detect(ctx, sample)
	if err != nil {
		return nil, err
	}
	switch len(regions) {
	case 0:
		return nil, ErrNoSubjectDetected
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d regions", ErrMultipleSubjectsDetected, len(regions))
	}
	region := regions[0].Intersect(img.Bounds())
	if region.Empty() {
		return nil, fmt.Errorf("%w: subject region outside frame", ErrMalformedSample)
	}
	return canonical(img, region, n.size), nil
}

// canonical crops region out of img and scales it to a size x size gray
// square. Regions already at the canonical size are copied unscaled.
func canonical(img image.Image, region image.Rectangle, size int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, size, size))
	if region.Dx() == size && region.Dy() == size {
		draw.Draw(dst, dst.Bounds(), img, region.Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, region, draw.Src, nil)
	return dst
}

func grayFromPixels(pix []byte, size int) (*image.Gray, error) {
	if size <= 0 || len(pix) != size*size {
		return nil, fmt.Errorf("%w: template holds %d pixels for size %d", ErrMalformedSample, len(pix), size)
	}
	return &image.Gray{Pix: pix, Stride: size, Rect: image.Rect(0, 0, size, size)}, nil
}

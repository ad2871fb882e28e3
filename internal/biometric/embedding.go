package biometric

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
)

// Embedder maps a canonical face to a feature vector.
type Embedder interface {
	Embed(ctx context.Context, face *image.Gray) ([]float32, error)
}

// EmbeddingMatcher compares embeddings by cosine similarity. Templates are
// stored embeddings; no model is retrained on enrollment.
type EmbeddingMatcher struct {
	norm          normalizer
	embedder      Embedder
	minSimilarity float64
}

// NewEmbeddingMatcher accepts a probe when similarity exceeds minSimilarity.
func NewEmbeddingMatcher(detector Detector, embedder Embedder, size int, minSimilarity float64) *EmbeddingMatcher {
	return &EmbeddingMatcher{
		norm:          normalizer{detector: detector, size: size},
		embedder:      embedder,
		minSimilarity: minSimilarity,
	}
}

func (m *EmbeddingMatcher) Strategy() string { return "embedding" }

func (m *EmbeddingMatcher) Enroll(ctx context.Context, _ string, sample Sample) (Template, error) {
	vec, err := m.embed(ctx, sample)
	if err != nil {
		return Template{}, err
	}
	return Template{Strategy: m.Strategy(), Size: m.norm.size, Vector: vec}, nil
}

func (m *EmbeddingMatcher) Verify(ctx context.Context, subject string, tmpl Template, sample Sample) (Result, error) {
	if err := tmpl.check(m.Strategy()); err != nil {
		return Result{}, err
	}
	vec, err := m.embed(ctx, sample)
	if err != nil {
		return Result{}, err
	}
	sim := cosineSimilarity(vec, tmpl.Vector)
	return Result{
		Matched:   sim > m.minSimilarity,
		Score:     sim,
		Threshold: m.minSimilarity,
		Subject:   subject,
	}, nil
}

// Identify returns the enrolled subject with the highest similarity. Ties
// go to the lexically smallest subject so results are deterministic.
func (m *EmbeddingMatcher) Identify(ctx context.Context, sample Sample, templates map[string]Template) (Result, error) {
	vec, err := m.embed(ctx, sample)
	if err != nil {
		return Result{}, err
	}
	subjects := make([]string, 0, len(templates))
	for subject := range templates {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	res := Result{Score: -1, Threshold: m.minSimilarity}
	for _, subject := range subjects {
		tmpl := templates[subject]
		if tmpl.check(m.Strategy()) != nil {
			continue
		}
		if sim := cosineSimilarity(vec, tmpl.Vector); sim > res.Score {
			res.Score, res.Subject = sim, subject
		}
	}
	res.Matched = res.Subject != "" && res.Score > m.minSimilarity
	return res, nil
}

func (m *EmbeddingMatcher) embed(ctx context.Context, sample Sample) ([]float32, error) {
	face, err := m.norm.face(ctx, sample)
	if err != nil {
		return nil, err
	}
	vec, err := m.embedder.Embed(ctx, face)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrUnavailable)
	}
	return vec, nil
}

// cosineSimilarity returns 0 when either vector has no magnitude or the
// lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// GridEmbedder is a coarse intensity descriptor: the mean-centred average
// of each cell in a Cells x Cells grid. It runs offline and is what tests
// and FACE_SKIP deployments use in place of the face service.
type GridEmbedder struct {
	Cells int
}

func (g GridEmbedder) Embed(_ context.Context, face *image.Gray) ([]float32, error) {
	cells := g.Cells
	if cells <= 0 {
		cells = 8
	}
	w, h := face.Bounds().Dx(), face.Bounds().Dy()
	if w < cells || h < cells {
		return nil, fmt.Errorf("%w: face %dx%d smaller than grid %d", ErrMalformedSample, w, h, cells)
	}
	sums := make([]float64, cells*cells)
	counts := make([]int, cells*cells)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cell := (y*cells/h)*cells + x*cells/w
			sums[cell] += float64(face.Pix[y*face.Stride+x])
			counts[cell]++
		}
	}
	var mean float64
	for i := range sums {
		sums[i] /= float64(counts[i])
		mean += sums[i]
	}
	mean /= float64(len(sums))
	vec := make([]float32, len(sums))
	for i, v := range sums {
		vec[i] = float32(v - mean)
	}
	return vec, nil
}

package biometric

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"
)

const (
	lbphGrid = 8
	lbphBins = 256
)

var errModelEmpty = fmt.Errorf("%w: classifier model has no enrolled subjects", ErrUnavailable)

// ClassifierMatcher is a local binary pattern histogram recognizer. Each
// enrolled face becomes a spatial LBP histogram; a probe is assigned to the
// nearest histogram by chi-square distance. Verification passes only when
// the nearest identity is the claimed subject and its distance is below
// maxDistance.
//
// The model must be rebuilt with Train whenever the enrolled set changes.
type ClassifierMatcher struct {
	norm        normalizer
	maxDistance float64

	mu    sync.RWMutex
	model []classEntry
}

type classEntry struct {
	subject string
	hist    []float32
}

// NewClassifierMatcher builds an untrained classifier.
func NewClassifierMatcher(detector Detector, size int, maxDistance float64) *ClassifierMatcher {
	return &ClassifierMatcher{norm: normalizer{detector: detector, size: size}, maxDistance: maxDistance}
}

func (m *ClassifierMatcher) Strategy() string { return "classifier" }

func (m *ClassifierMatcher) Enroll(ctx context.Context, _ string, sample Sample) (Template, error) {
	face, err := m.norm.face(ctx, sample)
	if err != nil {
		return Template{}, err
	}
	return Template{
		Strategy: m.Strategy(),
		Size:     m.norm.size,
		Pixels:   face.Pix,
		Vector:   spatialHistogram(face),
	}, nil
}

// Train replaces the model with one built from templates. Templates
// produced by another strategy are left out of the model.
func (m *ClassifierMatcher) Train(templates map[string]Template) error {
	subjects := make([]string, 0, len(templates))
	for subject := range templates {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	model := make([]classEntry, 0, len(subjects))
	for _, subject := range subjects {
		tmpl := templates[subject]
		if tmpl.check(m.Strategy()) != nil {
			continue
		}
		hist := tmpl.Vector
		if len(hist) != lbphGrid*lbphGrid*lbphBins {
			face, err := grayFromPixels(tmpl.Pixels, tmpl.Size)
			if err != nil {
				return fmt.Errorf("train %s: %w", subject, err)
			}
			hist = spatialHistogram(face)
		}
		model = append(model, classEntry{subject: subject, hist: hist})
	}

	m.mu.Lock()
	m.model = model
	m.mu.Unlock()
	return nil
}

func (m *ClassifierMatcher) Verify(ctx context.Context, subject string, tmpl Template, sample Sample) (Result, error) {
	if err := tmpl.check(m.Strategy()); err != nil {
		return Result{}, err
	}
	probe, err := m.norm.face(ctx, sample)
	if err != nil {
		return Result{}, err
	}
	predicted, distance, err := m.predict(spatialHistogram(probe))
	if err != nil {
		return Result{}, err
	}
	return Result{
		Matched:   predicted == subject && distance < m.maxDistance,
		Score:     distance,
		Threshold: m.maxDistance,
		Subject:   predicted,
	}, nil
}

func (m *ClassifierMatcher) predict(hist []float32) (string, float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.model) == 0 {
		return "", 0, errModelEmpty
	}
	best, bestDist := "", math.Inf(1)
	for _, entry := range m.model {
		if d := chiSquare(hist, entry.hist); d < bestDist {
			best, bestDist = entry.subject, d
		}
	}
	return best, bestDist, nil
}

// spatialHistogram computes LBP codes (radius 1, 8 neighbours) and
// concatenates per-cell histograms over a lbphGrid x lbphGrid grid. Each
// cell histogram is normalized to sum to one.
func spatialHistogram(face *image.Gray) []float32 {
	w, h := face.Bounds().Dx(), face.Bounds().Dy()
	hist := make([]float32, lbphGrid*lbphGrid*lbphBins)
	if w < 3 || h < 3 {
		return hist
	}
	cw, ch := w-2, h-2
	counts := make([]int, lbphGrid*lbphGrid)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			code := lbpCode(face, x, y)
			cell := ((y-1)*lbphGrid/ch)*lbphGrid + (x-1)*lbphGrid/cw
			hist[cell*lbphBins+int(code)]++
			counts[cell]++
		}
	}
	for cell, n := range counts {
		if n == 0 {
			continue
		}
		bins := hist[cell*lbphBins : (cell+1)*lbphBins]
		for i := range bins {
			bins[i] /= float32(n)
		}
	}
	return hist
}

var lbpOffsets = [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}}

func lbpCode(face *image.Gray, x, y int) uint8 {
	center := face.Pix[y*face.Stride+x]
	var code uint8
	for bit, off := range lbpOffsets {
		if face.Pix[(y+off[1])*face.Stride+x+off[0]] >= center {
			code |= 1 << uint(bit)
		}
	}
	return code
}

func chiSquare(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(a[i]) + float64(b[i])
		if s == 0 {
			continue
		}
		d := float64(a[i]) - float64(b[i])
		sum += d * d / s
	}
	return sum
}

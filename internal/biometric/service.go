package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// TemplateStore persists exactly one template per subject.
type TemplateStore interface {
	GetTemplate(ctx context.Context, subject string) (Template, error)
	PutTemplate(ctx context.Context, subject string, tmpl Template) error
	ListTemplates(ctx context.Context) (map[string]Template, error)
	// TemplateVersion changes whenever any template is written.
	TemplateVersion(ctx context.Context) (string, error)
}

// Service owns a matcher and its template storage. For strategies that
// implement Trainer it rebuilds the model after every enrollment and before
// serving a verification against a template set it has not trained on.
type Service struct {
	matcher Matcher
	store   TemplateStore
	logger  *slog.Logger

	mu             sync.RWMutex
	trainedVersion string
	trained        bool
}

// NewService wires a matcher to its template store.
func NewService(matcher Matcher, store TemplateStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{matcher: matcher, store: store, logger: logger}
}

// Strategy names the active matching strategy.
func (s *Service) Strategy() string { return s.matcher.Strategy() }

// Enroll derives a template from sample and replaces the subject's stored
// template. A failed detection leaves any existing template untouched.
func (s *Service) Enroll(ctx context.Context, subject string, sample Sample) (Template, error) {
	tmpl, err := s.matcher.Enroll(ctx, subject, sample)
	if err != nil {
		return Template{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.PutTemplate(ctx, subject, tmpl); err != nil {
		return Template{}, fmt.Errorf("%w: store template: %w", ErrUnavailable, err)
	}
	if _, ok := s.matcher.(Trainer); ok {
		// The template is committed; a failed retrain only leaves the model
		// stale, and the next verification rebuilds it.
		if err := s.retrainLocked(ctx); err != nil {
			s.trained = false
			s.logger.Warn("retrain after enrollment failed", "subject", subject, "error", err)
		}
	}
	s.logger.Info("template enrolled", "subject", subject, "strategy", tmpl.Strategy)
	return tmpl, nil
}

// Verify compares sample against subject's enrolled template.
func (s *Service) Verify(ctx context.Context, subject string, sample Sample) (Result, error) {
	tmpl, err := s.store.GetTemplate(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: load template: %w", ErrUnavailable, err)
	}
	if err := s.ensureTrained(ctx); err != nil {
		return Result{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matcher.Verify(ctx, subject, tmpl, sample)
}

// Identify finds the best enrolled subject for sample. Only strategies
// implementing Identifier support it.
func (s *Service) Identify(ctx context.Context, sample Sample) (Result, error) {
	ident, ok := s.matcher.(Identifier)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrIdentifyUnsupported, s.matcher.Strategy())
	}
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: list templates: %w", ErrUnavailable, err)
	}
	return ident.Identify(ctx, sample, templates)
}

// Sync trains the model from the stored templates if it is out of date.
// Call it at startup so the first verification does not pay for training.
func (s *Service) Sync(ctx context.Context) error {
	return s.ensureTrained(ctx)
}

func (s *Service) ensureTrained(ctx context.Context) error {
	if _, ok := s.matcher.(Trainer); !ok {
		return nil
	}
	version, err := s.store.TemplateVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: template version: %w", ErrUnavailable, err)
	}
	s.mu.RLock()
	fresh := s.trained && s.trainedVersion == version
	s.mu.RUnlock()
	if fresh {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trained && s.trainedVersion == version {
		return nil
	}
	return s.retrainLocked(ctx)
}

func (s *Service) retrainLocked(ctx context.Context) error {
	trainer := s.matcher.(Trainer)
	version, err := s.store.TemplateVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: template version: %w", ErrUnavailable, err)
	}
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("%w: list templates: %w", ErrUnavailable, err)
	}
	strategy := s.matcher.Strategy()
	for subject, tmpl := range templates {
		if err := tmpl.check(strategy); err != nil {
			s.logger.Warn("template left out of model", "subject", subject, "error", err)
			delete(templates, subject)
		}
	}
	if err := trainer.Train(templates); err != nil {
		return fmt.Errorf("%w: train: %w", ErrUnavailable, err)
	}
	s.trained, s.trainedVersion = true, version
	s.logger.Info("matcher retrained", "strategy", strategy, "subjects", len(templates))
	return nil
}

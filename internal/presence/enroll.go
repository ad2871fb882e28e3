package presence

import (
	"context"
	"errors"

	"presence/internal/biometric"
)

// Enroller stores a participant's biometric template.
type Enroller interface {
	Enroll(ctx context.Context, subject string, sample biometric.Sample) (biometric.Template, error)
}

// Enroll replaces the participant's template. A sample that fails
// detection leaves any existing template in place.
func (e *Engine) Enroll(ctx context.Context, enroller Enroller, participantID string, sample biometric.Sample) error {
	if _, err := e.participant(ctx, participantID); err != nil {
		return err
	}
	if _, err := enroller.Enroll(ctx, participantID, sample); err != nil {
		if errors.Is(err, biometric.ErrUnavailable) {
			return unavailable("enroll", err)
		}
		return err
	}
	e.logger.Info("participant enrolled", "participant", participantID)
	e.notifier.Notify(ctx, Event{Type: EventEnrolled, ParticipantID: participantID, At: e.clock.Now()})
	return nil
}

package presence

import (
	"errors"
	"fmt"

	"presence/internal/biometric"
	"presence/internal/lock"
)

var (
	ErrRoomInvalid          = errors.New("room invalid or closed")
	ErrRoomNotFound         = errors.New("room not found")
	ErrRoomClosed           = fmt.Errorf("%w: already closed", ErrRoomNotFound)
	ErrNotOwner             = errors.New("room is owned by another admin")
	ErrDuplicateRoomCode    = errors.New("room code already exists")
	ErrAccessPointRequired  = errors.New("room needs a bound access point")
	ErrNetworkMismatch      = errors.New("network attachment does not match room")
	ErrBiometricRejected    = errors.New("biometric verification rejected")
	ErrNotLoggedIn          = errors.New("participant not logged in")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrDuplicateParticipant = errors.New("participant id or handle already exists")

	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// Kind groups failures by how a caller should react to them.
type Kind int

const (
	KindNone Kind = iota
	// KindValidation covers room, ownership and network checks. Not retryable as-is.
	KindValidation
	// KindBiometric covers detection failures and non-matching probes. Resubmit a new sample.
	KindBiometric
	// KindState covers operations on a participant in the wrong lifecycle state.
	KindState
	// KindDependency covers storage, lock and face-service failures.
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBiometric:
		return "biometric"
	case KindState:
		return "state"
	case KindDependency:
		return "dependency"
	default:
		return "none"
	}
}

// KindOf classifies err. Dependency failures win over everything else so
// an outage is never reported as a rejected sample; unrecognized errors
// are treated as dependency failures.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrDependencyUnavailable),
		errors.Is(err, biometric.ErrUnavailable),
		errors.Is(err, lock.ErrNotAcquired):
		return KindDependency
	case errors.Is(err, ErrBiometricRejected),
		errors.Is(err, biometric.ErrNoSubjectDetected),
		errors.Is(err, biometric.ErrMultipleSubjectsDetected),
		errors.Is(err, biometric.ErrMalformedSample),
		errors.Is(err, biometric.ErrNoMatch),
		errors.Is(err, biometric.ErrNotEnrolled),
		errors.Is(err, biometric.ErrIncompatibleTemplate):
		return KindBiometric
	case errors.Is(err, ErrNotLoggedIn):
		return KindState
	case errors.Is(err, ErrRoomInvalid),
		errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrDuplicateRoomCode),
		errors.Is(err, ErrAccessPointRequired),
		errors.Is(err, ErrNetworkMismatch),
		errors.Is(err, ErrParticipantNotFound),
		errors.Is(err, ErrDuplicateParticipant):
		return KindValidation
	default:
		return KindDependency
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDependencyUnavailable, op, err)
}

// Package presence is the presence and verification engine: it admits
// participants into rooms after room, network and biometric checks, tracks
// their activity, and appends an attendance record whenever a presence
// interval ends.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"presence/internal/biometric"
	"presence/internal/clock"
	"presence/internal/lock"
	"presence/internal/metrics"
	"presence/internal/proximity"
)

// Verifier checks a probe against a participant's enrolled template.
type Verifier interface {
	Strategy() string
	Verify(ctx context.Context, subject string, sample biometric.Sample) (biometric.Result, error)
}

// Options configures an Engine. Zero values get defaults.
type Options struct {
	ActivityWindow time.Duration
	Proximity      proximity.Validator
	Clock          clock.Clock
	Locker         lock.Locker
	Notifier       Notifier
	Logger         *slog.Logger
}

// Engine drives the participant lifecycle. Every participant mutation runs
// under that participant's lock; the store makes the room check and the
// ledger append atomic with the row update.
type Engine struct {
	store     Store
	verifier  Verifier
	proximity proximity.Validator
	window    time.Duration
	clock     clock.Clock
	locker    lock.Locker
	notifier  Notifier
	logger    *slog.Logger
}

// NewEngine builds an engine over store and verifier.
func NewEngine(store Store, verifier Verifier, opts Options) *Engine {
	if opts.ActivityWindow <= 0 {
		opts.ActivityWindow = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:     store,
		verifier:  verifier,
		proximity: opts.Proximity,
		window:    opts.ActivityWindow,
		clock:     opts.Clock,
		locker:    opts.Locker,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
	}
}

// ActivityWindow is the inactivity grace period used for classification.
func (e *Engine) ActivityWindow() time.Duration { return e.window }

// AdmitRequest carries one admission attempt.
type AdmitRequest struct {
	ParticipantID string
	RoomCode      string
	// AccessPoint is the caller's current network identifier; "" if unknown.
	AccessPoint string
	Sample      biometric.Sample
}

// Admission is the outcome of a successful admit.
type Admission struct {
	Participant Participant      `json:"participant"`
	Match       biometric.Result `json:"match"`
}

// Admit logs a participant into a room once the room is open, the network
// matches and the biometric sample verifies. A repeated admit into the same
// room keeps the original login time and refreshes the activity clock.
// Admitting into a different room first ends the interval in the old one.
func (e *Engine) Admit(ctx context.Context, req AdmitRequest) (Admission, error) {
	unlock, err := e.lockParticipant(ctx, req.ParticipantID)
	if err != nil {
		return Admission{}, err
	}
	defer unlock()

	adm, err := e.admitLocked(ctx, req)
	metrics.Admission(admissionOutcome(err))
	if err != nil {
		e.logger.Info("admission rejected",
			"participant", req.ParticipantID, "room", req.RoomCode,
			"kind", KindOf(err).String(), "error", err)
		return Admission{}, err
	}
	return adm, nil
}

func (e *Engine) admitLocked(ctx context.Context, req AdmitRequest) (Admission, error) {
	p, err := e.participant(ctx, req.ParticipantID)
	if err != nil {
		return Admission{}, err
	}

	room, err := e.store.GetRoom(ctx, req.RoomCode)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return Admission{}, fmt.Errorf("%w: %s does not exist", ErrRoomInvalid, req.RoomCode)
	case err != nil:
		return Admission{}, unavailable("load room", err)
	case !room.Active:
		return Admission{}, fmt.Errorf("%w: %s is closed", ErrRoomInvalid, req.RoomCode)
	}

	if !e.proximity.Validate(room.AccessPoint, req.AccessPoint) {
		return Admission{}, fmt.Errorf("%w: room %s", ErrNetworkMismatch, room.Code)
	}

	started := time.Now()
	match, err := e.verifier.Verify(ctx, p.ID, req.Sample)
	metrics.ObserveVerify(e.verifier.Strategy(), time.Since(started))
	if err != nil {
		if errors.Is(err, biometric.ErrUnavailable) {
			return Admission{}, unavailable("biometric verify", err)
		}
		return Admission{}, fmt.Errorf("%w: %w", ErrBiometricRejected, err)
	}
	if !match.Matched {
		return Admission{}, fmt.Errorf("%w: %w (score %.2f, threshold %.2f)",
			ErrBiometricRejected, biometric.ErrNoMatch, match.Score, match.Threshold)
	}

	now := e.clock.Now()
	if p.LoggedIn && p.CurrentRoom != room.Code {
		if _, err := e.completeLocked(ctx, p, ReasonMoved); err != nil {
			return Admission{}, err
		}
		p.LoggedIn, p.LoginTime = false, nil
	}
	login := now
	if p.LoggedIn && p.LoginTime != nil {
		login = *p.LoginTime
	}
	if err := e.store.Admit(ctx, p.ID, room.Code, login, now); err != nil {
		if errors.Is(err, ErrRoomInvalid) {
			return Admission{}, err
		}
		return Admission{}, unavailable("admit", err)
	}

	p.LoggedIn = true
	p.LoginTime = &login
	p.LastActiveTime = &now
	p.CurrentRoom = room.Code

	e.logger.Info("participant admitted",
		"participant", p.ID, "room", room.Code, "login", login, "score", match.Score)
	e.notifier.Notify(ctx, Event{Type: EventAdmitted, ParticipantID: p.ID, RoomCode: room.Code, AdminID: room.AdminID, At: now})
	return Admission{Participant: p, Match: match}, nil
}

// Heartbeat advances a logged-in participant's activity clock.
func (e *Engine) Heartbeat(ctx context.Context, participantID string) (Participant, error) {
	unlock, err := e.lockParticipant(ctx, participantID)
	if err != nil {
		return Participant{}, err
	}
	defer unlock()

	p, err := e.participant(ctx, participantID)
	if err != nil {
		return Participant{}, err
	}
	if !p.LoggedIn {
		metrics.Heartbeat("not_logged_in")
		return Participant{}, ErrNotLoggedIn
	}
	now := e.clock.Now()
	if err := e.store.Touch(ctx, p.ID, now); err != nil {
		metrics.Heartbeat("error")
		return Participant{}, unavailable("touch", err)
	}
	metrics.Heartbeat("ok")
	p.LastActiveTime = &now
	return p, nil
}

// Release ends the participant's presence interval. Releasing a
// participant who is not logged in is a no-op and returns nil.
func (e *Engine) Release(ctx context.Context, participantID string) (*Record, error) {
	unlock, err := e.lockParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := e.participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	return e.completeLocked(ctx, p, ReasonReleased)
}

// Status returns the participant with its derived activity.
func (e *Engine) Status(ctx context.Context, participantID string) (Presence, error) {
	p, err := e.participant(ctx, participantID)
	if err != nil {
		return Presence{}, err
	}
	return Presence{Participant: p, Status: Classify(p, e.clock.Now(), e.window)}, nil
}

// Present lists logged-in participants, optionally limited to one room,
// each classified at a single instant.
func (e *Engine) Present(ctx context.Context, roomCode string) ([]Presence, error) {
	ps, err := e.store.ListLoggedIn(ctx, roomCode)
	if err != nil {
		return nil, unavailable("list logged in", err)
	}
	now := e.clock.Now()
	out := make([]Presence, 0, len(ps))
	for _, p := range ps {
		out = append(out, Presence{Participant: p, Status: Classify(p, now, e.window)})
	}
	return out, nil
}

// Records queries the ledger.
func (e *Engine) Records(ctx context.Context, filter RecordFilter) ([]Record, error) {
	recs, err := e.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, unavailable("list records", err)
	}
	return recs, nil
}

// completeLocked is the terminal transition shared by self release and
// every administrative cascade. The caller holds the participant lock.
func (e *Engine) completeLocked(ctx context.Context, p Participant, reason string) (*Record, error) {
	if !p.LoggedIn {
		return nil, nil
	}
	if p.LoginTime == nil {
		if err := e.store.ClearPresence(ctx, p.ID); err != nil {
			return nil, unavailable("clear presence", err)
		}
		e.logger.Warn("cleared presence without login time", "participant", p.ID)
		return nil, nil
	}

	logout := e.clock.Now()
	if p.LastActiveTime != nil {
		logout = *p.LastActiveTime
	}
	rec := newRecord(p, logout, reason)
	if p.CurrentRoom != "" {
		if room, err := e.store.GetRoom(ctx, p.CurrentRoom); err == nil {
			rec.AdminID = room.AdminID
		}
	}

	appended, err := e.store.CompleteInterval(ctx, rec)
	if err != nil {
		return nil, unavailable("complete interval", err)
	}
	if !appended {
		return nil, nil
	}
	metrics.Release(reason)
	e.logger.Info("participant released",
		"participant", p.ID, "room", rec.RoomCode, "reason", reason, "minutes", rec.ActiveMinutes)
	e.notifier.Notify(ctx, Event{Type: EventReleased, ParticipantID: p.ID, RoomCode: rec.RoomCode, AdminID: rec.AdminID, At: e.clock.Now(), Record: &rec})
	return &rec, nil
}

func (e *Engine) participant(ctx context.Context, id string) (Participant, error) {
	p, err := e.store.GetParticipant(ctx, id)
	if err != nil {
		if errors.Is(err, ErrParticipantNotFound) {
			return Participant{}, err
		}
		return Participant{}, unavailable("load participant", err)
	}
	return p, nil
}

func (e *Engine) lockParticipant(ctx context.Context, id string) (func(), error) {
	if id == "" {
		return nil, ErrParticipantNotFound
	}
	unlock, err := e.locker.Lock(ctx, "participant:"+id)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, err
		}
		return nil, unavailable("participant lock", err)
	}
	return unlock, nil
}

func admissionOutcome(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, ErrNetworkMismatch):
		return "network_mismatch"
	case errors.Is(err, ErrRoomInvalid):
		return "room_invalid"
	default:
		return KindOf(err).String()
	}
}

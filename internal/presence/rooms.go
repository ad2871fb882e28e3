package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"presence/internal/metrics"
)

// OpenRoom registers a new active room owned by adminID and bound to
// accessPoint. An empty code is replaced with a freshly minted one.
func (e *Engine) OpenRoom(ctx context.Context, adminID, code, accessPoint string) (Room, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		code = mintRoomCode()
	}
	if accessPoint == "" && e.proximity.Required {
		return Room{}, ErrAccessPointRequired
	}
	room := Room{
		Code:        code,
		AdminID:     adminID,
		AccessPoint: accessPoint,
		Active:      true,
		CreatedAt:   e.clock.Now(),
	}
	if err := e.store.CreateRoom(ctx, room); err != nil {
		if errors.Is(err, ErrDuplicateRoomCode) {
			return Room{}, err
		}
		return Room{}, unavailable("create room", err)
	}
	metrics.RoomOpened()
	e.logger.Info("room opened", "room", room.Code, "admin", adminID, "access_point", accessPoint)
	e.notifier.Notify(ctx, Event{Type: EventRoomOpened, RoomCode: room.Code, AdminID: adminID, At: room.CreatedAt})
	return room, nil
}

// Room looks up one room.
func (e *Engine) Room(ctx context.Context, code string) (Room, error) {
	room, err := e.store.GetRoom(ctx, code)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return Room{}, err
		}
		return Room{}, unavailable("load room", err)
	}
	return room, nil
}

// Rooms lists rooms owned by adminID ("" for all).
func (e *Engine) Rooms(ctx context.Context, adminID string, activeOnly bool) ([]Room, error) {
	rooms, err := e.store.ListRooms(ctx, adminID, activeOnly)
	if err != nil {
		return nil, unavailable("list rooms", err)
	}
	return rooms, nil
}

// CloseRoom deactivates a room and force-releases everyone in it. Closing
// an already closed room releases anyone an interrupted earlier close left
// behind; if there is nobody it fails with ErrRoomClosed.
func (e *Engine) CloseRoom(ctx context.Context, adminID, code string) ([]Record, error) {
	room, err := e.store.GetRoom(ctx, code)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return nil, err
		}
		return nil, unavailable("load room", err)
	}
	if room.AdminID != adminID {
		return nil, ErrNotOwner
	}
	return e.closeRoom(ctx, room)
}

// EndSession closes every active room owned by adminID, and finishes the
// sweep of any closed room that still has participants in it.
func (e *Engine) EndSession(ctx context.Context, adminID string) ([]Record, error) {
	rooms, err := e.store.ListRooms(ctx, adminID, false)
	if err != nil {
		return nil, unavailable("list rooms", err)
	}
	present, err := e.store.ListLoggedIn(ctx, "")
	if err != nil {
		return nil, unavailable("list logged in", err)
	}
	occupied := make(map[string]bool, len(present))
	for _, p := range present {
		occupied[p.CurrentRoom] = true
	}

	var all []Record
	closed := 0
	for _, room := range rooms {
		if !room.Active && !occupied[room.Code] {
			continue
		}
		recs, err := e.closeRoom(ctx, room)
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			return all, err
		}
		closed++
		all = append(all, recs...)
	}
	e.logger.Info("session ended", "admin", adminID, "rooms", closed, "records", len(all))
	return all, nil
}

// ResetAll force-releases every logged-in participant regardless of room.
func (e *Engine) ResetAll(ctx context.Context) ([]Record, error) {
	recs, err := e.releaseAll(ctx, "", ReasonReset)
	if err != nil {
		return recs, err
	}
	e.logger.Info("all participants reset", "records", len(recs))
	return recs, nil
}

func (e *Engine) closeRoom(ctx context.Context, room Room) ([]Record, error) {
	now := e.clock.Now()
	closed, err := e.store.CloseRoom(ctx, room.Code, now)
	if err != nil {
		return nil, unavailable("close room", err)
	}
	if closed {
		metrics.RoomClosed()
	}

	// The room is inactive from here on, so nobody new can be admitted and
	// a retry after a failed sweep picks up exactly the leftovers.
	recs, err := e.releaseAll(ctx, room.Code, ReasonRoomClosed)
	if err != nil {
		return recs, err
	}
	if !closed && len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRoomClosed, room.Code)
	}
	e.logger.Info("room closed", "room", room.Code, "admin", room.AdminID, "released", len(recs), "resumed", !closed)
	e.notifier.Notify(ctx, Event{Type: EventRoomClosed, RoomCode: room.Code, AdminID: room.AdminID, At: now})
	return recs, nil
}

// releaseAll runs the terminal transition for every participant logged
// into roomCode ("" for every room). Each participant is re-read under its
// own lock so a concurrent self release cannot double-record.
func (e *Engine) releaseAll(ctx context.Context, roomCode, reason string) ([]Record, error) {
	ps, err := e.store.ListLoggedIn(ctx, roomCode)
	if err != nil {
		return nil, unavailable("list logged in", err)
	}
	var out []Record
	for _, p := range ps {
		rec, err := e.forceRelease(ctx, p.ID, roomCode, reason)
		if err != nil {
			return out, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (e *Engine) forceRelease(ctx context.Context, participantID, roomCode, reason string) (*Record, error) {
	unlock, err := e.lockParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := e.participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if roomCode != "" && p.CurrentRoom != roomCode {
		return nil, nil
	}
	return e.completeLocked(ctx, p, reason)
}

func mintRoomCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

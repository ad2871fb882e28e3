package presence

import (
	"context"
	"time"
)

// Store is the persistence the engine needs. Implementations must make
// Admit and CompleteInterval atomic with respect to each other and to
// CloseRoom:
//
//   - Admit fails with ErrRoomInvalid if the room is not active at the
//     moment the participant row is written.
//   - CompleteInterval resets the participant and appends rec only if the
//     participant is still logged in with rec.Login as its login time; it
//     reports whether the record was appended.
type Store interface {
	CreateParticipant(ctx context.Context, p Participant) error
	GetParticipant(ctx context.Context, id string) (Participant, error)
	GetParticipantByHandle(ctx context.Context, handle string) (Participant, error)
	ListLoggedIn(ctx context.Context, roomCode string) ([]Participant, error)

	Admit(ctx context.Context, participantID, roomCode string, login, lastActive time.Time) error
	Touch(ctx context.Context, participantID string, lastActive time.Time) error
	CompleteInterval(ctx context.Context, rec Record) (bool, error)
	ClearPresence(ctx context.Context, participantID string) error

	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, code string) (Room, error)
	CloseRoom(ctx context.Context, code string, at time.Time) (bool, error)
	ListRooms(ctx context.Context, adminID string, activeOnly bool) ([]Room, error)

	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
}

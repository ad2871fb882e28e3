package presence

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Participant is a person whose presence is tracked. When LoggedIn is false
// LoginTime, LastActiveTime and CurrentRoom are all unset.
type Participant struct {
	ID             string     `json:"id"`
	Handle         string     `json:"handle"`
	CredentialHash string     `json:"-"`
	LoggedIn       bool       `json:"logged_in"`
	LoginTime      *time.Time `json:"login_time,omitempty"`
	LastActiveTime *time.Time `json:"last_active_time,omitempty"`
	CurrentRoom    string     `json:"current_room,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Room is an admission scope bound to one access point. Once closed it
// never reopens.
type Room struct {
	Code        string     `json:"code"`
	AdminID     string     `json:"admin_id"`
	AccessPoint string     `json:"access_point"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Termination reasons stored on each record.
const (
	ReasonReleased   = "released"
	ReasonRoomClosed = "room_closed"
	ReasonReset      = "session_reset"
	ReasonMoved      = "moved_room"
)

// Record is an immutable completed presence interval.
type Record struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	RoomCode      string    `json:"room_code,omitempty"`
	AdminID       string    `json:"admin_id,omitempty"`
	Login         time.Time `json:"login"`
	Logout        time.Time `json:"logout"`
	ActiveMinutes float64   `json:"active_minutes"`
	Reason        string    `json:"reason"`
}

// RecordFilter selects ledger entries. Zero fields do not filter. From and
// To select intervals overlapping [From, To).
type RecordFilter struct {
	ParticipantID string
	RoomCode      string
	AdminID       string
	From          time.Time
	To            time.Time
	Limit         int
}

// Matches reports whether rec passes the filter.
func (f RecordFilter) Matches(rec Record) bool {
	if f.ParticipantID != "" && rec.ParticipantID != f.ParticipantID {
		return false
	}
	if f.RoomCode != "" && rec.RoomCode != f.RoomCode {
		return false
	}
	if f.AdminID != "" && rec.AdminID != f.AdminID {
		return false
	}
	if !f.From.IsZero() && rec.Logout.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !rec.Login.Before(f.To) {
		return false
	}
	return true
}

// Activity is the derived classification of a participant.
type Activity string

const (
	Active    Activity = "active"
	Inactive  Activity = "inactive"
	LoggedOut Activity = "logged_out"
)

// Classify derives the participant's activity at now.
func Classify(p Participant, now time.Time, window time.Duration) Activity {
	if !p.LoggedIn || p.LastActiveTime == nil {
		return LoggedOut
	}
	if now.Sub(*p.LastActiveTime) <= window {
		return Active
	}
	return Inactive
}

// Presence pairs a participant with its derived activity.
type Presence struct {
	Participant
	Status Activity `json:"status"`
}

// activeMinutes is (logout - login) in minutes rounded to two decimals.
func activeMinutes(login, logout time.Time) float64 {
	d := logout.Sub(login)
	if d < 0 {
		d = 0
	}
	return math.Round(d.Minutes()*100) / 100
}

// newRecord derives the ledger entry for p's interval ending at logout.
func newRecord(p Participant, logout time.Time, reason string) Record {
	login := *p.LoginTime
	return Record{
		ID:            uuid.NewString(),
		ParticipantID: p.ID,
		RoomCode:      p.CurrentRoom,
		Login:         login,
		Logout:        logout,
		ActiveMinutes: activeMinutes(login, logout),
		Reason:        reason,
	}
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"presence/internal/account"
	"presence/internal/biometric"
	"presence/internal/presence"
)

// Memory keeps everything in process behind one mutex. It serves tests and
// single-instance deployments that do not need durability.
type Memory struct {
	mu           sync.RWMutex
	participants map[string]presence.Participant
	handles      map[string]string
	rooms        map[string]presence.Room
	records      []presence.Record
	templates    map[string]biometric.Template
	templateSeq  int
	admins       map[string]account.Admin
	refresh      map[string]refreshEntry
}

type refreshEntry struct {
	subject   string
	expiresAt time.Time
	revoked   bool
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		participants: make(map[string]presence.Participant),
		handles:      make(map[string]string),
		rooms:        make(map[string]presence.Room),
		templates:    make(map[string]biometric.Template),
		admins:       make(map[string]account.Admin),
		refresh:      make(map[string]refreshEntry),
	}
}

func (m *Memory) CreateParticipant(_ context.Context, p presence.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[p.ID]; ok {
		return presence.ErrDuplicateParticipant
	}
	if _, ok := m.handles[p.Handle]; ok {
		return presence.ErrDuplicateParticipant
	}
	p.LoggedIn, p.LoginTime, p.LastActiveTime, p.CurrentRoom = false, nil, nil, ""
	m.participants[p.ID] = p
	m.handles[p.Handle] = p.ID
	return nil
}

func (m *Memory) GetParticipant(_ context.Context, id string) (presence.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	if !ok {
		return presence.Participant{}, presence.ErrParticipantNotFound
	}
	return copyParticipant(p), nil
}

func (m *Memory) GetParticipantByHandle(ctx context.Context, handle string) (presence.Participant, error) {
	m.mu.RLock()
	id, ok := m.handles[handle]
	m.mu.RUnlock()
	if !ok {
		return presence.Participant{}, presence.ErrParticipantNotFound
	}
	return m.GetParticipant(ctx, id)
}

func (m *Memory) ListLoggedIn(_ context.Context, roomCode string) ([]presence.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []presence.Participant
	for _, p := range m.participants {
		if !p.LoggedIn || (roomCode != "" && p.CurrentRoom != roomCode) {
			continue
		}
		out = append(out, copyParticipant(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Admit(_ context.Context, participantID, roomCode string, login, lastActive time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomCode]
	if !ok || !room.Active {
		return fmt.Errorf("%w: %s", presence.ErrRoomInvalid, roomCode)
	}
	p, ok := m.participants[participantID]
	if !ok {
		return presence.ErrParticipantNotFound
	}
	p.LoggedIn = true
	p.LoginTime = &login
	p.LastActiveTime = &lastActive
	p.CurrentRoom = roomCode
	m.participants[participantID] = p
	return nil
}

func (m *Memory) Touch(_ context.Context, participantID string, lastActive time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantID]
	if !ok {
		return presence.ErrParticipantNotFound
	}
	if !p.LoggedIn {
		return presence.ErrNotLoggedIn
	}
	p.LastActiveTime = &lastActive
	m.participants[participantID] = p
	return nil
}

func (m *Memory) CompleteInterval(_ context.Context, rec presence.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[rec.ParticipantID]
	if !ok {
		return false, presence.ErrParticipantNotFound
	}
	if !p.LoggedIn || p.LoginTime == nil || !p.LoginTime.Equal(rec.Login) {
		return false, nil
	}
	m.records = append(m.records, rec)
	m.participants[p.ID] = loggedOut(p)
	return true, nil
}

func (m *Memory) ClearPresence(_ context.Context, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantID]
	if !ok {
		return presence.ErrParticipantNotFound
	}
	m.participants[participantID] = loggedOut(p)
	return nil
}

func (m *Memory) CreateRoom(_ context.Context, room presence.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[room.Code]; ok {
		return presence.ErrDuplicateRoomCode
	}
	m.rooms[room.Code] = room
	return nil
}

func (m *Memory) GetRoom(_ context.Context, code string) (presence.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[code]
	if !ok {
		return presence.Room{}, presence.ErrRoomNotFound
	}
	return room, nil
}

func (m *Memory) CloseRoom(_ context.Context, code string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[code]
	if !ok {
		return false, presence.ErrRoomNotFound
	}
	if !room.Active {
		return false, nil
	}
	room.Active = false
	room.ClosedAt = &at
	m.rooms[code] = room
	return true, nil
}

func (m *Memory) ListRooms(_ context.Context, adminID string, activeOnly bool) ([]presence.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []presence.Room
	for _, room := range m.rooms {
		if adminID != "" && room.AdminID != adminID {
			continue
		}
		if activeOnly && !room.Active {
			continue
		}
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// ListRecords returns matching records, newest logout first.
func (m *Memory) ListRecords(_ context.Context, filter presence.RecordFilter) ([]presence.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []presence.Record
	for _, rec := range m.records {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Logout.After(out[j].Logout) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) GetTemplate(_ context.Context, subject string) (biometric.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tmpl, ok := m.templates[subject]
	if !ok {
		return biometric.Template{}, biometric.ErrNotEnrolled
	}
	return tmpl, nil
}

func (m *Memory) PutTemplate(_ context.Context, subject string, tmpl biometric.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[subject] = tmpl
	m.templateSeq++
	return nil
}

func (m *Memory) ListTemplates(_ context.Context) (map[string]biometric.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]biometric.Template, len(m.templates))
	for k, v := range m.templates {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) TemplateVersion(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("%d", m.templateSeq), nil
}

func (m *Memory) CreateAdmin(_ context.Context, a account.Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.admins[a.Handle]; ok {
		return account.ErrDuplicateAdmin
	}
	m.admins[a.Handle] = a
	return nil
}

func (m *Memory) GetAdminByHandle(_ context.Context, handle string) (account.Admin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.admins[handle]
	if !ok {
		return account.Admin{}, account.ErrAdminNotFound
	}
	return a, nil
}

func (m *Memory) SaveRefreshToken(_ context.Context, id, subject string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[id] = refreshEntry{subject: subject, expiresAt: expiresAt}
	return nil
}

func (m *Memory) ConsumeRefreshToken(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.refresh[id]
	if !ok || e.revoked || !now.Before(e.expiresAt) {
		return false, nil
	}
	e.revoked = true
	m.refresh[id] = e
	return true, nil
}

// Healthy always reports true.
func (m *Memory) Healthy(context.Context) bool { return true }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func loggedOut(p presence.Participant) presence.Participant {
	p.LoggedIn = false
	p.LoginTime = nil
	p.LastActiveTime = nil
	p.CurrentRoom = ""
	return p
}

func copyParticipant(p presence.Participant) presence.Participant {
	if p.LoginTime != nil {
		t := *p.LoginTime
		p.LoginTime = &t
	}
	if p.LastActiveTime != nil {
		t := *p.LastActiveTime
		p.LastActiveTime = &t
	}
	return p
}

var (
	_ presence.Store          = (*Memory)(nil)
	_ biometric.TemplateStore = (*Memory)(nil)
	_ account.Store           = (*Memory)(nil)
)

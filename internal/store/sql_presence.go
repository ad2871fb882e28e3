package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"presence/internal/presence"
)

const participantColumns = `id, handle, credential_hash, logged_in, login_us, last_active_us, current_room, created_us`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (presence.Participant, error) {
	var (
		p          presence.Participant
		login      sql.NullInt64
		lastActive sql.NullInt64
		room       sql.NullString
		created    int64
	)
	if err := row.Scan(&p.ID, &p.Handle, &p.CredentialHash, &p.LoggedIn, &login, &lastActive, &room, &created); err != nil {
		return presence.Participant{}, err
	}
	p.LoginTime = timePtr(login)
	p.LastActiveTime = timePtr(lastActive)
	p.CurrentRoom = room.String
	p.CreatedAt = fromMicros(created)
	return p, nil
}

func (s *SQL) CreateParticipant(ctx context.Context, p presence.Participant) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO participants (id, handle, credential_hash, logged_in, created_us)
		VALUES ($1, $2, $3, FALSE, $4)
	`), p.ID, p.Handle, p.CredentialHash, micros(p.CreatedAt))
	if isUniqueViolation(err) {
		return presence.ErrDuplicateParticipant
	}
	return err
}

func (s *SQL) GetParticipant(ctx context.Context, id string) (presence.Participant, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+participantColumns+` FROM participants WHERE id = $1`), id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return presence.Participant{}, presence.ErrParticipantNotFound
	}
	return p, err
}

func (s *SQL) GetParticipantByHandle(ctx context.Context, handle string) (presence.Participant, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+participantColumns+` FROM participants WHERE handle = $1`), handle)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return presence.Participant{}, presence.ErrParticipantNotFound
	}
	return p, err
}

func (s *SQL) ListLoggedIn(ctx context.Context, roomCode string) ([]presence.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE logged_in`
	var args []any
	if roomCode != "" {
		query += ` AND current_room = $1`
		args = append(args, roomCode)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []presence.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Admit holds a share lock on the room row so a concurrent CloseRoom
// either commits first (and the admit fails) or waits for the admit to
// commit (and its cascade sees the participant).
func (s *SQL) Admit(ctx context.Context, participantID, roomCode string, login, lastActive time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var active bool
		err := tx.QueryRowContext(ctx, s.q(`SELECT active FROM rooms WHERE code = $1`+s.forShare()), roomCode).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
			return fmt.Errorf("%w: %s", presence.ErrRoomInvalid, roomCode)
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE participants
			SET logged_in = TRUE, login_us = $2, last_active_us = $3, current_room = $4
			WHERE id = $1
		`), participantID, micros(login), micros(lastActive), roomCode)
		if err != nil {
			return err
		}
		return requireRow(res, presence.ErrParticipantNotFound)
	})
}

func (s *SQL) Touch(ctx context.Context, participantID string, lastActive time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE participants SET last_active_us = $2 WHERE id = $1 AND logged_in
	`), participantID, micros(lastActive))
	if err != nil {
		return err
	}
	return requireRow(res, presence.ErrNotLoggedIn)
}

// CompleteInterval resets the participant and appends rec in one
// transaction, guarded on the login time so a second caller appends nothing.
func (s *SQL) CompleteInterval(ctx context.Context, rec presence.Record) (bool, error) {
	appended := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE participants
			SET logged_in = FALSE, login_us = NULL, last_active_us = NULL, current_room = NULL
			WHERE id = $1 AND logged_in AND login_us = $2
		`), rec.ParticipantID, micros(rec.Login))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO attendance_records (id, participant_id, room_code, admin_id, login_us, logout_us, active_minutes, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`), rec.ID, rec.ParticipantID, nullString(rec.RoomCode), nullString(rec.AdminID),
			micros(rec.Login), micros(rec.Logout), rec.ActiveMinutes, rec.Reason)
		if err != nil {
			return err
		}
		appended = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return appended, nil
}

func (s *SQL) ClearPresence(ctx context.Context, participantID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE participants
		SET logged_in = FALSE, login_us = NULL, last_active_us = NULL, current_room = NULL
		WHERE id = $1
	`), participantID)
	if err != nil {
		return err
	}
	return requireRow(res, presence.ErrParticipantNotFound)
}

func (s *SQL) CreateRoom(ctx context.Context, room presence.Room) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO rooms (code, admin_id, access_point, active, created_us)
		VALUES ($1, $2, $3, $4, $5)
	`), room.Code, room.AdminID, room.AccessPoint, room.Active, micros(room.CreatedAt))
	if isUniqueViolation(err) {
		return presence.ErrDuplicateRoomCode
	}
	return err
}

const roomColumns = `code, admin_id, access_point, active, created_us, closed_us`

func scanRoom(row rowScanner) (presence.Room, error) {
	var (
		r       presence.Room
		created int64
		closed  sql.NullInt64
	)
	if err := row.Scan(&r.Code, &r.AdminID, &r.AccessPoint, &r.Active, &created, &closed); err != nil {
		return presence.Room{}, err
	}
	r.CreatedAt = fromMicros(created)
	r.ClosedAt = timePtr(closed)
	return r, nil
}

func (s *SQL) GetRoom(ctx context.Context, code string) (presence.Room, error) {
	r, err := scanRoom(s.db.QueryRowContext(ctx, s.q(`SELECT `+roomColumns+` FROM rooms WHERE code = $1`), code))
	if errors.Is(err, sql.ErrNoRows) {
		return presence.Room{}, presence.ErrRoomNotFound
	}
	return r, err
}

func (s *SQL) CloseRoom(ctx context.Context, code string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE rooms SET active = FALSE, closed_us = $2 WHERE code = $1 AND active
	`), code, micros(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetRoom(ctx, code); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQL) ListRooms(ctx context.Context, adminID string, activeOnly bool) ([]presence.Room, error) {
	var (
		clauses []string
		args    []any
	)
	if adminID != "" {
		args = append(args, adminID)
		clauses = append(clauses, "admin_id = $"+strconv.Itoa(len(args)))
	}
	if activeOnly {
		clauses = append(clauses, "active")
	}
	query := `SELECT ` + roomColumns + ` FROM rooms`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_us, code"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []presence.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRecords returns matching records, newest logout first.
func (s *SQL) ListRecords(ctx context.Context, f presence.RecordFilter) ([]presence.Record, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, clause+" $"+strconv.Itoa(len(args)))
	}
	if f.ParticipantID != "" {
		add("participant_id =", f.ParticipantID)
	}
	if f.RoomCode != "" {
		add("room_code =", f.RoomCode)
	}
	if f.AdminID != "" {
		add("admin_id =", f.AdminID)
	}
	if !f.From.IsZero() {
		add("logout_us >=", micros(f.From))
	}
	if !f.To.IsZero() {
		add("login_us <", micros(f.To))
	}
	query := `SELECT id, participant_id, room_code, admin_id, login_us, logout_us, active_minutes, reason FROM attendance_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY logout_us DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []presence.Record
	for rows.Next() {
		var (
			rec           presence.Record
			room, admin   sql.NullString
			login, logout int64
		)
		if err := rows.Scan(&rec.ID, &rec.ParticipantID, &room, &admin, &login, &logout, &rec.ActiveMinutes, &rec.Reason); err != nil {
			return nil, err
		}
		rec.RoomCode, rec.AdminID = room.String, admin.String
		rec.Login, rec.Logout = fromMicros(login), fromMicros(logout)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ presence.Store = (*SQL)(nil)

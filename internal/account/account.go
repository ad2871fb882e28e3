// Package account registers admins and participants and exchanges
// credentials for tokens. The presence engine only ever sees the
// authenticated identity.
package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"presence/internal/auth"
	"presence/internal/clock"
	"presence/internal/presence"
)

var (
	ErrMissingFields       = errors.New("missing required fields")
	ErrRegistrationKey     = errors.New("invalid admin registration key")
	ErrDuplicateAdmin      = errors.New("admin handle already exists")
	ErrAdminNotFound       = errors.New("admin not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or revoked refresh token")
)

// Admin owns rooms.
type Admin struct {
	ID             string    `json:"id"`
	Handle         string    `json:"handle"`
	CredentialHash string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists admins and refresh tokens.
type Store interface {
	CreateAdmin(ctx context.Context, a Admin) error
	GetAdminByHandle(ctx context.Context, handle string) (Admin, error)
	SaveRefreshToken(ctx context.Context, id, subject string, expiresAt time.Time) error
	// ConsumeRefreshToken revokes the token and reports whether it was
	// live (known, unrevoked and unexpired at now).
	ConsumeRefreshToken(ctx context.Context, id string, now time.Time) (bool, error)
}

// Participants is the slice of the presence store accounts need.
type Participants interface {
	CreateParticipant(ctx context.Context, p presence.Participant) error
	GetParticipant(ctx context.Context, id string) (presence.Participant, error)
	GetParticipantByHandle(ctx context.Context, handle string) (presence.Participant, error)
}

// Service handles registration and login.
type Service struct {
	admins          Store
	participants    Participants
	tokens          *auth.Tokens
	registrationKey string
	clock           clock.Clock
	logger          *slog.Logger
}

// NewService builds an account service. An empty registrationKey disables
// admin self-registration.
func NewService(admins Store, participants Participants, tokens *auth.Tokens, registrationKey string, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		admins:          admins,
		participants:    participants,
		tokens:          tokens,
		registrationKey: registrationKey,
		clock:           clk,
		logger:          logger,
	}
}

// RegisterAdmin creates an admin when key matches the deployment's
// registration key.
func (s *Service) RegisterAdmin(ctx context.Context, handle, password, key string) (Admin, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || password == "" {
		return Admin{}, ErrMissingFields
	}
	if s.registrationKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.registrationKey)) != 1 {
		return Admin{}, ErrRegistrationKey
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return Admin{}, fmt.Errorf("hash password: %w", err)
	}
	a := Admin{ID: uuid.NewString(), Handle: handle, CredentialHash: hash, CreatedAt: s.clock.Now()}
	if err := s.admins.CreateAdmin(ctx, a); err != nil {
		return Admin{}, err
	}
	s.logger.Info("admin registered", "admin", a.ID, "handle", a.Handle)
	return a, nil
}

// RegisterParticipant creates a participant with a caller-chosen external
// id and handle, both unique.
func (s *Service) RegisterParticipant(ctx context.Context, id, handle, password string) (presence.Participant, error) {
	id, handle = strings.TrimSpace(id), strings.TrimSpace(handle)
	if id == "" || handle == "" || password == "" {
		return presence.Participant{}, ErrMissingFields
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return presence.Participant{}, fmt.Errorf("hash password: %w", err)
	}
	p := presence.Participant{ID: id, Handle: handle, CredentialHash: hash, CreatedAt: s.clock.Now()}
	if err := s.participants.CreateParticipant(ctx, p); err != nil {
		return presence.Participant{}, err
	}
	s.logger.Info("participant registered", "participant", p.ID, "handle", p.Handle)
	return p, nil
}

// Identity is the authenticated principal behind a token pair.
type Identity struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// Login checks credentials for role and issues a token pair.
func (s *Service) Login(ctx context.Context, role, handle, password string) (auth.TokenPair, Identity, error) {
	var subject, hash string
	switch role {
	case auth.RoleAdmin:
		a, err := s.admins.GetAdminByHandle(ctx, handle)
		if errors.Is(err, ErrAdminNotFound) {
			return auth.TokenPair{}, Identity{}, ErrInvalidCredentials
		}
		if err != nil {
			return auth.TokenPair{}, Identity{}, err
		}
		subject, hash = a.ID, a.CredentialHash
	case auth.RoleParticipant:
		p, err := s.participants.GetParticipantByHandle(ctx, handle)
		if errors.Is(err, presence.ErrParticipantNotFound) {
			return auth.TokenPair{}, Identity{}, ErrInvalidCredentials
		}
		if err != nil {
			return auth.TokenPair{}, Identity{}, err
		}
		subject, hash = p.ID, p.CredentialHash
	default:
		return auth.TokenPair{}, Identity{}, fmt.Errorf("%w: unknown role %q", ErrMissingFields, role)
	}

	if err := auth.CheckPassword(hash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return auth.TokenPair{}, Identity{}, ErrInvalidCredentials
		}
		return auth.TokenPair{}, Identity{}, err
	}
	id := Identity{Subject: subject, Role: role}
	pair, err := s.issue(ctx, id)
	if err != nil {
		return auth.TokenPair{}, Identity{}, err
	}
	return pair, id, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// new pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, Identity, error) {
	claims, err := s.tokens.Parse(refreshToken, auth.KindRefresh)
	if err != nil || claims.ID == "" {
		return auth.TokenPair{}, Identity{}, ErrInvalidRefreshToken
	}
	live, err := s.admins.ConsumeRefreshToken(ctx, claims.ID, s.clock.Now())
	if err != nil {
		return auth.TokenPair{}, Identity{}, err
	}
	if !live {
		s.logger.Warn("refresh token reuse", "subject", claims.Subject)
		return auth.TokenPair{}, Identity{}, ErrInvalidRefreshToken
	}
	id := Identity{Subject: claims.Subject, Role: claims.Role}
	pair, err := s.issue(ctx, id)
	if err != nil {
		return auth.TokenPair{}, Identity{}, err
	}
	return pair, id, nil
}

func (s *Service) issue(ctx context.Context, id Identity) (auth.TokenPair, error) {
	pair, err := s.tokens.Issue(id.Subject, id.Role, s.clock.Now())
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	if err := s.admins.SaveRefreshToken(ctx, pair.RefreshID, id.Subject, pair.RefreshExp); err != nil {
		return auth.TokenPair{}, err
	}
	return pair, nil
}

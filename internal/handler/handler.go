// Package handler binds the presence engine to HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"presence/internal/account"
	"presence/internal/auth"
	"presence/internal/biometric"
	"presence/internal/presence"
)

const maxSampleBytes = 10 << 20

// Archiver keeps a copy of enrollment photos.
type Archiver interface {
	Archive(ctx context.Context, participantID string, photo []byte) (string, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the HTTP API.
type Handler struct {
	engine    *presence.Engine
	biometric *biometric.Service
	accounts  *account.Service
	tokens    *auth.Tokens
	archiver  Archiver
	health    map[string]HealthCheck
	logger    *slog.Logger
}

// Deps are the collaborators a Handler needs. Archiver and Health may be nil.
type Deps struct {
	Engine    *presence.Engine
	Biometric *biometric.Service
	Accounts  *account.Service
	Tokens    *auth.Tokens
	Archiver  Archiver
	Health    map[string]HealthCheck
	Logger    *slog.Logger
}

// New creates a Handler.
func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{
		engine:    d.Engine,
		biometric: d.Biometric,
		accounts:  d.Accounts,
		tokens:    d.Tokens,
		archiver:  d.Archiver,
		health:    d.Health,
		logger:    d.Logger,
	}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.POST("/admins", h.RegisterAdmin)
	v1.POST("/participants", h.RegisterParticipant)
	v1.POST("/auth/login", h.Login)
	v1.POST("/auth/refresh", h.Refresh)

	me := v1.Group("/me", auth.Require(h.tokens, auth.RoleParticipant))
	me.GET("", h.Status)
	me.POST("/enroll", h.Enroll)
	me.POST("/admit", h.Admit)
	me.POST("/heartbeat", h.Heartbeat)
	me.POST("/release", h.Release)
	me.GET("/records", h.MyRecords)

	admin := v1.Group("", auth.Require(h.tokens, auth.RoleAdmin))
	admin.POST("/rooms", h.OpenRoom)
	admin.GET("/rooms", h.ListRooms)
	admin.POST("/rooms/:code/close", h.CloseRoom)
	admin.GET("/rooms/:code/participants", h.RoomParticipants)
	admin.POST("/session/end", h.EndSession)
	admin.POST("/session/reset", h.ResetAll)
	admin.GET("/records", h.Records)
	admin.POST("/identify", h.Identify)
}

// Healthz reports each dependency and fails if any is down.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Checked in order; the first match wins, so wrapped sentinels
// (ErrRoomClosed wraps ErrRoomNotFound) come before what they wrap.
var errorTable = []errorMapping{
	{account.ErrMissingFields, http.StatusBadRequest, "missing_fields"},
	{account.ErrRegistrationKey, http.StatusForbidden, "registration_key"},
	{account.ErrDuplicateAdmin, http.StatusConflict, "duplicate_admin"},
	{account.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{account.ErrInvalidRefreshToken, http.StatusUnauthorized, "invalid_refresh_token"},
	{presence.ErrDependencyUnavailable, http.StatusServiceUnavailable, "dependency_unavailable"},
	{biometric.ErrUnavailable, http.StatusServiceUnavailable, "dependency_unavailable"},
	{biometric.ErrIdentifyUnsupported, http.StatusNotImplemented, "identify_unsupported"},
	{presence.ErrRoomClosed, http.StatusConflict, "room_closed"},
	{presence.ErrRoomNotFound, http.StatusNotFound, "room_not_found"},
	{presence.ErrRoomInvalid, http.StatusConflict, "room_invalid"},
	{presence.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{presence.ErrDuplicateRoomCode, http.StatusConflict, "duplicate_room_code"},
	{presence.ErrAccessPointRequired, http.StatusUnprocessableEntity, "access_point_required"},
	{presence.ErrNetworkMismatch, http.StatusForbidden, "network_mismatch"},
	{presence.ErrParticipantNotFound, http.StatusNotFound, "participant_not_found"},
	{presence.ErrDuplicateParticipant, http.StatusConflict, "duplicate_participant"},
	{biometric.ErrNoSubjectDetected, http.StatusUnprocessableEntity, "no_subject_detected"},
	{biometric.ErrMultipleSubjectsDetected, http.StatusUnprocessableEntity, "multiple_subjects_detected"},
	{biometric.ErrMalformedSample, http.StatusUnprocessableEntity, "malformed_sample"},
	{biometric.ErrNotEnrolled, http.StatusUnprocessableEntity, "not_enrolled"},
	{biometric.ErrIncompatibleTemplate, http.StatusUnprocessableEntity, "incompatible_template"},
	{biometric.ErrNoMatch, http.StatusUnauthorized, "biometric_no_match"},
	{presence.ErrBiometricRejected, http.StatusUnauthorized, "biometric_rejected"},
	{presence.ErrNotLoggedIn, http.StatusConflict, "not_logged_in"},
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, code := http.StatusServiceUnavailable, "dependency_unavailable"
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			status, code = m.status, m.code
			break
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":  code,
		"kind":   presence.KindOf(err).String(),
		"detail": err.Error(),
	})
}

func badRequest(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": detail})
}

// subject is the authenticated principal set by auth.Require.
func subject(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Subject
}

// readSample reads the photo form file as a biometric sample.
func readSample(c *gin.Context) (biometric.Sample, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSampleBytes)
	file, _, err := c.Request.FormFile("photo")
	if err != nil {
		return nil, fmt.Errorf("photo file is required: %w", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	return biometric.Sample(data), nil
}

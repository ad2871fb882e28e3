package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"presence/internal/presence"
	"presence/internal/report"
)

// ---------- participant ----------

func (h *Handler) Status(c *gin.Context) {
	st, err := h.engine.Status(c.Request.Context(), subject(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Enroll expects a multipart form with a photo file.
func (h *Handler) Enroll(c *gin.Context) {
	sample, err := readSample(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	id := subject(c)
	if err := h.engine.Enroll(c.Request.Context(), h.biometric, id, sample); err != nil {
		h.fail(c, err)
		return
	}

	resp := gin.H{"participant_id": id, "strategy": h.biometric.Strategy()}
	if h.archiver != nil {
		url, err := h.archiver.Archive(c.Request.Context(), id, sample)
		if err != nil {
			// the template is stored; archival is best effort
			h.logger.Warn("enrollment photo archival failed", "participant", id, "error", err)
		} else {
			resp["photo_url"] = url
		}
	}
	c.JSON(http.StatusCreated, resp)
}

// Admit expects a multipart form with room_code, access_point and photo.
func (h *Handler) Admit(c *gin.Context) {
	sample, err := readSample(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	code := c.PostForm("room_code")
	if code == "" {
		badRequest(c, "room_code is required")
		return
	}
	adm, err := h.engine.Admit(c.Request.Context(), presence.AdmitRequest{
		ParticipantID: subject(c),
		RoomCode:      code,
		AccessPoint:   c.PostForm("access_point"),
		Sample:        sample,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, adm)
}

func (h *Handler) Heartbeat(c *gin.Context) {
	p, err := h.engine.Heartbeat(c.Request.Context(), subject(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) Release(c *gin.Context) {
	rec, err := h.engine.Release(c.Request.Context(), subject(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) MyRecords(c *gin.Context) {
	filter, ok := recordFilter(c)
	if !ok {
		return
	}
	filter.ParticipantID = subject(c)
	h.writeRecords(c, filter)
}

// ---------- admin ----------

type openRoomRequest struct {
	Code        string `json:"code"`
	AccessPoint string `json:"access_point"`
}

func (h *Handler) OpenRoom(c *gin.Context) {
	var req openRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	room, err := h.engine.OpenRoom(c.Request.Context(), subject(c), req.Code, req.AccessPoint)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.engine.Rooms(c.Request.Context(), subject(c), c.Query("active") == "true")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) CloseRoom(c *gin.Context) {
	recs, err := h.engine.CloseRoom(c.Request.Context(), subject(c), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": len(recs), "records": recs})
}

func (h *Handler) RoomParticipants(c *gin.Context) {
	ctx := c.Request.Context()
	room, err := h.engine.Room(ctx, c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if room.AdminID != subject(c) {
		h.fail(c, presence.ErrNotOwner)
		return
	}
	present, err := h.engine.Present(ctx, room.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room":            room,
		"activity_window": h.engine.ActivityWindow().String(),
		"participants":    present,
	})
}

func (h *Handler) EndSession(c *gin.Context) {
	recs, err := h.engine.EndSession(c.Request.Context(), subject(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": len(recs), "records": recs})
}

// ResetAll is deployment-wide: it releases participants in every admin's
// rooms, not just the caller's.
func (h *Handler) ResetAll(c *gin.Context) {
	recs, err := h.engine.ResetAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Warn("global presence reset", "admin", subject(c), "released", len(recs))
	c.JSON(http.StatusOK, gin.H{"released": len(recs), "records": recs})
}

// Records lists the admin's ledger entries; format=csv downloads them.
func (h *Handler) Records(c *gin.Context) {
	filter, ok := recordFilter(c)
	if !ok {
		return
	}
	filter.AdminID = subject(c)
	filter.ParticipantID = c.Query("participant_id")
	filter.RoomCode = c.Query("room_code")
	h.writeRecords(c, filter)
}

func (h *Handler) Identify(c *gin.Context) {
	sample, err := readSample(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.biometric.Identify(c.Request.Context(), sample)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) writeRecords(c *gin.Context, filter presence.RecordFilter) {
	recs, err := h.engine.Records(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	if c.Query("format") != "csv" {
		c.JSON(http.StatusOK, gin.H{"records": recs})
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="attendance.csv"`)
	c.Status(http.StatusOK)
	if err := report.WriteCSV(c.Writer, recs); err != nil {
		h.logger.Error("write csv", "error", err)
	}
}

// recordFilter parses from, to (RFC 3339) and limit.
func recordFilter(c *gin.Context) (presence.RecordFilter, bool) {
	var f presence.RecordFilter
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, name+" must be RFC 3339")
			return f, false
		}
		*dst = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return f, false
		}
		f.Limit = n
	}
	return f, true
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"presence/internal/account"
	"presence/internal/auth"
	"presence/internal/biometric"
	"presence/internal/clock"
	"presence/internal/presence"
	"presence/internal/proximity"
	"presence/internal/store"
)

const (
	regKey = "let-me-in"
	bssid  = "aa:bb:cc:dd:ee:ff"
)

type fakeArchiver struct{ archived []string }

func (f *fakeArchiver) Archive(_ context.Context, id string, _ []byte) (string, error) {
	f.archived = append(f.archived, id)
	return "https://cdn.example/" + id, nil
}

type api struct {
	t        *testing.T
	router   *gin.Engine
	clock    *clock.Fake
	archiver *fakeArchiver
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ms := store.NewMemory()
	clk := clock.NewFake(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	bio := biometric.NewService(biometric.NewPixelMatcher(biometric.WholeImage{}, 16, 1000), ms, nil)
	engine := presence.NewEngine(ms, bio, presence.Options{
		Proximity: proximity.Validator{Required: true},
		Clock:     clk,
	})
	tokens := auth.NewTokens("presence-test", "secret", time.Hour, 24*time.Hour)
	archiver := &fakeArchiver{}
	h := New(Deps{
		Engine:    engine,
		Biometric: bio,
		Accounts:  account.NewService(ms, ms, tokens, regKey, nil, nil),
		Tokens:    tokens,
		Archiver:  archiver,
		Health:    map[string]HealthCheck{"store": func(context.Context) bool { return true }},
	})
	r := gin.New()
	h.Routes(r)
	return &api{t: t, router: r, clock: clk, archiver: archiver}
}

func (a *api) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *api) json(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, token)
}

func (a *api) form(path, token string, fields map[string]string, photo []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("photo", "face.png")
	if err != nil {
		a.t.Fatalf("form file: %v", err)
	}
	part.Write(photo)
	w.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return a.do(req, token)
}

func (a *api) login(role, handle, password string) string {
	w := a.json(http.MethodPost, "/v1/auth/login", "", map[string]string{"role": role, "handle": handle, "password": password})
	if w.Code != http.StatusOK {
		a.t.Fatalf("login %s: %d %s", handle, w.Code, w.Body.String())
	}
	var resp struct {
		Tokens auth.TokenPair `json:"tokens"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Tokens.AccessToken
}

func expect(t *testing.T, step string, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("%s: expected %d, got %d: %s", step, status, w.Code, w.Body.String())
	}
	if code == "" {
		return
	}
	var body struct {
		Error string `json:"error"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Error != code {
		t.Fatalf("%s: expected error %s, got %s", step, code, body.Error)
	}
}

func face(t *testing.T, vertical bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := x
			if vertical {
				v = y
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v * 16)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestPresenceFlow(t *testing.T) {
	a := newAPI(t)

	expect(t, "bad key", a.json(http.MethodPost, "/v1/admins", "", map[string]string{
		"handle": "boss", "password": "pw", "registration_key": "guess",
	}), http.StatusForbidden, "registration_key")
	expect(t, "register admin", a.json(http.MethodPost, "/v1/admins", "", map[string]string{
		"handle": "boss", "password": "pw", "registration_key": regKey,
	}), http.StatusCreated, "")
	expect(t, "register participant", a.json(http.MethodPost, "/v1/participants", "", map[string]string{
		"id": "S-001", "handle": "ada", "password": "pw",
	}), http.StatusCreated, "")
	expect(t, "duplicate participant", a.json(http.MethodPost, "/v1/participants", "", map[string]string{
		"id": "S-001", "handle": "other", "password": "pw",
	}), http.StatusConflict, "duplicate_participant")
	expect(t, "wrong password", a.json(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"role": "participant", "handle": "ada", "password": "nope",
	}), http.StatusUnauthorized, "invalid_credentials")

	admin := a.login("admin", "boss", "pw")
	student := a.login("participant", "ada", "pw")

	expect(t, "participant cannot open rooms", a.json(http.MethodPost, "/v1/rooms", student, map[string]string{"code": "R1", "access_point": bssid}), http.StatusForbidden, "")
	expect(t, "open room", a.json(http.MethodPost, "/v1/rooms", admin, map[string]string{"code": "R1", "access_point": bssid}), http.StatusCreated, "")
	expect(t, "duplicate room", a.json(http.MethodPost, "/v1/rooms", admin, map[string]string{"code": "R1", "access_point": bssid}), http.StatusConflict, "duplicate_room_code")

	expect(t, "admit before enroll", a.form("/v1/me/admit", student, map[string]string{"room_code": "R1", "access_point": bssid}, face(t, false)), http.StatusUnprocessableEntity, "not_enrolled")
	expect(t, "enroll", a.form("/v1/me/enroll", student, nil, face(t, false)), http.StatusCreated, "")
	if len(a.archiver.archived) != 1 || a.archiver.archived[0] != "S-001" {
		t.Fatalf("enrollment photo not archived: %v", a.archiver.archived)
	}
	expect(t, "enroll garbage", a.form("/v1/me/enroll", student, nil, []byte("not an image")), http.StatusUnprocessableEntity, "malformed_sample")

	expect(t, "wrong network", a.form("/v1/me/admit", student, map[string]string{"room_code": "R1", "access_point": "11:11:11:11:11:11"}, face(t, false)), http.StatusForbidden, "network_mismatch")
	expect(t, "wrong face", a.form("/v1/me/admit", student, map[string]string{"room_code": "R1", "access_point": bssid}, face(t, true)), http.StatusUnauthorized, "biometric_no_match")
	expect(t, "admit", a.form("/v1/me/admit", student, map[string]string{"room_code": "R1", "access_point": bssid}, face(t, false)), http.StatusOK, "")

	w := a.json(http.MethodGet, "/v1/rooms/R1/participants", admin, nil)
	expect(t, "participants", w, http.StatusOK, "")
	var listing struct {
		Participants []presence.Presence `json:"participants"`
	}
	json.Unmarshal(w.Body.Bytes(), &listing)
	if len(listing.Participants) != 1 || listing.Participants[0].Status != presence.Active {
		t.Fatalf("unexpected participants %s", w.Body.String())
	}

	a.clock.Advance(5 * time.Minute)
	expect(t, "heartbeat", a.json(http.MethodPost, "/v1/me/heartbeat", student, nil), http.StatusOK, "")
	expect(t, "release", a.json(http.MethodPost, "/v1/me/release", student, nil), http.StatusOK, "")
	w = a.json(http.MethodPost, "/v1/me/release", student, nil)
	expect(t, "release again", w, http.StatusOK, "")
	if !strings.Contains(w.Body.String(), `"record":null`) {
		t.Fatalf("second release should be a no-op: %s", w.Body.String())
	}
	expect(t, "heartbeat logged out", a.json(http.MethodPost, "/v1/me/heartbeat", student, nil), http.StatusConflict, "not_logged_in")

	w = a.json(http.MethodGet, "/v1/records?format=csv&room_code=R1", admin, nil)
	expect(t, "csv", w, http.StatusOK, "")
	wantCSV := "participant_id,room_code,login,logout,active_minutes\n" +
		"S-001,R1,2024-03-04T09:00:00Z,2024-03-04T09:05:00Z,5.00\n"
	if w.Body.String() != wantCSV {
		t.Fatalf("unexpected csv:\n%s", w.Body.String())
	}
	expect(t, "bad from", a.json(http.MethodGet, "/v1/me/records?from=yesterday", student, nil), http.StatusBadRequest, "bad_request")

	expect(t, "close", a.json(http.MethodPost, "/v1/rooms/R1/close", admin, nil), http.StatusOK, "")
	expect(t, "close again", a.json(http.MethodPost, "/v1/rooms/R1/close", admin, nil), http.StatusConflict, "room_closed")
	expect(t, "admit closed", a.form("/v1/me/admit", student, map[string]string{"room_code": "R1", "access_point": bssid}, face(t, false)), http.StatusConflict, "room_invalid")

	expect(t, "identify", a.form("/v1/identify", admin, nil, face(t, false)), http.StatusNotImplemented, "identify_unsupported")
	expect(t, "health", a.json(http.MethodGet, "/healthz", "", nil), http.StatusOK, "")
}

func TestResetSpansEveryAdmin(t *testing.T) {
	a := newAPI(t)
	rooms := map[string]string{"boss": "R1", "other": "R2"}
	students := map[string]string{"S-001": "R1", "S-002": "R2"}
	admins := map[string]string{}
	for handle, code := range rooms {
		expect(t, "register "+handle, a.json(http.MethodPost, "/v1/admins", "", map[string]string{
			"handle": handle, "password": "pw", "registration_key": regKey,
		}), http.StatusCreated, "")
		admins[handle] = a.login("admin", handle, "pw")
		expect(t, "open "+code, a.json(http.MethodPost, "/v1/rooms", admins[handle], map[string]string{"code": code, "access_point": bssid}), http.StatusCreated, "")
	}
	tokens := map[string]string{}
	for id, code := range students {
		expect(t, "register "+id, a.json(http.MethodPost, "/v1/participants", "", map[string]string{
			"id": id, "handle": id, "password": "pw",
		}), http.StatusCreated, "")
		tokens[id] = a.login("participant", id, "pw")
		expect(t, "enroll "+id, a.form("/v1/me/enroll", tokens[id], nil, face(t, false)), http.StatusCreated, "")
		expect(t, "admit "+id, a.form("/v1/me/admit", tokens[id], map[string]string{"room_code": code, "access_point": bssid}, face(t, false)), http.StatusOK, "")
	}

	w := a.json(http.MethodPost, "/v1/session/reset", admins["boss"], nil)
	expect(t, "reset", w, http.StatusOK, "")
	var resp struct {
		Released int `json:"released"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Released != 2 {
		t.Fatalf("reset should release both rooms' participants: %s", w.Body.String())
	}
	for id := range students {
		expect(t, "heartbeat "+id, a.json(http.MethodPost, "/v1/me/heartbeat", tokens[id], nil), http.StatusConflict, "not_logged_in")
	}
	expect(t, "participant cannot reset", a.json(http.MethodPost, "/v1/session/reset", tokens["S-001"], nil), http.StatusForbidden, "")
}

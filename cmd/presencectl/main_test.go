package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAdmitSendsForm(t *testing.T) {
	var got struct{ room, ap, auth, photo string }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/me/admit" {
			http.NotFound(w, r)
			return
		}
		got.auth = r.Header.Get("Authorization")
		got.room = r.FormValue("room_code")
		got.ap = r.FormValue("access_point")
		if f, _, err := r.FormFile("photo"); err == nil {
			buf := make([]byte, 16)
			n, _ := f.Read(buf)
			got.photo = string(buf[:n])
		}
		w.Write([]byte(`{"participant":{}}`))
	}))
	defer srv.Close()

	photo := filepath.Join(t.TempDir(), "face.png")
	os.WriteFile(photo, []byte("pixels"), 0o600)

	var out strings.Builder
	err := run([]string{"admit", "--server", srv.URL, "--token", "tok", "--room", "R1", "--photo", photo, "--access-point", "aa:bb:cc:dd:ee:ff"}, &out)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if got.auth != "Bearer tok" || got.room != "R1" || got.ap != "aa:bb:cc:dd:ee:ff" || got.photo != "pixels" {
		t.Fatalf("unexpected request %+v", got)
	}
	if !strings.Contains(out.String(), "admitted to R1") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestServerErrorsSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"not_logged_in","detail":"participant not logged in"}`))
	}))
	defer srv.Close()

	err := run([]string{"heartbeat", "--server", srv.URL}, &strings.Builder{})
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Code != "not_logged_in" {
		t.Fatalf("expected not_logged_in, got %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		nil,
		{"dance"},
		{"admit", "--room", "R1"},
		{"login", "--handle", "ada"},
	}
	for _, args := range cases {
		if err := run(args, &strings.Builder{}); err == nil {
			t.Fatalf("%v: expected an error", args)
		}
	}
}

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIssueAndParse(t *testing.T) {
	tokens := NewTokens("presence", "secret", 15*time.Minute, 24*time.Hour)
	pair, err := tokens.Issue("p-1", RoleParticipant, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := tokens.Parse(pair.AccessToken, KindAccess)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != "p-1" || claims.Role != RoleParticipant {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := tokens.Parse(pair.RefreshToken, KindAccess); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
	refresh, err := tokens.Parse(pair.RefreshToken, KindRefresh)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if refresh.ID != pair.RefreshID {
		t.Fatalf("expected jti %s, got %s", pair.RefreshID, refresh.ID)
	}
}

func TestParseRejects(t *testing.T) {
	tokens := NewTokens("presence", "secret", time.Minute, time.Hour)
	other := NewTokens("other", "secret", time.Minute, time.Hour)
	wrongKey := NewTokens("presence", "different", time.Minute, time.Hour)

	expired, _ := tokens.Issue("p-1", RoleAdmin, time.Now().Add(-2*time.Hour))
	foreign, _ := other.Issue("p-1", RoleAdmin, time.Now())
	forged, _ := wrongKey.Issue("p-1", RoleAdmin, time.Now())

	cases := map[string]string{
		"expired": expired.AccessToken,
		"issuer":  foreign.AccessToken,
		"key":     forged.AccessToken,
		"garbage": "not.a.jwt",
		"empty":   "",
	}
	for name, tok := range cases {
		if _, err := tokens.Parse(tok, KindAccess); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := CheckPassword(hash, "hunter2"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := CheckPassword(hash, "hunter3"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := NewTokens("presence", "secret", time.Minute, time.Hour)
	r := gin.New()
	r.GET("/admin", Require(tokens, RoleAdmin), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	admin, _ := tokens.Issue("a-1", RoleAdmin, time.Now())
	participant, _ := tokens.Issue("p-1", RoleParticipant, time.Now())

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"admin", "Bearer " + admin.AccessToken, http.StatusOK},
		{"participant", "Bearer " + participant.AccessToken, http.StatusForbidden},
		{"refresh", "Bearer " + admin.RefreshToken, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
		if tc.want == http.StatusOK && w.Body.String() != "a-1" {
			t.Fatalf("%s: unexpected body %q", tc.name, w.Body.String())
		}
	}
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func testJWTConfig() JWTConfig {
	return JWTConfig{
		Issuer:     "registry",
		Audience:   "registry-api",
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
	}
}

func doAuthed(t *testing.T, cfg JWTConfig, token string, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := JWTMiddleware(cfg)(handler)(c)
	if err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestJWTRoundTrip(t *testing.T) {
	cfg := testJWTConfig()
	token, err := IssueToken(cfg, "coordinator@site-a", []string{"coordinator"}, "site-a", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	rec := doAuthed(t, cfg, token, func(c echo.Context) error {
		ctx := c.Request().Context()
		if got := SubjectFromContext(ctx); got != "coordinator@site-a" {
			t.Errorf("subject = %q", got)
		}
		if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != "coordinator" {
			t.Errorf("roles = %v", roles)
		}
		if got := CenterFromContext(ctx); got != "site-a" {
			t.Errorf("center = %q", got)
		}
		return c.NoContent(http.StatusOK)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestJWTRejectsMissingHeader(t *testing.T) {
	rec := doAuthed(t, testJWTConfig(), "", func(c echo.Context) error {
		t.Error("handler must not run")
		return nil
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestJWTRejectsWrongKey(t *testing.T) {
	other := testJWTConfig()
	other.SigningKey = []byte("ffffffffffffffffffffffffffffffff")
	token, err := IssueToken(other, "x", []string{"admin"}, "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rec := doAuthed(t, testJWTConfig(), token, func(c echo.Context) error {
		t.Error("handler must not run")
		return nil
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	cfg := testJWTConfig()
	token, err := IssueToken(cfg, "x", []string{"admin"}, "", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	rec := doAuthed(t, cfg, token, func(c echo.Context) error {
		t.Error("handler must not run")
		return nil
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestJWTRejectsWrongIssuer(t *testing.T) {
	minted := testJWTConfig()
	minted.Issuer = "someone-else"
	token, err := IssueToken(minted, "x", []string{"admin"}, "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rec := doAuthed(t, testJWTConfig(), token, func(c echo.Context) error {
		t.Error("handler must not run")
		return nil
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	cfg := testJWTConfig()
	tests := []struct {
		name     string
		roles    []string
		required []string
		want     int
	}{
		{"exact role", []string{"monitor"}, []string{"monitor"}, http.StatusOK},
		{"one of several", []string{"investigator"}, []string{"monitor", "investigator"}, http.StatusOK},
		{"admin wildcard", []string{"admin"}, []string{"coordinator"}, http.StatusOK},
		{"missing role", []string{"investigator"}, []string{"coordinator"}, http.StatusForbidden},
		{"no roles", nil, []string{"coordinator"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := IssueToken(cfg, "x", tt.roles, "", time.Hour)
			if err != nil {
				t.Fatal(err)
			}
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			handler := JWTMiddleware(cfg)(RequireRole(tt.required...)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			}))
			if err := handler(c); err != nil {
				e.HTTPErrorHandler(err, c)
			}
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

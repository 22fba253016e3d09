package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mediauth/go-rx/internal/auth"
	"github.com/mediauth/go-rx/internal/domain/errs"
	"github.com/mediauth/go-rx/internal/domain/user"
)

type fakeUserSource struct {
	users map[int64]user.User
}

func (s *fakeUserSource) GetByID(ctx context.Context, id int64) (user.User, error) {
	u, ok := s.users[id]
	if !ok {
		return user.User{}, errs.Newf(errs.KindNotFound, "user %d not found", id)
	}
	return u, nil
}

func TestBearerAuth(t *testing.T) {
	secret := []byte("test-secret")
	source := &fakeUserSource{users: map[int64]user.User{
		42: {ID: 42, Username: "drsmith", Role: user.RoleDoctor},
	}}

	var gotUser user.User
	var gotOK bool
	handler := BearerAuth(secret, source)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotOK = GetUser(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := auth.SignToken(secret, 42, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if !gotOK || gotUser.ID != 42 || gotUser.Role != user.RoleDoctor {
		t.Errorf("context user = %+v ok=%v", gotUser, gotOK)
	}
}

func TestBearerAuthRejections(t *testing.T) {
	secret := []byte("test-secret")
	source := &fakeUserSource{users: map[int64]user.User{
		42: {ID: 42, Role: user.RoleDoctor},
	}}

	handler := BearerAuth(secret, source)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without valid auth")
	}))

	wrongSecret, err := auth.SignToken([]byte("other"), 42, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	unknownUser, err := auth.SignToken(secret, 99, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.token"},
		{"wrong secret", "Bearer " + wrongSecret},
		{"unknown user", "Bearer " + unknownUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	// Generated when absent.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Error("request ID not generated")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Error("request ID not echoed in response header")
	}

	// Propagated when supplied.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "client-supplied" {
		t.Errorf("request ID = %q, want client-supplied", seen)
	}
}

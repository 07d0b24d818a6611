package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" || r.Header.Get("apikey") != "anon-key" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good-token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"id":"user-1","email":"ana@example.com","app_metadata":{"role":"admin"}}`)
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPResolver_Resolve(t *testing.T) {
	srv := newProvider(t)
	resolver := NewHTTPResolver(srv.URL+"/", "anon-key", srv.Client())

	user, err := resolver.Resolve(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, &User{ID: "user-1", Email: "ana@example.com", Role: "admin"}, user)

	_, err = resolver.Resolve(context.Background(), "bad-token")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = resolver.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = resolver.Resolve(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer abc":  "abc",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
		"Bearer  xyz": "xyz",
	}
	for header, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, BearerToken(r), "header %q", header)
	}
}

type stubResolver struct {
	user *User
	err  error
}

func (s stubResolver) Resolve(context.Context, string) (*User, error) {
	return s.user, s.err
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen *User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("resolved user reaches handler", func(t *testing.T) {
		seen = nil
		h := Middleware(stubResolver{user: &User{ID: "u1"}}, logger)(next)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "u1", seen.ID)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		h := Middleware(stubResolver{err: ErrUnauthenticated}, logger)(next)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("provider failure", func(t *testing.T) {
		h := Middleware(stubResolver{err: errors.New("dial tcp: refused")}, logger)(next)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RequireRole("admin")(next)

	cases := []struct {
		name string
		user *User
		want int
	}{
		{"admin", &User{ID: "a", Role: "admin"}, http.StatusOK},
		{"customer", &User{ID: "c"}, http.StatusForbidden},
		{"anonymous", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.user != nil {
				r = r.WithContext(WithUser(r.Context(), tc.user))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

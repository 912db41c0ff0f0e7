package authgate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/session"
)

func writeUser(w http.ResponseWriter, u model.User) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(u)
}

func TestLogin_StoresSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Email != "user@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken": "issued-token",
			"user":        model.User{ID: "u1", Email: creds.Email, Role: model.RoleCustomer},
		})
	}))
	defer srv.Close()

	sess := session.NewStore()
	gate := NewGate(srv.URL, sess, zap.NewNop())

	u, err := gate.Login(context.Background(), "user@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.ID != "u1" {
		t.Fatalf("user.ID = %q, want u1", u.ID)
	}

	if sess.Token() != "issued-token" {
		t.Fatalf("session token = %q, want issued-token", sess.Token())
	}
	if sess.UserID() != "u1" {
		t.Fatalf("session userID = %q, want u1", sess.UserID())
	}
	if sess.Role() != string(model.RoleCustomer) {
		t.Fatalf("session role = %q, want customer", sess.Role())
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := session.NewStore()
	gate := NewGate(srv.URL, sess, zap.NewNop())

	if _, err := gate.Login(context.Background(), "user@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if sess.Token() != "" {
		t.Fatalf("session token = %q, want empty after failed login", sess.Token())
	}
}

func TestLogin_MissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gate := NewGate(srv.URL, session.NewStore(), zap.NewNop())

	if _, err := gate.Login(context.Background(), "", "secret"); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("empty email: err = %v, want ErrMissingFields", err)
	}
	if _, err := gate.Login(context.Background(), "user@example.com", ""); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("empty password: err = %v, want ErrMissingFields", err)
	}
}

func TestCheck_NoTokenRedirectsToLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gate := NewGate(srv.URL, session.NewStore(), zap.NewNop())

	decision, u := gate.Check(context.Background(), model.RoleCustomer)
	if decision != DecisionRedirectLogin {
		t.Fatalf("decision = %v, want DecisionRedirectLogin", decision)
	}
	if u != nil {
		t.Fatalf("user = %+v, want nil", u)
	}
}

func TestCheck_RendersForMatchingRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeUser(w, model.User{ID: "u1", Email: "user@example.com", Role: model.RoleCustomer})
	}))
	defer srv.Close()

	sess := session.NewStore()
	sess.SetSession("tok", "u1", string(model.RoleCustomer))
	gate := NewGate(srv.URL, sess, zap.NewNop())

	decision, u := gate.Check(context.Background(), model.RoleCustomer)
	if decision != DecisionRender {
		t.Fatalf("decision = %v, want DecisionRender", decision)
	}
	if u == nil || u.ID != "u1" {
		t.Fatalf("user = %+v, want u1", u)
	}
}

func TestCheck_RoleMismatchRedirectsToFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeUser(w, model.User{ID: "u1", Email: "user@example.com", Role: model.RoleCustomer})
	}))
	defer srv.Close()

	sess := session.NewStore()
	// Подделанная подсказка роли в сессии не даёт доступа: решает ответ сервера.
	sess.SetSession("tok", "u1", string(model.RoleAdmin))
	gate := NewGate(srv.URL, sess, zap.NewNop())

	decision, u := gate.Check(context.Background(), model.RoleAdmin)
	if decision != DecisionRedirectFallback {
		t.Fatalf("decision = %v, want DecisionRedirectFallback", decision)
	}
	if u == nil || u.Role != model.RoleCustomer {
		t.Fatalf("user = %+v, want server-confirmed customer", u)
	}
}

func TestCheck_BackendFailureRedirectsToLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sess := session.NewStore()
	sess.SetSession("tok", "u1", string(model.RoleCustomer))
	gate := NewGate(srv.URL, sess, zap.NewNop())

	decision, _ := gate.Check(context.Background(), model.RoleCustomer)
	if decision != DecisionRedirectLogin {
		t.Fatalf("decision = %v, want DecisionRedirectLogin", decision)
	}
}

func TestCheckAsync_VerifyingThenRender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		writeUser(w, model.User{ID: "u1", Email: "user@example.com", Role: model.RoleCustomer})
	}))
	defer srv.Close()

	sess := session.NewStore()
	sess.SetSession("tok", "u1", string(model.RoleCustomer))
	gate := NewGate(srv.URL, sess, zap.NewNop())

	decision, result := gate.CheckAsync(context.Background(), model.RoleCustomer)
	if decision != DecisionVerifying {
		t.Fatalf("initial decision = %v, want DecisionVerifying", decision)
	}

	final := <-result
	if final.Decision != DecisionRender {
		t.Fatalf("final decision = %v, want DecisionRender", final.Decision)
	}
	if final.User == nil || final.User.ID != "u1" {
		t.Fatalf("final user = %+v, want u1", final.User)
	}
}

func TestCurrentUser_NoSession(t *testing.T) {
	gate := NewGate("http://localhost:1", session.NewStore(), zap.NewNop())

	if _, err := gate.CurrentUser(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestCurrentUser_SessionRoleFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeUser(w, model.User{ID: "u1", Email: "user@example.com"})
	}))
	defer srv.Close()

	sess := session.NewStore()
	sess.SetSession("tok", "u1", string(model.RoleCustomer))
	gate := NewGate(srv.URL, sess, zap.NewNop())

	u, err := gate.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if u.Role != model.RoleCustomer {
		t.Fatalf("role = %q, want session fallback customer", u.Role)
	}
}

func TestCurrentUser_ConcurrentChecksShareRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		writeUser(w, model.User{ID: "u1", Email: "user@example.com", Role: model.RoleCustomer})
	}))
	defer srv.Close()

	sess := session.NewStore()
	sess.SetSession("tok", "u1", string(model.RoleCustomer))
	gate := NewGate(srv.URL, sess, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := gate.CurrentUser(context.Background()); err != nil {
				t.Errorf("current user: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("server calls = %d, want 1 shared request", got)
	}
}

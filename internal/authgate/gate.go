// Package authgate решает, показывать ли защищённое представление:
// проверяет наличие токена и подтверждает роль у сервера. Роль из
// сессионного хранилища никогда не служит единственным источником.
package authgate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/session"
)

// Decision описывает решение по защищённому представлению.
type Decision int

const (
	// DecisionVerifying показывается, пока идёт подтверждение пользователя.
	DecisionVerifying Decision = iota
	// DecisionRender разрешает показать защищённое представление.
	DecisionRender
	// DecisionRedirectLogin перенаправляет на страницу входа.
	DecisionRedirectLogin
	// DecisionRedirectFallback перенаправляет на безопасный маршрут по умолчанию.
	DecisionRedirectFallback
)

// FallbackRoute — безопасный маршрут по умолчанию: список товаров.
const FallbackRoute = "/products"

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMissingFields возвращается, если email или пароль не заполнены.
	ErrMissingFields = errors.New("email and password are required")
	// ErrNoSession возвращается при отсутствии токена в сессии.
	ErrNoSession = errors.New("no active session")
)

// Gate проверяет доступ к защищённым представлениям. Параллельные
// проверки разных маршрутов разделяют один запрос пользователя к серверу.
type Gate struct {
	baseURL string
	session *session.Store
	logger  *zap.Logger

	httpClient *retryablehttp.Client
	flight     singleflight.Group
}

// NewGate создаёт гейт для указанного адреса бэкенда и сессионного хранилища.
func NewGate(baseURL string, sess *session.Store, logger *zap.Logger) *Gate {
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = nil

	return &Gate{
		baseURL:    baseURL,
		session:    sess,
		logger:     logger,
		httpClient: client,
	}
}

type loginResponse struct {
	AccessToken string      `json:"accessToken"`
	User        *model.User `json:"user"`
}

// Login аутентифицирует пользователя и сохраняет сессию: токен,
// идентификатор и подсказку роли.
func (g *Gate) Login(ctx context.Context, email, password string) (*model.User, error) {
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}

	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}

	// Мутация не повторяется автоматически: один запрос, один результат.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrInvalidCredentials
	case http.StatusBadRequest:
		return nil, ErrMissingFields
	default:
		return nil, fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if lr.AccessToken == "" || lr.User == nil {
		return nil, fmt.Errorf("login: incomplete response")
	}

	g.session.SetSession(lr.AccessToken, lr.User.ID, string(lr.User.Role))
	return lr.User, nil
}

// Logout завершает сессию.
func (g *Gate) Logout() {
	g.session.Clear()
}

// CurrentUser возвращает подтверждённого сервером пользователя.
// Параллельные вызовы для одной сессии разделяют один запрос.
func (g *Gate) CurrentUser(ctx context.Context) (*model.User, error) {
	token := g.session.Token()
	userID := g.session.UserID()
	if token == "" || userID == "" {
		return nil, ErrNoSession
	}

	v, err, _ := g.flight.Do(userID, func() (any, error) {
		return g.fetchUser(ctx, token, userID)
	})
	if err != nil {
		return nil, err
	}

	return v.(*model.User), nil
}

func (g *Gate) fetchUser(ctx context.Context, token, userID string) (*model.User, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/users/"+userID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch user: status %d", resp.StatusCode)
	}

	var u model.User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}

	// Сервер — авторитетный источник роли; сессионная подсказка
	// используется только если роль в ответе отсутствует.
	if u.Role == "" {
		u.Role = model.Role(g.session.Role())
	}

	return &u, nil
}

// CheckResult несёт итог асинхронной проверки доступа.
type CheckResult struct {
	Decision Decision
	User     *model.User
}

// CheckAsync запускает проверку доступа в фоне. Немедленно возвращает
// DecisionVerifying для показа нейтральной заглушки; итоговое решение
// приходит в канал.
func (g *Gate) CheckAsync(ctx context.Context, requiredRole model.Role) (Decision, <-chan CheckResult) {
	ch := make(chan CheckResult, 1)
	go func() {
		decision, u := g.Check(ctx, requiredRole)
		ch <- CheckResult{Decision: decision, User: u}
	}()
	return DecisionVerifying, ch
}

// Check выполняет проверку доступа к защищённому представлению:
// нет токена — вход; сервер не подтвердил пользователя — вход;
// роль не совпадает с требуемой — безопасный маршрут; иначе показ.
func (g *Gate) Check(ctx context.Context, requiredRole model.Role) (Decision, *model.User) {
	if g.session.Token() == "" {
		return DecisionRedirectLogin, nil
	}

	u, err := g.CurrentUser(ctx)
	if err != nil {
		g.logger.Info("user verification failed", zap.Error(err))
		return DecisionRedirectLogin, nil
	}

	if requiredRole != "" && u.Role != requiredRole {
		return DecisionRedirectFallback, u
	}

	return DecisionRender, u
}

// Package ticketclient реализует клиент тикетов поддержки: чтение и
// мутации через бэкенд, кеш по ключам запросов с точечной инвалидацией
// и согласованное с ролью представление.
package ticketclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/session"
	"github.com/mmeshcher/storefront-system/internal/validation"
)

// ErrUnauthorized возвращается при ответе 401: интерфейс перенаправляет на вход.
var (
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound возвращается для отсутствующего тикета; покупателю чужой
	// тикет также показывается как отсутствующий.
	ErrNotFound = errors.New("ticket not found")
	// ErrValidation возвращается до обращения к серверу: мутация с
	// некорректными данными не отправляется.
	ErrValidation = errors.New("validation failed")
	// ErrTicketClosed возвращается при ответе в resolved или closed тикет.
	ErrTicketClosed = errors.New("ticket is closed for replies")
	// ErrForbidden возвращается, когда операция недоступна роли вызывающего.
	ErrForbidden = errors.New("forbidden")
)

// ServerError несёт сообщение сервера для показа пользователю.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: status %d", e.Status)
	}
	return e.Message
}

// IdentityProvider отдаёт подтверждённого сервером текущего пользователя.
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (*model.User, error)
}

// NotificationSummary содержит счётчики уведомлений, полученные от бэкенда.
type NotificationSummary struct {
	Count               int       `json:"count"`
	OrderCount          int       `json:"orderCount"`
	TicketCount         int       `json:"ticketCount"`
	NotificationsReadAt time.Time `json:"notificationsReadAt"`
}

// Client выполняет операции с тикетами через бэкенд. Чтения кешируются
// по стабильным ключам; мутации инвалидируют ключи по таблице
// mutationInvalidations. Чтения повторяются один раз при временном сбое,
// мутации не повторяются никогда.
type Client struct {
	baseURL  string
	session  *session.Store
	identity IdentityProvider
	logger   *zap.Logger
	cache    *queryCache

	readClient   *retryablehttp.Client
	mutateClient *retryablehttp.Client
}

// NewClient создаёт клиент тикетов для указанного адреса бэкенда.
func NewClient(baseURL string, sess *session.Store, identity IdentityProvider, logger *zap.Logger) *Client {
	read := retryablehttp.NewClient()
	read.RetryMax = 1
	read.RetryWaitMin = 100 * time.Millisecond
	read.RetryWaitMax = time.Second
	read.Logger = nil
	read.ErrorHandler = retryablehttp.PassthroughErrorHandler

	mutate := retryablehttp.NewClient()
	mutate.RetryMax = 0
	mutate.Logger = nil
	mutate.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		session:      sess,
		identity:     identity,
		logger:       logger,
		cache:        newQueryCache(),
		readClient:   read,
		mutateClient: mutate,
	}
}

func (c *Client) do(ctx context.Context, client *retryablehttp.Client, method, path string, body any) (int, []byte, error) {
	token := c.session.Token()
	if token == "" {
		return 0, nil, ErrUnauthorized
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, data, nil
}

// serverMessage достаёт текст ошибки из тела ответа для показа пользователю.
func serverMessage(body []byte) string {
	var er struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &er); err != nil {
		return ""
	}
	return er.Error
}

type ticketsPayload struct {
	Tickets []model.Ticket `json:"tickets"`
}

type ticketPayload struct {
	Ticket *model.Ticket `json:"ticket"`
}

// ListTickets возвращает тикеты вызывающего. Для покупателя список
// дополнительно фильтруется по владельцу на клиенте: сервер уже сузил
// выборку, фильтр — защита в глубину.
func (c *Client) ListTickets(ctx context.Context) ([]model.Ticket, error) {
	if cached, ok := c.cache.get(KeyTickets); ok {
		return cached.([]model.Ticket), nil
	}

	status, body, err := c.do(ctx, c.readClient, http.MethodGet, "/tickets", nil)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, &ServerError{Status: status, Message: serverMessage(body)}
	}

	var payload ticketsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode tickets: %w", err)
	}

	// Без подтверждённого пользователя фильтр неприменим: список не
	// отдаётся и не кешируется.
	u, err := c.identity.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify caller: %w", err)
	}

	tickets := payload.Tickets
	if u.Role != model.RoleAdmin {
		owned := make([]model.Ticket, 0, len(tickets))
		for _, t := range tickets {
			if t.OwnedBy(u.Email) {
				owned = append(owned, t)
			}
		}
		tickets = owned
	}

	c.cache.put(KeyTickets, tickets)
	return tickets, nil
}

// GetTicket возвращает тикет с историей сообщений по возрастанию времени.
func (c *Client) GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	key := KeyTicket(ticketID)
	if cached, ok := c.cache.get(key); ok {
		return cached.(*model.Ticket), nil
	}

	status, body, err := c.do(ctx, c.readClient, http.MethodGet, "/tickets/"+ticketID, nil)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusForbidden, http.StatusNotFound:
		// Чужой тикет для покупателя неотличим от отсутствующего.
		return nil, ErrNotFound
	default:
		return nil, &ServerError{Status: status, Message: serverMessage(body)}
	}

	var payload ticketPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	if payload.Ticket == nil {
		return nil, fmt.Errorf("decode ticket: missing ticket in response")
	}

	t := payload.Ticket
	t.Messages = t.SortedMessages()

	c.cache.put(key, t)
	return t, nil
}

// CreateTicket создаёт обращение. Тема и текст проверяются до отправки,
// сервер проверяет их повторно.
func (c *Client) CreateTicket(ctx context.Context, subject, body string) (*model.Ticket, error) {
	if !validation.IsValidSubject(subject) {
		return nil, fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if !validation.IsValidBody(body) {
		return nil, fmt.Errorf("%w: body must be at least %d characters", ErrValidation, validation.MinBodyLength)
	}

	status, respBody, err := c.do(ctx, c.mutateClient, http.MethodPost, "/tickets", map[string]string{
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusCreated:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrValidation, serverMessage(respBody))
	default:
		return nil, &ServerError{Status: status, Message: serverMessage(respBody)}
	}

	var payload ticketPayload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	if payload.Ticket == nil {
		return nil, fmt.Errorf("decode ticket: missing ticket in response")
	}

	c.cache.invalidateFor(mutationCreateTicket, "")
	return payload.Ticket, nil
}

// ReplyToTicket добавляет ответ в тикет. Текст короче десяти символов
// не отправляется; resolved и closed тикеты не принимают ответов.
func (c *Client) ReplyToTicket(ctx context.Context, ticketID, message string) (*model.Ticket, error) {
	if !validation.IsValidBody(message) {
		return nil, fmt.Errorf("%w: message must be at least %d characters", ErrValidation, validation.MinBodyLength)
	}

	status, respBody, err := c.do(ctx, c.mutateClient, http.MethodPost, "/tickets/"+ticketID+"/replies", map[string]string{
		"message": message,
	})
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusForbidden, http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusConflict:
		return nil, ErrTicketClosed
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrValidation, serverMessage(respBody))
	default:
		return nil, &ServerError{Status: status, Message: serverMessage(respBody)}
	}

	var payload ticketPayload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	if payload.Ticket == nil {
		return nil, fmt.Errorf("decode ticket: missing ticket in response")
	}

	c.cache.invalidateFor(mutationReplyToTicket, ticketID)
	return payload.Ticket, nil
}

// UpdateTicketStatus переводит тикет в новый статус. Операция доступна
// администратору; допустимость перехода подтверждает сервер по той же
// таблице, по которой интерфейс отбирает доступные действия.
func (c *Client) UpdateTicketStatus(ctx context.Context, ticketID string, status model.TicketStatus) (*model.Ticket, error) {
	if !model.IsValidStatus(string(status)) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	code, respBody, err := c.do(ctx, c.mutateClient, http.MethodPatch, "/tickets/"+ticketID+"/status", map[string]string{
		"status": string(status),
	})
	if err != nil {
		return nil, err
	}

	switch code {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusForbidden:
		return nil, ErrForbidden
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusConflict:
		return nil, model.ErrInvalidTransition
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrValidation, serverMessage(respBody))
	default:
		return nil, &ServerError{Status: code, Message: serverMessage(respBody)}
	}

	var payload ticketPayload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	if payload.Ticket == nil {
		return nil, fmt.Errorf("decode ticket: missing ticket in response")
	}

	c.cache.invalidateFor(mutationUpdateStatus, ticketID)
	return payload.Ticket, nil
}

// NotificationCount возвращает счётчики уведомлений вызывающего.
func (c *Client) NotificationCount(ctx context.Context) (*NotificationSummary, error) {
	if cached, ok := c.cache.get(KeyNotificationCount); ok {
		return cached.(*NotificationSummary), nil
	}

	status, body, err := c.do(ctx, c.readClient, http.MethodGet, "/notifications/count", nil)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, &ServerError{Status: status, Message: serverMessage(body)}
	}

	var summary NotificationSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("decode notification count: %w", err)
	}

	c.cache.put(KeyNotificationCount, &summary)
	return &summary, nil
}

// MarkNotificationsRead обнуляет счётчик уведомлений оптимистично:
// локальное значение сбрасывается сразу, при ошибке сервера
// восстанавливается снимок.
func (c *Client) MarkNotificationsRead(ctx context.Context) error {
	op := optimistic{
		prepare: func() any {
			cached, ok := c.cache.get(KeyNotificationCount)
			if !ok {
				return nil
			}
			return cached
		},
		apply: func() {
			c.cache.put(KeyNotificationCount, &NotificationSummary{})
		},
		rollback: func(snapshot any) {
			if snapshot == nil {
				c.cache.invalidate(KeyNotificationCount)
				return
			}
			c.cache.put(KeyNotificationCount, snapshot)
		},
	}

	return runOptimistic(op, func() error {
		status, body, err := c.do(ctx, c.mutateClient, http.MethodPost, "/notifications/read", nil)
		if err != nil {
			return err
		}

		switch status {
		case http.StatusOK:
		case http.StatusUnauthorized:
			return ErrUnauthorized
		default:
			return &ServerError{Status: status, Message: serverMessage(body)}
		}

		var resp struct {
			NotificationsReadAt time.Time `json:"notificationsReadAt"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}

		c.cache.put(KeyNotificationCount, &NotificationSummary{
			NotificationsReadAt: resp.NotificationsReadAt,
		})
		c.cache.invalidateFor(mutationNotificationRead, "")
		return nil
	})
}

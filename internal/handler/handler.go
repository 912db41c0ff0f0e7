// Package handler содержит HTTP-обработчики API сервиса витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/middleware"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/service"
	"github.com/mmeshcher/storefront-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, name, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListProducts(ctx context.Context, nameLike string) ([]model.Product, error)
	ListFeaturedProducts(ctx context.Context) ([]model.Product, error)
	ListTickets(ctx context.Context, caller *model.User) ([]model.Ticket, error)
	GetTicket(ctx context.Context, caller *model.User, ticketID string) (*model.Ticket, error)
	CreateTicket(ctx context.Context, caller *model.User, subject, body string) (*model.Ticket, error)
	ReplyToTicket(ctx context.Context, caller *model.User, ticketID, message string) (*model.Ticket, error)
	UpdateTicketStatus(ctx context.Context, caller *model.User, ticketID string, status model.TicketStatus) (*model.Ticket, error)
	NotificationSummary(ctx context.Context, caller *model.User) (*service.NotificationSummary, error)
	MarkNotificationsRead(ctx context.Context, userID string) (time.Time, error)
}

// Handler реализует HTTP-обработчики API сервиса витрины.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// currentUser загружает вызывающего пользователя по идентификатору из контекста.
func (h *Handler) currentUser(r *http.Request) (*model.User, bool, error) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		return nil, false, nil
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return u, true, nil
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string      `json:"accessToken"`
	User        *model.User `json:"user"`
}

// Login выполняет аутентификацию пользователя и выпускает bearer-токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.logger.Error("login error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken: h.authMiddleware.IssueToken(u.ID),
		User:        u,
	})
}

// Register создаёт нового пользователя и сразу выпускает bearer-токен.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Email, name and password are required")
		return
	}

	if !validation.IsValidEmail(req.Email) || req.Name == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email, name and password are required")
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			writeError(w, http.StatusConflict, "User already exists")
			return
		}
		h.logger.Error("register error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken: h.authMiddleware.IssueToken(u.ID),
		User:        u,
	})
}

// GetUser возвращает запись пользователя. Токен должен принадлежать
// запрошенному пользователю.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	requestedID := chi.URLParam(r, "id")
	if requestedID != callerID {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	u, err := h.service.GetUser(r.Context(), requestedID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("get user error", zap.Error(err), zap.String("userID", requestedID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// ListProducts возвращает товары каталога с фильтром по подстроке имени.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context(), r.URL.Query().Get("name_like"))
	if err != nil {
		h.logger.Error("list products error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, products)
}

// ListFeaturedProducts возвращает товары витринной подборки.
func (h *Handler) ListFeaturedProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListFeaturedProducts(r.Context())
	if err != nil {
		h.logger.Error("list featured products error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, products)
}

type ticketsResponse struct {
	Tickets []model.Ticket `json:"tickets"`
}

type ticketResponse struct {
	Ticket *model.Ticket `json:"ticket"`
}

// ListTickets возвращает тикеты вызывающего с учётом его роли.
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	caller, ok, err := h.currentUser(r)
	if err != nil {
		h.logger.Error("resolve caller error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	tickets, err := h.service.ListTickets(r.Context(), caller)
	if err != nil {
		h.logger.Error("list tickets error", zap.Error(err), zap.String("userID", caller.ID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, ticketsResponse{Tickets: tickets})
}

// GetTicket возвращает тикет с полной историей сообщений.
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	caller, ok, err := h.currentUser(r)
	if err != nil {
		h.logger.Error("resolve caller error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	t, err := h.service.GetTicket(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTicketNotFound):
			writeError(w, http.StatusNotFound, "Ticket not found")
		case errors.Is(err, service.ErrForbidden):
			writeError(w, http.StatusForbidden, "Forbidden")
		default:
			h.logger.Error("get ticket error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, ticketResponse{Ticket: t})
}

type createTicketRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CreateTicket создаёт новое обращение в поддержку.
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	caller, ok, err := h.currentUser(r)
	if err != nil {
		h.logger.Error("resolve caller error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Subject and body are required")
		return
	}

	if !validation.IsValidSubject(req.Subject) {
		writeError(w, http.StatusBadRequest, "Subject is required")
		return
	}
	if !validation.IsValidBody(req.Body) {
		writeError(w, http.StatusBadRequest, "Body must be at least 10 characters")
		return
	}

	t, err := h.service.CreateTicket(r.Context(), caller, req.Subject, req.Body)
	if err != nil {
		h.logger.Error("create ticket error", zap.Error(err), zap.String("userID", caller.ID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, ticketResponse{Ticket: t})
}

type replyRequest struct {
	Message string `json:"message"`
}

// ReplyToTicket добавляет ответ в существующий тикет.
func (h *Handler) ReplyToTicket(w http.ResponseWriter, r *http.Request) {
	caller, ok, err := h.currentUser(r)
	if err != nil {
		h.logger.Error("resolve caller error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	if !validation.IsValidBody(req.Message) {
		writeError(w, http.StatusBadRequest, "Message must be at least 10 characters")
		return
	}

	t, err := h.service.ReplyToTicket(r.Context(), caller, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTicketNotFound):
			writeError(w, http.StatusNotFound, "Ticket not found")
		case errors.Is(err, service.ErrForbidden):
			writeError(w, http.StatusForbidden, "Forbidden")
		case errors.Is(err, repository.ErrTicketTerminal):
			writeError(w, http.StatusConflict, "Ticket is closed for replies")
		default:
			h.logger.Error("reply error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, ticketResponse{Ticket: t})
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateTicketStatus переводит тикет в новый статус. Доступно только администратору.
func (h *Handler) UpdateTicketStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok, err := h.currentUser(r)
	if err != nil {
		h.logger.Error("resolve caller error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Status is required")
		return
	}

	if !model.IsValidStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "Unknown status")
		return
	}

	t, err := h.service.UpdateTicketStatus(r.Context(), caller, chi.URLParam(r, "id"), model.TicketStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			writeError(w, http.StatusForbidden, "Forbidden")
		case errors.Is(err, repository.ErrTicketNotFound):
			writeError(w, http.StatusNotFound, "Ticket not found")
		case errors.Is(err, model.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "Invalid status transition")
		default:
			h.logger.Error("update status error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, ticketResponse{Ticket: t})
}

// NotificationCount возвращает счётчики непрочитанных уведомлений вызывающего.
func (h *Handler) NotificationCount(w http.ResponseWriter, r *http.Request) {
	caller, ok, err := h.currentUser(r)
	if err != nil {
		h.logger.Error("resolve caller error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	summary, err := h.service.NotificationSummary(r.Context(), caller)
	if err != nil {
		h.logger.Error("notification count error", zap.Error(err), zap.String("userID", caller.ID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

type notificationsReadResponse struct {
	NotificationsReadAt time.Time `json:"notificationsReadAt"`
}

// MarkNotificationsRead сдвигает отметку прочтения уведомлений вызывающего.
func (h *Handler) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	readAt, err := h.service.MarkNotificationsRead(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		h.logger.Error("mark notifications read error", zap.Error(err), zap.String("userID", userID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, notificationsReadResponse{NotificationsReadAt: readAt})
}

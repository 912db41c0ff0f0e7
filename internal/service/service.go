// Package service реализует бизнес-логику сервиса витрины.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"strings"
	"time"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/repository"
)

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden возвращается при обращении к чужому ресурсу или
	// операции, недоступной роли вызывающего.
	ErrForbidden = errors.New("forbidden")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	MarkNotificationsRead(ctx context.Context, userID string, at time.Time) (time.Time, error)

	ListProducts(ctx context.Context, nameLike string) ([]model.Product, error)
	ListFeaturedProducts(ctx context.Context) ([]model.Product, error)

	ListOrders(ctx context.Context) ([]model.Order, error)
	ListOrdersByOwner(ctx context.Context, email string) ([]model.Order, error)

	CreateTicket(ctx context.Context, t *model.Ticket) error
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	ListTickets(ctx context.Context) ([]model.Ticket, error)
	ListTicketsByOwner(ctx context.Context, email string) ([]model.Ticket, error)
	AppendTicketMessage(ctx context.Context, ticketID string, msg model.Message) (*model.Ticket, error)
	UpdateTicketStatus(ctx context.Context, ticketID string, status model.TicketStatus, at time.Time) (*model.Ticket, error)
}

// NotificationSummary содержит счётчики непрочитанных уведомлений пользователя.
type NotificationSummary struct {
	Count               int       `json:"count"`
	OrderCount          int       `json:"orderCount"`
	TicketCount         int       `json:"ticketCount"`
	NotificationsReadAt time.Time `json:"notificationsReadAt"`
}

// Service содержит бизнес-логику сервиса витрины.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с ролью customer.
// Пароль хранится только в виде хеша.
func (s *Service) RegisterUser(ctx context.Context, email, name, password string) (*model.User, error) {
	u := &model.User{
		ID:           repository.NewID(),
		Email:        strings.TrimSpace(email),
		Name:         strings.TrimSpace(name),
		Role:         model.RoleCustomer,
		PasswordHash: hashPassword(email, password),
		CreatedAt:    s.now(),
	}

	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// AuthenticateUser проверяет email и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !hmac.Equal(hashPassword(u.Email, password), u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// Хеш привязан к email в нижнем регистре, чтобы смена регистра при входе
// не ломала проверку пароля.
func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email)) + ":" + password))
	return sum[:]
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ListProducts возвращает товары каталога с опциональным фильтром по подстроке имени.
func (s *Service) ListProducts(ctx context.Context, nameLike string) ([]model.Product, error) {
	return s.repo.ListProducts(ctx, nameLike)
}

// ListFeaturedProducts возвращает товары витринной подборки.
func (s *Service) ListFeaturedProducts(ctx context.Context) ([]model.Product, error) {
	return s.repo.ListFeaturedProducts(ctx)
}

// ListTickets возвращает тикеты с учётом роли: администратор видит все,
// покупатель только собственные.
func (s *Service) ListTickets(ctx context.Context, caller *model.User) ([]model.Ticket, error) {
	if caller.Role == model.RoleAdmin {
		return s.repo.ListTickets(ctx)
	}
	return s.repo.ListTicketsByOwner(ctx, caller.Email)
}

// GetTicket возвращает тикет по идентификатору. Покупателю доступны
// только собственные тикеты.
func (s *Service) GetTicket(ctx context.Context, caller *model.User, ticketID string) (*model.Ticket, error) {
	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if caller.Role != model.RoleAdmin && !t.OwnedBy(caller.Email) {
		return nil, ErrForbidden
	}

	return t, nil
}

// CreateTicket создаёт тикет со статусом open и первым сообщением от автора.
func (s *Service) CreateTicket(ctx context.Context, caller *model.User, subject, body string) (*model.Ticket, error) {
	now := s.now()
	t := &model.Ticket{
		ID:      repository.NewID(),
		Subject: strings.TrimSpace(subject),
		Owner: model.TicketOwner{
			Email: caller.Email,
			Name:  caller.Name,
		},
		Status: model.TicketStatusOpen,
		Messages: []model.Message{
			{
				ID: repository.NewID(),
				Sender: model.Sender{
					ID:   caller.ID,
					Name: caller.Name,
					Role: caller.Role,
				},
				Body:      strings.TrimSpace(body),
				CreatedAt: now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateTicket(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ReplyToTicket добавляет ответ в тикет от имени вызывающего. Покупатель
// может отвечать только в собственные тикеты.
func (s *Service) ReplyToTicket(ctx context.Context, caller *model.User, ticketID, message string) (*model.Ticket, error) {
	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if caller.Role != model.RoleAdmin && !t.OwnedBy(caller.Email) {
		return nil, ErrForbidden
	}

	msg := model.Message{
		ID: repository.NewID(),
		Sender: model.Sender{
			ID:   caller.ID,
			Name: caller.Name,
			Role: caller.Role,
		},
		Body:      strings.TrimSpace(message),
		CreatedAt: s.now(),
	}

	return s.repo.AppendTicketMessage(ctx, ticketID, msg)
}

// UpdateTicketStatus переводит тикет в новый статус. Операция доступна
// только администратору.
func (s *Service) UpdateTicketStatus(ctx context.Context, caller *model.User, ticketID string, status model.TicketStatus) (*model.Ticket, error) {
	if caller.Role != model.RoleAdmin {
		return nil, ErrForbidden
	}

	return s.repo.UpdateTicketStatus(ctx, ticketID, status, s.now())
}

// NotificationSummary подсчитывает активность после отметки прочтения:
// для покупателя его заказы и тикеты, для администратора все.
func (s *Service) NotificationSummary(ctx context.Context, caller *model.User) (*NotificationSummary, error) {
	var (
		orders  []model.Order
		tickets []model.Ticket
		err     error
	)

	if caller.Role == model.RoleAdmin {
		orders, err = s.repo.ListOrders(ctx)
		if err != nil {
			return nil, err
		}
		tickets, err = s.repo.ListTickets(ctx)
	} else {
		orders, err = s.repo.ListOrdersByOwner(ctx, caller.Email)
		if err != nil {
			return nil, err
		}
		tickets, err = s.repo.ListTicketsByOwner(ctx, caller.Email)
	}
	if err != nil {
		return nil, err
	}

	readAt := caller.NotificationsReadAt
	summary := &NotificationSummary{NotificationsReadAt: readAt}

	for _, o := range orders {
		if o.UpdatedAt.After(readAt) {
			summary.OrderCount++
		}
	}
	for _, t := range tickets {
		if t.UpdatedAt.After(readAt) {
			summary.TicketCount++
		}
	}

	summary.Count = summary.OrderCount + summary.TicketCount
	return summary, nil
}

// MarkNotificationsRead сдвигает отметку прочтения уведомлений на текущее
// время. Отметка не убывает, повторный вызов идемпотентен.
func (s *Service) MarkNotificationsRead(ctx context.Context, userID string) (time.Time, error) {
	return s.repo.MarkNotificationsRead(ctx, userID, s.now())
}

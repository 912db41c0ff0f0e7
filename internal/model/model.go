// Package model содержит доменные сущности витрины магазина.
package model

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// User представляет зарегистрированного пользователя магазина.
type User struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	Name                string    `json:"name"`
	Role                Role      `json:"role"`
	PasswordHash        []byte    `json:"-"`
	NotificationsReadAt time.Time `json:"notificationsReadAt"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Product описывает товар каталога. Ядро только читает товары.
type Product struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Price   *float64 `json:"price,omitempty"`
	Stock   *int     `json:"stock,omitempty"`
	InStock bool     `json:"inStock"`
}

// PriceValue возвращает цену товара; отсутствующая цена считается нулевой.
func (p *Product) PriceValue() float64 {
	if p.Price == nil {
		return 0
	}
	return *p.Price
}

// Order описывает заказ пользователя. Ядро использует заказы только
// для подсчёта уведомлений.
type Order struct {
	ID         string    `json:"id"`
	OwnerEmail string    `json:"ownerEmail"`
	Total      float64   `json:"total"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TicketStatus описывает статус тикета поддержки.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// ErrInvalidTransition возвращается при недопустимом переходе статуса тикета.
var ErrInvalidTransition = errors.New("invalid ticket status transition")

// allowedTransitions задаёт таблицу допустимых переходов статуса.
// Переход в closed разрешён из любого статуса; возврат из resolved
// в open доступен только администратору, который и так единственный,
// кто меняет статусы.
var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusInProgress: {TicketStatusOpen, TicketStatusResolved, TicketStatusClosed},
	TicketStatusResolved:   {TicketStatusOpen, TicketStatusClosed},
	TicketStatusClosed:     {TicketStatusClosed},
}

// IsValidStatus проверяет, что строка является известным статусом тикета.
func IsValidStatus(s string) bool {
	switch TicketStatus(s) {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// CanTransition проверяет допустимость перехода статуса по таблице переходов.
func CanTransition(from, to TicketStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatuses возвращает статусы, доступные из указанного. Таблицу
// используют и сервер при проверке перехода, и интерфейс при отображении
// доступных действий.
func NextStatuses(from TicketStatus) []TicketStatus {
	out := make([]TicketStatus, len(allowedTransitions[from]))
	copy(out, allowedTransitions[from])
	return out
}

// TicketOwner описывает владельца тикета.
type TicketOwner struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Sender описывает автора сообщения в тикете.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Message описывает одно сообщение в тикете. Сообщения только добавляются.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ticket описывает обращение в поддержку с историей сообщений.
type Ticket struct {
	ID        string       `json:"id"`
	Subject   string       `json:"subject"`
	Owner     TicketOwner  `json:"owner"`
	Status    TicketStatus `json:"status"`
	Messages  []Message    `json:"messages"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// IsTerminal сообщает, закрыт ли тикет для новых ответов.
func (t *Ticket) IsTerminal() bool {
	return t.Status == TicketStatusResolved || t.Status == TicketStatusClosed
}

// OwnedBy проверяет принадлежность тикета пользователю с указанным email
// без учёта регистра.
func (t *Ticket) OwnedBy(email string) bool {
	return strings.EqualFold(t.Owner.Email, email)
}

// SortedMessages возвращает сообщения тикета по возрастанию времени создания.
func (t *Ticket) SortedMessages() []Message {
	out := make([]Message, len(t.Messages))
	copy(out, t.Messages)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CartItem описывает позицию корзины: снимок товара и количество.
type CartItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Cart описывает корзину пользователя с кешированной суммой.
type Cart struct {
	Items []CartItem `json:"items"`
	Total float64    `json:"total"`
}

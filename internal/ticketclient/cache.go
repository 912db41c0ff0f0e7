package ticketclient

import "sync"

// Ключи запросов. Записи кеша свежи бессрочно и перечитываются только
// после явной инвалидации ключа мутацией.
const (
	KeyTickets           = "tickets"
	KeyNotificationCount = "notification-count"
	KeyUser              = "user"
	KeyActivityLog       = "activity-log"
)

// keyTicketPattern помечает в таблице инвалидаций ключ конкретного
// тикета; при применении он разворачивается в ticket:<id>.
const keyTicketPattern = "ticket:*"

// KeyTicket возвращает ключ кеша для одного тикета.
func KeyTicket(id string) string {
	return "ticket:" + id
}

type mutation string

const (
	mutationCreateTicket     mutation = "createTicket"
	mutationReplyToTicket    mutation = "replyToTicket"
	mutationUpdateStatus     mutation = "updateTicketStatus"
	mutationNotificationRead mutation = "markNotificationsRead"
)

// mutationInvalidations — контракт когерентности кеша: для каждой
// мутации перечислен точный набор инвалидируемых ключей. Реализация —
// только просмотр этой таблицы.
var mutationInvalidations = map[mutation][]string{
	mutationCreateTicket:     {KeyTickets, KeyNotificationCount, KeyActivityLog},
	mutationReplyToTicket:    {KeyTickets, keyTicketPattern, KeyNotificationCount, KeyActivityLog},
	mutationUpdateStatus:     {KeyTickets, keyTicketPattern, KeyNotificationCount, KeyActivityLog},
	mutationNotificationRead: {KeyActivityLog},
}

// queryCache хранит результаты чтений по стабильным ключам запросов.
type queryCache struct {
	mu      sync.Mutex
	entries map[string]any
}

func newQueryCache() *queryCache {
	return &queryCache{
		entries: make(map[string]any),
	}
}

func (c *queryCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *queryCache) put(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
}

func (c *queryCache) invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// invalidateFor применяет таблицу инвалидаций мутации, подставляя
// идентификатор тикета вместо шаблонного ключа.
func (c *queryCache) invalidateFor(m mutation, ticketID string) {
	keys := mutationInvalidations[m]
	resolved := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == keyTicketPattern {
			k = KeyTicket(ticketID)
		}
		resolved = append(resolved, k)
	}
	c.invalidate(resolved...)
}

// optimistic описывает мутацию с немедленным локальным применением:
// prepare снимает снимок состояния, apply применяет локальное изменение,
// rollback восстанавливает снимок при ошибке сервера.
type optimistic struct {
	prepare  func() any
	apply    func()
	rollback func(snapshot any)
}

// runOptimistic выполняет мутацию по схеме prepare / apply / call /
// rollback-при-ошибке.
func runOptimistic(o optimistic, call func() error) error {
	snapshot := o.prepare()
	o.apply()

	if err := call(); err != nil {
		o.rollback(snapshot)
		return err
	}
	return nil
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/mmeshcher/storefront-system/internal/model"
)

// Имена бакетов соответствуют логическим таблицам хранилища.
const (
	bucketProducts         = "products"
	bucketFeaturedProducts = "featured-products"
	bucketUsers            = "users"
	bucketOrders           = "orders"
	bucketTickets          = "tickets"
	// bucketUserEmails хранит индекс lower(email) -> id для уникальности
	// email без учёта регистра.
	bucketUserEmails = "user-emails"
)

var boltBuckets = []string{
	bucketProducts,
	bucketFeaturedProducts,
	bucketUsers,
	bucketOrders,
	bucketTickets,
	bucketUserEmails,
}

// BoltRepository предоставляет доступ к встроенному хранилищу BoltDB.
// Каждая сущность хранится в собственном бакете, строки сериализуются в JSON.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository открывает (или создаёт) файл хранилища и инициализирует бакеты.
func NewBoltRepository(path string) (*BoltRepository, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range boltBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltRepository{db: db}, nil
}

// Close закрывает файл хранилища.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}

func boltBucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("%w: bucket %s", ErrStoreNotProvisioned, name)
	}
	return b, nil
}

// CreateUser создаёт нового пользователя. Уникальность email проверяется
// без учёта регистра через индексный бакет.
func (r *BoltRepository) CreateUser(ctx context.Context, u *model.User) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		users, err := boltBucket(tx, bucketUsers)
		if err != nil {
			return err
		}
		emails, err := boltBucket(tx, bucketUserEmails)
		if err != nil {
			return err
		}

		emailKey := []byte(strings.ToLower(u.Email))
		if existing := emails.Get(emailKey); existing != nil {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}

		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}
		if err := users.Put([]byte(u.ID), data); err != nil {
			return fmt.Errorf("put user: %w", err)
		}
		if err := emails.Put(emailKey, []byte(u.ID)); err != nil {
			return fmt.Errorf("put email index: %w", err)
		}
		return nil
	})
}

// ReplaceUser перезаписывает запись существующего пользователя.
func (r *BoltRepository) ReplaceUser(ctx context.Context, u *model.User) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		users, err := boltBucket(tx, bucketUsers)
		if err != nil {
			return err
		}
		if users.Get([]byte(u.ID)) == nil {
			return ErrUserNotFound
		}
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}
		return users.Put([]byte(u.ID), data)
	})
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *BoltRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.db.View(func(tx *bolt.Tx) error {
		users, err := boltBucket(tx, bucketUsers)
		if err != nil {
			return err
		}
		v := users.Get([]byte(id))
		if v == nil {
			return ErrUserNotFound
		}
		return json.Unmarshal(v, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail возвращает пользователя по email без учёта регистра.
func (r *BoltRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := r.db.View(func(tx *bolt.Tx) error {
		emails, err := boltBucket(tx, bucketUserEmails)
		if err != nil {
			return err
		}
		users, err := boltBucket(tx, bucketUsers)
		if err != nil {
			return err
		}
		id := emails.Get([]byte(strings.ToLower(email)))
		if id == nil {
			return ErrUserNotFound
		}
		v := users.Get(id)
		if v == nil {
			return ErrUserNotFound
		}
		return json.Unmarshal(v, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// MarkNotificationsRead обновляет отметку прочтения уведомлений пользователя.
// Отметка монотонна: более раннее время не затирает более позднее, поэтому
// повторный вызов идемпотентен.
func (r *BoltRepository) MarkNotificationsRead(ctx context.Context, userID string, at time.Time) (time.Time, error) {
	var result time.Time
	err := r.db.Update(func(tx *bolt.Tx) error {
		users, err := boltBucket(tx, bucketUsers)
		if err != nil {
			return err
		}
		v := users.Get([]byte(userID))
		if v == nil {
			return ErrUserNotFound
		}

		var u model.User
		if err := json.Unmarshal(v, &u); err != nil {
			return fmt.Errorf("unmarshal user: %w", err)
		}

		if at.After(u.NotificationsReadAt) {
			u.NotificationsReadAt = at
			data, err := json.Marshal(&u)
			if err != nil {
				return fmt.Errorf("marshal user: %w", err)
			}
			if err := users.Put([]byte(userID), data); err != nil {
				return fmt.Errorf("put user: %w", err)
			}
		}
		result = u.NotificationsReadAt
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return result, nil
}

func listBucket[T any](r *BoltRepository, name string) ([]T, error) {
	items := []T{}
	err := r.db.View(func(tx *bolt.Tx) error {
		b, err := boltBucket(tx, name)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshal row %s/%s: %w", name, k, err)
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListProducts возвращает товары, опционально отфильтрованные подстрокой
// в наименовании без учёта регистра.
func (r *BoltRepository) ListProducts(ctx context.Context, nameLike string) ([]model.Product, error) {
	products, err := listBucket[model.Product](r, bucketProducts)
	if err != nil {
		return nil, err
	}
	if nameLike == "" {
		return products, nil
	}

	needle := strings.ToLower(nameLike)
	filtered := []model.Product{}
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// ListFeaturedProducts возвращает товары витринной подборки.
func (r *BoltRepository) ListFeaturedProducts(ctx context.Context) ([]model.Product, error) {
	return listBucket[model.Product](r, bucketFeaturedProducts)
}

// PutProduct сохраняет товар каталога.
func (r *BoltRepository) PutProduct(ctx context.Context, p *model.Product) error {
	return r.putJSON(bucketProducts, p.ID, p)
}

// PutFeaturedProduct сохраняет товар витринной подборки.
func (r *BoltRepository) PutFeaturedProduct(ctx context.Context, p *model.Product) error {
	return r.putJSON(bucketFeaturedProducts, p.ID, p)
}

// PutOrder сохраняет заказ.
func (r *BoltRepository) PutOrder(ctx context.Context, o *model.Order) error {
	return r.putJSON(bucketOrders, o.ID, o)
}

func (r *BoltRepository) putJSON(bucket, id string, v any) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := boltBucket(tx, bucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal row: %w", err)
		}
		return b.Put([]byte(id), data)
	})
}

// ListOrders возвращает все заказы.
func (r *BoltRepository) ListOrders(ctx context.Context) ([]model.Order, error) {
	return listBucket[model.Order](r, bucketOrders)
}

// ListOrdersByOwner возвращает заказы пользователя по email без учёта регистра.
func (r *BoltRepository) ListOrdersByOwner(ctx context.Context, email string) ([]model.Order, error) {
	orders, err := listBucket[model.Order](r, bucketOrders)
	if err != nil {
		return nil, err
	}
	out := []model.Order{}
	for _, o := range orders {
		if strings.EqualFold(o.OwnerEmail, email) {
			out = append(out, o)
		}
	}
	return out, nil
}

// CreateTicket сохраняет новый тикет вместе с первым сообщением.
func (r *BoltRepository) CreateTicket(ctx context.Context, t *model.Ticket) error {
	return r.putJSON(bucketTickets, t.ID, t)
}

// GetTicket возвращает тикет по идентификатору вместе с историей сообщений.
func (r *BoltRepository) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	var t model.Ticket
	err := r.db.View(func(tx *bolt.Tx) error {
		b, err := boltBucket(tx, bucketTickets)
		if err != nil {
			return err
		}
		v := b.Get([]byte(id))
		if v == nil {
			return ErrTicketNotFound
		}
		return json.Unmarshal(v, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTickets возвращает все тикеты.
func (r *BoltRepository) ListTickets(ctx context.Context) ([]model.Ticket, error) {
	return listBucket[model.Ticket](r, bucketTickets)
}

// ListTicketsByOwner возвращает тикеты пользователя по email без учёта регистра.
func (r *BoltRepository) ListTicketsByOwner(ctx context.Context, email string) ([]model.Ticket, error) {
	tickets, err := listBucket[model.Ticket](r, bucketTickets)
	if err != nil {
		return nil, err
	}
	out := []model.Ticket{}
	for _, t := range tickets {
		if t.OwnedBy(email) {
			out = append(out, t)
		}
	}
	return out, nil
}

// AppendTicketMessage добавляет сообщение в тикет. Тикет в статусе resolved
// или closed не принимает сообщений.
func (r *BoltRepository) AppendTicketMessage(ctx context.Context, ticketID string, msg model.Message) (*model.Ticket, error) {
	var result model.Ticket
	err := r.db.Update(func(tx *bolt.Tx) error {
		b, err := boltBucket(tx, bucketTickets)
		if err != nil {
			return err
		}
		v := b.Get([]byte(ticketID))
		if v == nil {
			return ErrTicketNotFound
		}

		var t model.Ticket
		if err := json.Unmarshal(v, &t); err != nil {
			return fmt.Errorf("unmarshal ticket: %w", err)
		}

		if t.IsTerminal() {
			return ErrTicketTerminal
		}

		t.Messages = append(t.Messages, msg)
		if msg.CreatedAt.After(t.UpdatedAt) {
			t.UpdatedAt = msg.CreatedAt
		}

		data, err := json.Marshal(&t)
		if err != nil {
			return fmt.Errorf("marshal ticket: %w", err)
		}
		if err := b.Put([]byte(ticketID), data); err != nil {
			return fmt.Errorf("put ticket: %w", err)
		}

		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateTicketStatus переводит тикет в новый статус, сверяясь с таблицей
// допустимых переходов.
func (r *BoltRepository) UpdateTicketStatus(ctx context.Context, ticketID string, status model.TicketStatus, at time.Time) (*model.Ticket, error) {
	var result model.Ticket
	err := r.db.Update(func(tx *bolt.Tx) error {
		b, err := boltBucket(tx, bucketTickets)
		if err != nil {
			return err
		}
		v := b.Get([]byte(ticketID))
		if v == nil {
			return ErrTicketNotFound
		}

		var t model.Ticket
		if err := json.Unmarshal(v, &t); err != nil {
			return fmt.Errorf("unmarshal ticket: %w", err)
		}

		if !model.CanTransition(t.Status, status) {
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, t.Status, status)
		}

		t.Status = status
		if at.After(t.UpdatedAt) {
			t.UpdatedAt = at
		}

		data, err := json.Marshal(&t)
		if err != nil {
			return fmt.Errorf("marshal ticket: %w", err)
		}
		if err := b.Put([]byte(ticketID), data); err != nil {
			return fmt.Errorf("put ticket: %w", err)
		}

		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

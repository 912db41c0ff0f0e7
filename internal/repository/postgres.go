package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/storefront-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
// Строки хранятся в формате ключ-значение: текстовый первичный ключ и
// JSONB-документ, тикеты встраивают список сообщений.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// translateErr переводит инфраструктурные ошибки в понятные оператору.
func translateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("%w: %s", ErrStoreNotProvisioned, pgErr.Message)
	}
	return err
}

// CreateUser создаёт нового пользователя. Уникальность email обеспечивается
// колонкой email_lower.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO users (id, email_lower, data) VALUES ($1, $2, $3)`,
		u.ID, strings.ToLower(u.Email), data,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
		return fmt.Errorf("create user: %w", translateErr(err))
	}
	return nil
}

// ReplaceUser перезаписывает запись существующего пользователя.
func (r *PostgresRepository) ReplaceUser(ctx context.Context, u *model.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `UPDATE users SET data = $2 WHERE id = $1`, u.ID, data)
	if err != nil {
		return fmt.Errorf("replace user: %w", translateErr(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return r.scanUser(r.pool.QueryRow(ctx, `SELECT data FROM users WHERE id = $1`, id))
}

// GetUserByEmail возвращает пользователя по email без учёта регистра.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.scanUser(r.pool.QueryRow(ctx,
		`SELECT data FROM users WHERE email_lower = $1`,
		strings.ToLower(email),
	))
}

func (r *PostgresRepository) scanUser(row pgx.Row) (*model.User, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", translateErr(err))
	}

	var u model.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// MarkNotificationsRead обновляет отметку прочтения уведомлений пользователя.
// Строка пользователя блокируется, отметка монотонна.
func (r *PostgresRepository) MarkNotificationsRead(ctx context.Context, userID string, at time.Time) (time.Time, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var data []byte
	err = tx.QueryRow(ctx, `SELECT data FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrUserNotFound
		}
		return time.Time{}, fmt.Errorf("lock user: %w", translateErr(err))
	}

	var u model.User
	if err := json.Unmarshal(data, &u); err != nil {
		return time.Time{}, fmt.Errorf("unmarshal user: %w", err)
	}

	if at.After(u.NotificationsReadAt) {
		u.NotificationsReadAt = at
		updated, err := json.Marshal(&u)
		if err != nil {
			return time.Time{}, fmt.Errorf("marshal user: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET data = $2 WHERE id = $1`, userID, updated); err != nil {
			return time.Time{}, fmt.Errorf("update user: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("commit tx: %w", err)
	}

	return u.NotificationsReadAt, nil
}

func queryRows[T any](ctx context.Context, r *PostgresRepository, query string, args ...any) ([]T, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select rows: %w", translateErr(err))
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, fmt.Errorf("unmarshal row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// ListProducts возвращает товары, опционально отфильтрованные подстрокой
// в наименовании без учёта регистра.
func (r *PostgresRepository) ListProducts(ctx context.Context, nameLike string) ([]model.Product, error) {
	if nameLike == "" {
		return queryRows[model.Product](ctx, r, `SELECT data FROM products ORDER BY id`)
	}
	return queryRows[model.Product](ctx, r,
		`SELECT data FROM products WHERE data->>'name' ILIKE '%' || $1 || '%' ORDER BY id`,
		nameLike,
	)
}

// ListFeaturedProducts возвращает товары витринной подборки.
func (r *PostgresRepository) ListFeaturedProducts(ctx context.Context) ([]model.Product, error) {
	return queryRows[model.Product](ctx, r, `SELECT data FROM featured_products ORDER BY id`)
}

// PutProduct сохраняет товар каталога.
func (r *PostgresRepository) PutProduct(ctx context.Context, p *model.Product) error {
	return r.putJSON(ctx, "products", p.ID, p)
}

// PutFeaturedProduct сохраняет товар витринной подборки.
func (r *PostgresRepository) PutFeaturedProduct(ctx context.Context, p *model.Product) error {
	return r.putJSON(ctx, "featured_products", p.ID, p)
}

func (r *PostgresRepository) putJSON(ctx context.Context, table, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO `+table+` (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		id, data,
	)
	if err != nil {
		return fmt.Errorf("put row: %w", translateErr(err))
	}
	return nil
}

// PutOrder сохраняет заказ.
func (r *PostgresRepository) PutOrder(ctx context.Context, o *model.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO orders (id, owner_email, data) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET owner_email = EXCLUDED.owner_email, data = EXCLUDED.data`,
		o.ID, o.OwnerEmail, data,
	)
	if err != nil {
		return fmt.Errorf("put order: %w", translateErr(err))
	}
	return nil
}

// ListOrders возвращает все заказы.
func (r *PostgresRepository) ListOrders(ctx context.Context) ([]model.Order, error) {
	return queryRows[model.Order](ctx, r, `SELECT data FROM orders ORDER BY id`)
}

// ListOrdersByOwner возвращает заказы пользователя по email без учёта регистра.
func (r *PostgresRepository) ListOrdersByOwner(ctx context.Context, email string) ([]model.Order, error) {
	return queryRows[model.Order](ctx, r,
		`SELECT data FROM orders WHERE lower(owner_email) = $1 ORDER BY id`,
		strings.ToLower(email),
	)
}

// CreateTicket сохраняет новый тикет вместе с первым сообщением.
func (r *PostgresRepository) CreateTicket(ctx context.Context, t *model.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO tickets (id, owner_email, status, data) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Owner.Email, string(t.Status), data,
	)
	if err != nil {
		return fmt.Errorf("create ticket: %w", translateErr(err))
	}
	return nil
}

// GetTicket возвращает тикет по идентификатору вместе с историей сообщений.
func (r *PostgresRepository) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM tickets WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", translateErr(err))
	}

	var t model.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal ticket: %w", err)
	}
	return &t, nil
}

// ListTickets возвращает все тикеты.
func (r *PostgresRepository) ListTickets(ctx context.Context) ([]model.Ticket, error) {
	return queryRows[model.Ticket](ctx, r, `SELECT data FROM tickets ORDER BY id`)
}

// ListTicketsByOwner возвращает тикеты пользователя по email без учёта регистра.
func (r *PostgresRepository) ListTicketsByOwner(ctx context.Context, email string) ([]model.Ticket, error) {
	return queryRows[model.Ticket](ctx, r,
		`SELECT data FROM tickets WHERE lower(owner_email) = $1 ORDER BY id`,
		strings.ToLower(email),
	)
}

// AppendTicketMessage добавляет сообщение в тикет. Тикет в статусе resolved
// или closed не принимает сообщений. Строка тикета блокируется на время
// изменения.
func (r *PostgresRepository) AppendTicketMessage(ctx context.Context, ticketID string, msg model.Message) (*model.Ticket, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTicket(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}

	if t.IsTerminal() {
		return nil, ErrTicketTerminal
	}

	t.Messages = append(t.Messages, msg)
	if msg.CreatedAt.After(t.UpdatedAt) {
		t.UpdatedAt = msg.CreatedAt
	}

	if err := saveTicket(ctx, tx, t); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return t, nil
}

// UpdateTicketStatus переводит тикет в новый статус, сверяясь с таблицей
// допустимых переходов.
func (r *PostgresRepository) UpdateTicketStatus(ctx context.Context, ticketID string, status model.TicketStatus, at time.Time) (*model.Ticket, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTicket(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}

	if !model.CanTransition(t.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, t.Status, status)
	}

	t.Status = status
	if at.After(t.UpdatedAt) {
		t.UpdatedAt = at
	}

	if err := saveTicket(ctx, tx, t); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return t, nil
}

func lockTicket(ctx context.Context, tx pgx.Tx, ticketID string) (*model.Ticket, error) {
	var data []byte
	err := tx.QueryRow(ctx, `SELECT data FROM tickets WHERE id = $1 FOR UPDATE`, ticketID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("lock ticket: %w", translateErr(err))
	}

	var t model.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal ticket: %w", err)
	}
	return &t, nil
}

func saveTicket(ctx context.Context, tx pgx.Tx, t *model.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE tickets SET status = $2, data = $3 WHERE id = $1`,
		t.ID, string(t.Status), data,
	)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	return nil
}

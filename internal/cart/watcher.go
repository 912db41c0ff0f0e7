package cart

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// defaultPollInterval ограничивает частоту фонового опроса идентичности
// одним разом в секунду. Опрос подстраховывает окружения, в которых
// события хранилища не доставляются в ту же вкладку.
const defaultPollInterval = time.Second

// IdentitySource описывает источник идентичности текущего пользователя.
type IdentitySource interface {
	UserID() string
	Subscribe() <-chan struct{}
}

// Watcher наблюдает за идентичностью пользователя и очищает корзину при
// её смене. Смена — это переход непустого идентификатора в другой,
// включая пустой; некорректный идентификатор равносилен его отсутствию.
type Watcher struct {
	cart     *Store
	identity IdentitySource
	logger   *zap.Logger
	interval time.Duration

	lastID string
}

// NewWatcher создаёт наблюдатель для указанной корзины и источника идентичности.
func NewWatcher(cart *Store, identity IdentitySource, logger *zap.Logger) *Watcher {
	return &Watcher{
		cart:     cart,
		identity: identity,
		logger:   logger,
		interval: defaultPollInterval,
	}
}

// Run запускает наблюдение до отмены контекста: первоначальное чтение,
// подписка на сигналы хранилища и периодический опрос.
func (w *Watcher) Run(ctx context.Context) {
	w.lastID = w.identity.UserID()

	signals := w.identity.Subscribe()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			w.check()
		case <-ticker.C:
			w.check()
		}
	}
}

// check сравнивает наблюдаемый идентификатор с предыдущим и очищает
// корзину при переходе непустого значения в другое.
func (w *Watcher) check() {
	current := w.identity.UserID()
	if current == w.lastID {
		return
	}

	if w.lastID != "" {
		w.cart.Clear()
		w.logger.Info("cart cleared on identity change",
			zap.String("previous", w.lastID),
		)
	}

	w.lastID = current
}

package cart

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/session"
)

func waitForEmpty(t *testing.T, s *Store) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := s.Snapshot(); len(snap.Items) == 0 && snap.Total == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("cart was not cleared: %+v", s.Snapshot())
}

func startWatcher(t *testing.T, cartStore *Store, sess *session.Store) {
	t.Helper()

	w := NewWatcher(cartStore, sess, zap.NewNop())
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Даём наблюдателю прочитать начальную идентичность
	time.Sleep(30 * time.Millisecond)
}

func TestWatcher_ClearsCartOnLogout(t *testing.T) {
	sess := session.NewStore()
	sess.SetSession("token", "user-1", "customer")

	cartStore := NewStore()
	cartStore.Add(product("1", 10, 5))
	cartStore.Add(product("1", 10, 5))

	startWatcher(t, cartStore, sess)

	sess.Clear()

	waitForEmpty(t, cartStore)
}

func TestWatcher_ClearsCartOnUserSwitch(t *testing.T) {
	sess := session.NewStore()
	sess.SetSession("token", "user-1", "customer")

	cartStore := NewStore()
	cartStore.Add(product("1", 10, 5))

	startWatcher(t, cartStore, sess)

	sess.SetSession("token2", "user-2", "customer")

	waitForEmpty(t, cartStore)
}

func TestWatcher_KeepsCartForSameUser(t *testing.T) {
	sess := session.NewStore()
	sess.SetSession("token", "user-1", "customer")

	cartStore := NewStore()
	cartStore.Add(product("1", 10, 5))

	startWatcher(t, cartStore, sess)

	// Обновление токена без смены пользователя не трогает корзину
	sess.SetSession("fresh-token", "user-1", "customer")
	time.Sleep(100 * time.Millisecond)

	snap := cartStore.Snapshot()
	if len(snap.Items) != 1 || snap.Total != 10 {
		t.Fatalf("cart changed for same user: %+v", snap)
	}
}

func TestWatcher_MalformedIdentifierTreatedAsNoUser(t *testing.T) {
	sess := session.NewStore()
	sess.SetSession("token", "user-1", "customer")

	cartStore := NewStore()
	cartStore.Add(product("1", 10, 5))

	startWatcher(t, cartStore, sess)

	// Некорректный JSON в cbid равносилен отсутствию пользователя
	sess.Set(session.KeyUserID, "{not json")

	waitForEmpty(t, cartStore)
}

func TestWatcher_PollFallbackWithoutEvents(t *testing.T) {
	sess := session.NewStore()
	sess.SetSession("token", "user-1", "customer")

	cartStore := NewStore()
	cartStore.Add(product("1", 10, 5))

	w := NewWatcher(cartStore, sess, zap.NewNop())
	w.interval = 10 * time.Millisecond

	// Подписка наблюдателя создаётся внутри Run; меняем хранилище до
	// запуска, чтобы сигнал не был доставлен и сработал только опрос.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.lastID = "user-1"
	go w.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	sess.Clear()
	waitForEmpty(t, cartStore)
}

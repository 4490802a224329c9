package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"botdash/internal/bus"
	"botdash/internal/clock"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// signalRecorder считает сигналы сессии
type signalRecorder struct {
	mu          sync.Mutex
	locked      []Reason
	expired     []Reason
	redirects   []Reason
	authUpdates []State
}

func (r *signalRecorder) attach(st *Store) {
	st.SetOnLocked(func(reason Reason) {
		r.mu.Lock()
		r.locked = append(r.locked, reason)
		r.mu.Unlock()
	})
	st.SetOnExpired(func(reason Reason) {
		r.mu.Lock()
		r.expired = append(r.expired, reason)
		r.mu.Unlock()
	})
	st.SetOnRedirect(func(reason Reason) {
		r.mu.Lock()
		r.redirects = append(r.redirects, reason)
		r.mu.Unlock()
	})
	st.SetOnAuthUpdate(func(s State) {
		r.mu.Lock()
		r.authUpdates = append(r.authUpdates, s)
		r.mu.Unlock()
	})
}

func (r *signalRecorder) counts() (locked, expired, redirects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locked), len(r.expired), len(r.redirects)
}

func newTestStore(t *testing.T, clk *clock.Manual, ch Channel) (*Store, *signalRecorder) {
	t.Helper()
	st := NewStore(DefaultConfig(), ch, clk, nil)
	rec := &signalRecorder{}
	rec.attach(st)
	t.Cleanup(st.Close)
	return st, rec
}

// ============================================================
// SetAuth / GetToken / expiry
// ============================================================

func TestStore_SetAuthThenGetToken(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, _ := newTestStore(t, clk, nil)

	st.SetAuth("tok-1", "refresh-1", map[string]interface{}{"name": "alice"})

	if got := st.GetToken(); got != "tok-1" {
		t.Errorf("GetToken() = %q, want tok-1", got)
	}
	if !st.IsAuthenticated() {
		t.Error("expected authenticated session")
	}

	snap := st.Snapshot()
	if !snap.ExpiresAt.Equal(epoch.Add(12 * time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", snap.ExpiresAt, epoch.Add(12*time.Hour))
	}
	if !snap.LastActivity.Equal(epoch) {
		t.Errorf("LastActivity = %v, want %v", snap.LastActivity, epoch)
	}
	if snap.RefreshToken != "refresh-1" || snap.User["name"] != "alice" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestStore_ExpiresAfterTTLExactlyOnce(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, rec := newTestStore(t, clk, nil)

	st.SetAuth("tok-1", "", nil)
	clk.Advance(12*time.Hour + time.Second)

	if got := st.GetToken(); got != "" {
		t.Errorf("GetToken() after TTL = %q, want empty", got)
	}
	if st.IsAuthenticated() {
		t.Error("session should not be authenticated after TTL")
	}

	// повторные чтения не порождают новых сигналов
	st.GetToken()
	st.Revalidate()

	_, expired, _ := rec.counts()
	if expired != 1 {
		t.Errorf("expected exactly 1 expired signal, got %d", expired)
	}
	if rec.expired[0] != ReasonSessionExpired {
		t.Errorf("expired reason = %q", rec.expired[0])
	}
}

func TestStore_ExpiresRegardlessOfActivity(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, rec := newTestStore(t, clk, nil)

	st.SetAuth("tok-1", "", nil)
	for i := 0; i < 12*6; i++ {
		clk.Advance(10 * time.Minute)
		st.RecordActivity(ActivityKeyDown)
	}

	if st.IsAuthenticated() {
		t.Error("activity must not extend the session TTL")
	}
	locked, expired, _ := rec.counts()
	if locked != 0 {
		t.Errorf("expected no locked signals with steady activity, got %d", locked)
	}
	if expired != 1 {
		t.Errorf("expected 1 expired signal, got %d", expired)
	}
}

func TestStore_SetAuthReplacesPreviousSession(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, rec := newTestStore(t, clk, nil)

	st.SetAuth("tok-1", "", nil)
	clk.Advance(6 * time.Hour)
	st.SetAuth("tok-2", "", nil)
	if clk.PendingCount() != 3 {
		t.Errorf("expected 3 pending timers (idle, session, revalidate), got %d", clk.PendingCount())
	}
	clk.Advance(7 * time.Hour)

	if got := st.GetToken(); got != "tok-2" {
		t.Errorf("GetToken() = %q, want tok-2", got)
	}
	_, expired, _ := rec.counts()
	if expired != 0 {
		t.Errorf("first session timer must be cancelled, got %d expired signals", expired)
	}
}

func TestStore_EmptyTokenClears(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, _ := newTestStore(t, clk, nil)

	st.SetAuth("tok-1", "", nil)
	st.SetAuth("", "", nil)

	if st.IsAuthenticated() {
		t.Error("empty token must clear the session")
	}
	if clk.PendingCount() != 0 {
		t.Errorf("expected no pending timers, got %d", clk.PendingCount())
	}
}

// ============================================================
// Idle lock
// ============================================================

func TestStore_IdleTimeoutLocksOnce(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, rec := newTestStore(t, clk, nil)

	st.SetAuth("tok-1", "", nil)
	clk.Advance(15 * time.Minute)

	locked, expired, _ := rec.counts()
	if locked != 1 {
		t.Fatalf("expected 1 locked signal, got %d", locked)
	}
	if expired != 0 {
		t.Errorf("idle lock must not expire the session")
	}
	if rec.locked[0] != ReasonIdleTimeout {
		t.Errorf("locked reason = %q", rec.locked[0])
	}

	// блокировка не уничтожает сессию
	if !st.IsLocked() || st.GetToken() != "tok-1" {
		t.Error("locked session must keep its token")
	}

	clk.Advance(time.Hour)
	locked, _, _ = rec.counts()
	if locked != 1 {
		t.Errorf("locked must fire exactly once, got %d", locked)
	}
}

func TestStore_ActivityResetsIdleWindow(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, rec := newTestStore(t, clk, nil)

	st.SetAuth("tok-1", "", nil)
	clk.Advance(10 * time.Minute)
	st.RecordActivity(ActivityPointerDown)
	clk.Advance(10 * time.Minute)

	locked, _, _ := rec.counts()
	if locked != 0 {
		t.Fatalf("activity must reset the idle window, got %d locked signals", locked)
	}

	snap := st.Snapshot()
	if !snap.LastActivity.Equal(epoch.Add(10 * time.Minute)) {
		t.Errorf("LastActivity = %v", snap.LastActivity)
	}

	clk.Advance(5 * time.Minute)
	locked, _, _ = rec.counts()
	if locked != 1 {
		t.Errorf("expected lock 15m after last activity, got %d", locked)
	}
}

func TestStore_ActivityDoesNotStackIdleTimers(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, _ := newTestStore(t, clk, nil)

	st.SetAuth("tok-1", "", nil)
	for _, kind := range []ActivityKind{ActivityPointerDown, ActivityKeyDown, ActivityScroll, ActivityTouchStart} {
		st.RecordActivity(kind)
	}

	if clk.PendingCount() != 3 {
		t.Errorf("expected 3 pending timers, got %d", clk.PendingCount())
	}
}

func TestStore_ActivityWithoutSessionIsIgnored(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, _ := newTestStore(t, clk, nil)

	st.RecordActivity(ActivityKeyDown)
	if clk.PendingCount() != 0 {
		t.Errorf("expected no timers without a session, got %d", clk.PendingCount())
	}
}

func TestStore_Unlock(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, rec := newTestStore(t, clk, nil)

	if st.Unlock() {
		t.Error("Unlock without session should return false")
	}

	st.SetAuth("tok-1", "", nil)
	if st.Unlock() {
		t.Error("Unlock of an unlocked session should return false")
	}

	clk.Advance(15 * time.Minute)
	st.RecordActivity(ActivityKeyDown) // не разблокирует
	if !st.IsLocked() {
		t.Fatal("activity must not unlock the session")
	}

	if !st.Unlock() {
		t.Fatal("Unlock should succeed")
	}
	if st.IsLocked() {
		t.Error("session still locked after Unlock")
	}

	clk.Advance(15 * time.Minute)
	locked, _, _ := rec.counts()
	if locked != 2 {
		t.Errorf("expected a new lock after another idle window, got %d", locked)
	}
}

// ============================================================
// Clear / Logout
// ============================================================

func TestStore_ClearCancelsTimers(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, rec := newTestStore(t, clk, nil)

	st.SetAuth("tok-1", "", nil)
	st.Clear()

	if clk.PendingCount() != 0 {
		t.Errorf("expected no pending timers after Clear, got %d", clk.PendingCount())
	}

	clk.Advance(24 * time.Hour)
	locked, expired, _ := rec.counts()
	if locked != 0 || expired != 0 {
		t.Errorf("no signals expected after Clear, got locked=%d expired=%d", locked, expired)
	}
	if st.GetToken() != "" {
		t.Error("token must be empty after Clear")
	}
}

func TestStore_ClearDoesNotBroadcast(t *testing.T) {
	hub := bus.NewMemory()
	tabA, tabB := hub.Tab(), hub.Tab()

	var received int
	tabB.Subscribe(func([]byte) { received++ })

	clk := clock.NewManual(epoch)
	st, _ := newTestStore(t, clk, tabA)

	st.SetAuth("tok-1", "", nil)
	before := received
	st.Clear()

	if received != before {
		t.Errorf("Clear must not broadcast, got %d extra messages", received-before)
	}
}

func TestStore_LogoutBroadcasts(t *testing.T) {
	hub := bus.NewMemory()
	tabA, tabB := hub.Tab(), hub.Tab()

	var messages []BroadcastMessage
	tabB.Subscribe(func(data []byte) {
		msg, err := DecodeMessage(data)
		if err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		messages = append(messages, msg)
	})

	clk := clock.NewManual(epoch)
	st, _ := newTestStore(t, clk, tabA)

	st.SetAuth("tok-1", "", nil)
	st.Logout()

	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Type != MessageAuthUpdate || messages[0].AuthData.Token != "tok-1" {
		t.Errorf("first message = %+v", messages[0])
	}
	if messages[1].Type != MessageLogout {
		t.Errorf("second message = %+v", messages[1])
	}
	if st.IsAuthenticated() {
		t.Error("Logout must clear local state")
	}
}

// ============================================================
// Visibility / periodic revalidation
// ============================================================

func TestStore_HiddenTabPausesIdleTimer(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, rec := newTestStore(t, clk, nil)

	st.SetAuth("tok-1", "", nil)
	st.SetVisible(false)

	if clk.PendingCount() != 2 {
		t.Errorf("idle timer must be cancelled when hidden, pending=%d", clk.PendingCount())
	}

	clk.Advance(time.Hour)
	locked, _, _ := rec.counts()
	if locked != 0 {
		t.Fatalf("hidden tab must not lock, got %d", locked)
	}

	// показ перевзводит idle от текущего момента
	st.SetVisible(true)
	clk.Advance(14 * time.Minute)
	locked, _, _ = rec.counts()
	if locked != 0 {
		t.Fatalf("idle timer must restart from visibility change, got %d", locked)
	}
	clk.Advance(time.Minute)
	locked, _, _ = rec.counts()
	if locked != 1 {
		t.Errorf("expected lock 15m after becoming visible, got %d", locked)
	}
}

func TestStore_VisibleRevalidatesImmediately(t *testing.T) {
	clk := clock.NewManual(epoch)
	cfg := DefaultConfig()
	st := NewStore(cfg, nil, clk, nil)
	defer st.Close()
	rec := &signalRecorder{}
	rec.attach(st)

	st.SetAuth("tok-1", "", nil)
	st.SetVisible(false)

	// срок подменён так, чтобы ни один таймер ещё не сработал
	clk.Advance(30 * time.Second)
	st.mu.Lock()
	st.state.ExpiresAt = clk.Now()
	st.mu.Unlock()

	st.SetVisible(true)

	_, expired, _ := rec.counts()
	if expired != 1 {
		t.Errorf("expected expiry detected on visibility change, got %d", expired)
	}
	if clk.PendingCount() != 0 {
		t.Errorf("expired session must not keep timers, pending=%d", clk.PendingCount())
	}
}

func TestStore_PeriodicRevalidation(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, rec := newTestStore(t, clk, nil)

	st.SetAuth("tok-1", "", nil)

	// сессионный таймер отменён - ловить истечение должна периодическая проверка
	st.mu.Lock()
	st.session.cancel()
	st.state.ExpiresAt = epoch.Add(12*time.Hour + 30*time.Second)
	st.mu.Unlock()

	clk.Advance(12*time.Hour + 30*time.Second)
	_, expired, _ := rec.counts()
	if expired != 0 {
		t.Fatalf("expiry detected too early, got %d", expired)
	}

	clk.Advance(30 * time.Second)
	_, expired, _ = rec.counts()
	if expired != 1 {
		t.Errorf("expected periodic revalidation to expire the session, got %d", expired)
	}
}

// ============================================================
// Cross-tab
// ============================================================

func TestStore_RemoteLogoutClearsAndRedirects(t *testing.T) {
	hub := bus.NewMemory()
	clk := clock.NewManual(epoch)

	tabA, recA := newTestStore(t, clk, hub.Tab())
	tabB, recB := newTestStore(t, clk, hub.Tab())

	tabA.SetAuth("tok-1", "", nil)
	if tabB.GetToken() != "tok-1" {
		t.Fatalf("tab B should have received auth_update, token=%q", tabB.GetToken())
	}

	tabA.Logout()

	if tabB.IsAuthenticated() {
		t.Error("tab B must clear its state on remote logout")
	}
	_, _, redirectsB := recB.counts()
	if redirectsB != 1 {
		t.Errorf("tab B expected 1 redirect, got %d", redirectsB)
	}
	if recB.redirects[0] != ReasonRemoteLogout {
		t.Errorf("redirect reason = %q", recB.redirects[0])
	}
	_, _, redirectsA := recA.counts()
	if redirectsA != 0 {
		t.Errorf("sender must not redirect itself, got %d", redirectsA)
	}
}

func TestStore_RemoteAuthUpdateReplacesState(t *testing.T) {
	hub := bus.NewMemory()
	clk := clock.NewManual(epoch)

	tabA, _ := newTestStore(t, clk, hub.Tab())
	tabB, recB := newTestStore(t, clk, hub.Tab())

	tabA.SetAuth("tok-1", "r-1", map[string]interface{}{"id": "u-1"})

	snap := tabB.Snapshot()
	if snap.Token != "tok-1" || snap.RefreshToken != "r-1" {
		t.Errorf("unexpected state in tab B: %+v", snap)
	}
	if !snap.ExpiresAt.Equal(epoch.Add(12 * time.Hour)) {
		t.Errorf("ExpiresAt = %v", snap.ExpiresAt)
	}
	if len(recB.authUpdates) != 1 {
		t.Errorf("expected 1 auth update callback, got %d", len(recB.authUpdates))
	}

	// таймеры вкладки B перевзведены по пришедшему состоянию
	clk.Advance(12 * time.Hour)
	_, expiredB, _ := recB.counts()
	if expiredB != 1 {
		t.Errorf("tab B expected 1 expired signal, got %d", expiredB)
	}
}

func TestStore_RemoteAuthUpdateUnlocks(t *testing.T) {
	hub := bus.NewMemory()
	clk := clock.NewManual(epoch)

	tabA, _ := newTestStore(t, clk, hub.Tab())
	tabB, _ := newTestStore(t, clk, hub.Tab())

	tabB.SetAuth("tok-b", "", nil)
	clk.Advance(15 * time.Minute)
	if !tabB.IsLocked() {
		t.Fatal("tab B should be locked")
	}

	tabA.SetAuth("tok-a", "", nil)
	if tabB.IsLocked() {
		t.Error("a newer session from another tab must unlock tab B")
	}
	if tabB.GetToken() != "tok-a" {
		t.Errorf("tab B token = %q", tabB.GetToken())
	}
}

func TestStore_StaleAuthUpdateIsRejected(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, rec := newTestStore(t, clk, nil)

	st.SetAuth("tok-new", "", nil)

	older := BroadcastMessage{
		Type: MessageAuthUpdate,
		AuthData: &AuthData{
			Token:        "tok-old",
			ExpiresAt:    epoch.Add(time.Hour).UnixMilli(),
			LastActivity: epoch.UnixMilli(),
		},
	}
	data, err := EncodeMessage(older)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	st.handleMessage(data)

	if st.GetToken() != "tok-new" {
		t.Errorf("stale auth_update must not replace a later session, token=%q", st.GetToken())
	}
	if len(rec.authUpdates) != 0 {
		t.Errorf("unexpected auth update callbacks: %d", len(rec.authUpdates))
	}
}

func TestStore_ExpiredAuthUpdateIsRejected(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, _ := newTestStore(t, clk, nil)

	data, _ := EncodeMessage(BroadcastMessage{
		Type:     MessageAuthUpdate,
		AuthData: &AuthData{Token: "tok", ExpiresAt: epoch.Add(-time.Minute).UnixMilli()},
	})
	st.handleMessage(data)

	if st.IsAuthenticated() || clk.PendingCount() != 0 {
		t.Error("expired auth_update must be ignored")
	}
}

func TestStore_MalformedMessagesIgnored(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, rec := newTestStore(t, clk, nil)
	st.SetAuth("tok-1", "", nil)

	for _, raw := range []string{
		`not json`,
		`{"type":"unknown"}`,
		`{"type":"auth_update"}`,
		`{"type":"auth_update","authData":{"token":""}}`,
	} {
		st.handleMessage([]byte(raw))
	}

	if st.GetToken() != "tok-1" {
		t.Error("malformed messages must not change state")
	}
	_, _, redirects := rec.counts()
	if redirects != 0 {
		t.Errorf("unexpected redirects: %d", redirects)
	}
}

func TestStore_CloseUnsubscribesAndKeepsState(t *testing.T) {
	hub := bus.NewMemory()
	clk := clock.NewManual(epoch)

	tabA, _ := newTestStore(t, clk, hub.Tab())
	tabB, _ := newTestStore(t, clk, hub.Tab())

	tabB.SetAuth("tok-b", "", nil)
	tabB.Close()
	tabB.Close()

	tabA.Logout()

	if tabB.Snapshot().Token != "tok-b" {
		t.Error("closed tab must not react to broadcasts nor lose its state")
	}
}

// failingChannel - канал, публикация в который всегда падает
type failingChannel struct{}

func (failingChannel) Publish(context.Context, []byte) error { return bus.ErrClosed }
func (failingChannel) Subscribe(func([]byte)) func()        { return func() {} }

func TestStore_BroadcastFailureIsNotFatal(t *testing.T) {
	clk := clock.NewManual(epoch)
	st, _ := newTestStore(t, clk, failingChannel{})

	st.SetAuth("tok-1", "", nil)
	st.Logout()

	if st.IsAuthenticated() {
		t.Error("Logout must clear state even if the broadcast fails")
	}
}

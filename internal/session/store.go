package session

import (
	"context"
	"sync"
	"time"

	"botdash/internal/clock"
	"botdash/internal/metrics"
	"botdash/pkg/utils"
)

// publishTimeout ограничивает отправку сообщения другим вкладкам
const publishTimeout = 2 * time.Second

// Channel - транспорт сообщений между вкладками (см. пакет bus)
type Channel interface {
	Publish(ctx context.Context, data []byte) error
	Subscribe(fn func(data []byte)) (cancel func())
}

// timerSlot - не более одного ожидающего таймера.
// gen увеличивается при каждой отмене: callback, который уже начал
// выполняться для старого поколения, ничего не делает.
type timerSlot struct {
	timer clock.Timer
	gen   uint64
}

func (s *timerSlot) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

// Store - единственный источник истины о том, аутентифицирована ли вкладка
//
// Назначение:
// Хранит сессию в памяти, блокирует экран по бездействию, очищает сессию
// по истечении TTL и синхронизирует состояние между вкладками.
//
// Использование:
// 1. Создать: NewStore(cfg, channel, clock, logger)
// 2. Подписаться на сигналы: SetOnLocked, SetOnExpired, SetOnRedirect
// 3. Войти: SetAuth(token, refreshToken, user)
// 4. Сообщать о вводе: RecordActivity, о видимости: SetVisible
// 5. При выгрузке: Close()
type Store struct {
	cfg     Config
	clock   clock.Clock
	channel Channel
	log     *utils.Logger

	mu          sync.Mutex
	state       State
	locked      bool
	visible     bool
	closed      bool
	idle        timerSlot
	session     timerSlot
	revalidate  timerSlot
	unsubscribe func()

	callbackMu   sync.RWMutex
	onLocked     func(Reason)
	onExpired    func(Reason)
	onRedirect   func(Reason)
	onAuthUpdate func(State)
}

// NewStore создаёт хранилище. channel может быть nil (одна вкладка),
// clk == nil означает реальные часы.
func NewStore(cfg Config, channel Channel, clk clock.Clock, logger *utils.Logger) *Store {
	cfg.applyDefaults()

	st := &Store{
		cfg:     cfg,
		clock:   clock.OrReal(clk),
		channel: channel,
		log:     utils.OrGlobal(logger).WithComponent("session"),
		visible: true,
	}

	if channel != nil {
		st.unsubscribe = channel.Subscribe(st.handleMessage)
	}
	return st
}

// ============ Callbacks ============

// SetOnLocked устанавливает обработчик сигнала locked
func (st *Store) SetOnLocked(fn func(Reason)) {
	st.callbackMu.Lock()
	st.onLocked = fn
	st.callbackMu.Unlock()
}

// SetOnExpired устанавливает обработчик сигнала expired
func (st *Store) SetOnExpired(fn func(Reason)) {
	st.callbackMu.Lock()
	st.onExpired = fn
	st.callbackMu.Unlock()
}

// SetOnRedirect устанавливает обработчик перехода на страницу входа
// после выхода в другой вкладке
func (st *Store) SetOnRedirect(fn func(Reason)) {
	st.callbackMu.Lock()
	st.onRedirect = fn
	st.callbackMu.Unlock()
}

// SetOnAuthUpdate устанавливает обработчик применённого auth_update
func (st *Store) SetOnAuthUpdate(fn func(State)) {
	st.callbackMu.Lock()
	st.onAuthUpdate = fn
	st.callbackMu.Unlock()
}

func (st *Store) emit(signal string, reason Reason, pick func() func(Reason)) {
	metrics.SessionSignals.WithLabelValues(signal).Inc()

	st.callbackMu.RLock()
	fn := pick()
	st.callbackMu.RUnlock()

	if fn != nil {
		fn(reason)
	}
}

func (st *Store) emitLocked(reason Reason) {
	st.log.Info("Session locked", utils.Reason(string(reason)))
	st.emit("locked", reason, func() func(Reason) { return st.onLocked })
}

func (st *Store) emitExpired(reason Reason) {
	st.log.Info("Session expired", utils.Reason(string(reason)))
	st.emit("expired", reason, func() func(Reason) { return st.onExpired })
}

func (st *Store) emitRedirect(reason Reason) {
	st.log.Info("Redirecting to login", utils.Reason(string(reason)))
	st.emit("redirect", reason, func() func(Reason) { return st.onRedirect })
}

func (st *Store) emitAuthUpdate(state State) {
	st.callbackMu.RLock()
	fn := st.onAuthUpdate
	st.callbackMu.RUnlock()

	if fn != nil {
		fn(state)
	}
}

// ============ Операции ============

// SetAuth устанавливает новую сессию, полностью заменяя предыдущую,
// перевзводит таймеры и рассылает auth_update другим вкладкам
func (st *Store) SetAuth(token, refreshToken string, user map[string]interface{}) {
	if token == "" {
		st.log.Warn("SetAuth called with empty token, clearing session")
		st.Clear()
		return
	}

	now := st.clock.Now()

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.state = State{
		Token:        token,
		RefreshToken: refreshToken,
		User:         user,
		ExpiresAt:    now.Add(st.cfg.SessionTTL),
		LastActivity: now,
	}.clone()
	st.locked = false
	st.armAllLocked(now)
	snapshot := st.state.clone()
	st.mu.Unlock()

	st.log.Info("Session established", utils.Time("expires_at", snapshot.ExpiresAt))
	st.broadcast(BroadcastMessage{Type: MessageAuthUpdate, AuthData: newAuthData(snapshot)})
}

// GetToken проверяет срок сессии и возвращает токен или пустую строку.
// Это точка обнаружения истёкшей сессии: при истечении срабатывает expired.
func (st *Store) GetToken() string {
	st.Revalidate()

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.Token
}

// IsAuthenticated возвращает true, если токен есть и срок не истёк
func (st *Store) IsAuthenticated() bool {
	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.Valid(now)
}

// IsLocked возвращает true, если сессия заблокирована по бездействию
func (st *Store) IsLocked() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.locked
}

// Snapshot возвращает копию текущего состояния
func (st *Store) Snapshot() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.clone()
}

// Clear очищает сессию и отменяет все таймеры без рассылки
func (st *Store) Clear() {
	st.mu.Lock()
	st.clearLocked()
	st.mu.Unlock()
}

// Logout очищает сессию и рассылает logout другим вкладкам
func (st *Store) Logout() {
	st.Clear()
	st.log.Info("Logged out")
	st.broadcast(BroadcastMessage{Type: MessageLogout})
}

// RecordActivity фиксирует пользовательский ввод и перевзводит idle таймер.
// Заблокированную сессию ввод не разблокирует: для этого есть Unlock.
func (st *Store) RecordActivity(kind ActivityKind) {
	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed || st.locked || st.state.Token == "" {
		return
	}
	st.state.LastActivity = now
	if st.visible {
		st.armIdleLocked()
	}
}

// Unlock снимает блокировку (экран разблокировки принадлежит хосту).
// Возвращает false, если сессии нет или она не была заблокирована.
func (st *Store) Unlock() bool {
	st.Revalidate()
	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed || !st.locked || st.state.Token == "" {
		return false
	}
	st.locked = false
	st.state.LastActivity = now
	if st.visible {
		st.armIdleLocked()
	}
	st.log.Info("Session unlocked")
	return true
}

// SetVisible сообщает о смене видимости вкладки.
// Скрытие отменяет idle таймер; показ сразу проверяет срок
// и перевзводит idle таймер от текущего момента.
func (st *Store) SetVisible(visible bool) {
	st.mu.Lock()
	if st.closed || st.visible == visible {
		st.mu.Unlock()
		return
	}
	st.visible = visible
	if !visible {
		st.idle.cancel()
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()

	st.Revalidate()

	st.mu.Lock()
	if !st.closed && st.visible && !st.locked && st.state.Token != "" {
		st.armIdleLocked()
	}
	st.mu.Unlock()
}

// Revalidate очищает сессию, если её срок истёк, и сигналит expired
func (st *Store) Revalidate() {
	now := st.clock.Now()

	st.mu.Lock()
	expired := st.expireIfDueLocked(now)
	st.mu.Unlock()

	if expired {
		st.emitExpired(ReasonSessionExpired)
	}
}

// Close отписывается от канала и отменяет таймеры, не трогая состояние
func (st *Store) Close() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	st.idle.cancel()
	st.session.cancel()
	st.revalidate.cancel()
	unsubscribe := st.unsubscribe
	st.unsubscribe = nil
	st.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// ============ Таймеры (вызываются под st.mu) ============

func (st *Store) clearLocked() {
	st.state = State{}
	st.locked = false
	st.idle.cancel()
	st.session.cancel()
	st.revalidate.cancel()
}

func (st *Store) expireIfDueLocked(now time.Time) bool {
	if st.state.Token == "" || now.Before(st.state.ExpiresAt) {
		return false
	}
	st.clearLocked()
	return true
}

func (st *Store) armAllLocked(now time.Time) {
	if st.visible {
		st.armIdleLocked()
	} else {
		st.idle.cancel()
	}
	st.armSessionLocked(now)
	st.armRevalidateLocked()
}

func (st *Store) armIdleLocked() {
	st.idle.cancel()
	gen := st.idle.gen
	st.idle.timer = st.clock.AfterFunc(st.cfg.IdleTimeout, func() { st.fireIdle(gen) })
}

func (st *Store) armSessionLocked(now time.Time) {
	st.session.cancel()
	gen := st.session.gen
	d := st.state.ExpiresAt.Sub(now)
	if d < 0 {
		d = 0
	}
	st.session.timer = st.clock.AfterFunc(d, func() { st.fireSession(gen) })
}

func (st *Store) armRevalidateLocked() {
	st.revalidate.cancel()
	gen := st.revalidate.gen
	st.revalidate.timer = st.clock.AfterFunc(st.cfg.RevalidateInterval, func() { st.fireRevalidate(gen) })
}

func (st *Store) fireIdle(gen uint64) {
	st.mu.Lock()
	if st.closed || gen != st.idle.gen {
		st.mu.Unlock()
		return
	}
	st.idle.timer = nil
	if st.state.Token == "" || st.locked {
		st.mu.Unlock()
		return
	}
	st.locked = true
	st.mu.Unlock()

	st.emitLocked(ReasonIdleTimeout)
}

func (st *Store) fireSession(gen uint64) {
	now := st.clock.Now()

	st.mu.Lock()
	if st.closed || gen != st.session.gen {
		st.mu.Unlock()
		return
	}
	st.session.timer = nil
	if st.state.Token != "" && now.Before(st.state.ExpiresAt) {
		// срок сдвинулся - ждём оставшееся время
		st.armSessionLocked(now)
		st.mu.Unlock()
		return
	}
	expired := st.expireIfDueLocked(now)
	st.mu.Unlock()

	if expired {
		st.emitExpired(ReasonSessionExpired)
	}
}

func (st *Store) fireRevalidate(gen uint64) {
	now := st.clock.Now()

	st.mu.Lock()
	if st.closed || gen != st.revalidate.gen {
		st.mu.Unlock()
		return
	}
	st.revalidate.timer = nil
	if st.state.Token == "" {
		st.mu.Unlock()
		return
	}
	expired := st.expireIfDueLocked(now)
	if !expired {
		st.armRevalidateLocked()
	}
	st.mu.Unlock()

	if expired {
		st.emitExpired(ReasonSessionExpired)
	}
}

// ============ Cross-tab ============

func (st *Store) broadcast(msg BroadcastMessage) {
	if st.channel == nil {
		return
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		st.log.Error("Failed to encode broadcast message", utils.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := st.channel.Publish(ctx, data); err != nil {
		st.log.Warn("Failed to broadcast session message",
			utils.String("type", string(msg.Type)), utils.Err(err))
		return
	}
	metrics.SessionBroadcasts.WithLabelValues("sent", string(msg.Type)).Inc()
}

// handleMessage обрабатывает сообщение другой вкладки
func (st *Store) handleMessage(data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		metrics.SessionBroadcasts.WithLabelValues("rejected", "invalid").Inc()
		st.log.Warn("Ignoring malformed broadcast message", utils.Err(err))
		return
	}

	switch msg.Type {
	case MessageLogout:
		metrics.SessionBroadcasts.WithLabelValues("received", string(msg.Type)).Inc()
		st.mu.Lock()
		if st.closed {
			st.mu.Unlock()
			return
		}
		st.clearLocked()
		st.mu.Unlock()
		st.emitRedirect(ReasonRemoteLogout)

	case MessageAuthUpdate:
		st.applyRemote(msg.AuthData.state())
	}
}

// applyRemote заменяет состояние пришедшим из другой вкладки.
//
// Правило для гонки одновременных SetAuth: применяется состояние с более
// поздним (или равным) ExpiresAt; истёкшее состояние отбрасывается.
func (st *Store) applyRemote(incoming State) {
	now := st.clock.Now()

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	if !incoming.Valid(now) {
		st.mu.Unlock()
		metrics.SessionBroadcasts.WithLabelValues("rejected", string(MessageAuthUpdate)).Inc()
		st.log.Debug("Ignoring expired auth_update")
		return
	}
	if st.state.Token != "" && incoming.ExpiresAt.Before(st.state.ExpiresAt) {
		st.mu.Unlock()
		metrics.SessionBroadcasts.WithLabelValues("rejected", string(MessageAuthUpdate)).Inc()
		st.log.Debug("Ignoring stale auth_update",
			utils.Time("incoming_expires_at", incoming.ExpiresAt))
		return
	}

	st.state = incoming.clone()
	st.locked = false
	st.armAllLocked(now)
	snapshot := st.state.clone()
	st.mu.Unlock()

	metrics.SessionBroadcasts.WithLabelValues("received", string(MessageAuthUpdate)).Inc()
	st.log.Debug("Applied auth_update from another tab")
	st.emitAuthUpdate(snapshot)
}

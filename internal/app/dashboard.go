// Package app связывает хранилище сессии и клиент стрима в одно приложение дашборда.
package app

import (
	"context"
	"errors"
	"sync"

	"botdash/internal/models"
	"botdash/internal/session"
	"botdash/internal/stream"
	"botdash/pkg/utils"
)

// Hooks - реакции хоста на сигналы сессии (экран блокировки, переход на вход)
type Hooks struct {
	Locked   func(reason session.Reason)
	Expired  func(reason session.Reason)
	Redirect func(reason session.Reason)
}

// Dashboard - композиция одной SessionStore и одного StreamClient
//
// Назначение:
// Хост сообщает режим окружения, ввод пользователя и видимость вкладки;
// Dashboard решает, нужен ли стрим, исходя из режима и состояния сессии.
//
// Правила:
// - Эффективный режим стрима = запрошенный режим, если он не требует сессии
//   или сессия аутентифицирована; иначе local
// - expired, redirect и auth_update пересчитывают режим стрима
// - locked стрим не трогает: блокировка экрана не разрывает соединение
//
// Использование:
//
//	d := app.NewDashboard(store, client, app.NewHTTPAuthenticator(base, nil), logger)
//	d.SetHooks(app.Hooks{Locked: showLockScreen})
//	d.Stream().Subscribe(models.EventBotStatus, onBotStatus)
//	d.SetMode(models.ModePaper)
//	d.Login(ctx, user, password)
type Dashboard struct {
	store  *session.Store
	client *stream.Client
	auth   Authenticator
	log    *utils.Logger

	mu        sync.Mutex
	requested models.Mode
	effective models.Mode
	syncing   bool
	dirty     bool

	hooksMu sync.RWMutex
	hooks   Hooks
}

// NewDashboard связывает store и client. auth может быть nil,
// тогда Login недоступен и сессию устанавливает хост через Store().SetAuth.
func NewDashboard(store *session.Store, client *stream.Client, auth Authenticator, logger *utils.Logger) *Dashboard {
	d := &Dashboard{
		store:     store,
		client:    client,
		auth:      auth,
		log:       utils.OrGlobal(logger).WithComponent("dashboard"),
		requested: models.ModeLocal,
		effective: models.ModeLocal,
	}

	client.SetTokenProvider(store.GetToken)

	store.SetOnLocked(func(reason session.Reason) {
		d.log.Info("Session locked", utils.Reason(string(reason)))
		if fn := d.hook(func(h Hooks) func(session.Reason) { return h.Locked }); fn != nil {
			fn(reason)
		}
	})
	store.SetOnExpired(func(reason session.Reason) {
		d.log.Info("Session expired", utils.Reason(string(reason)))
		d.resync()
		if fn := d.hook(func(h Hooks) func(session.Reason) { return h.Expired }); fn != nil {
			fn(reason)
		}
	})
	store.SetOnRedirect(func(reason session.Reason) {
		d.log.Info("Logged out in another tab", utils.Reason(string(reason)))
		d.resync()
		if fn := d.hook(func(h Hooks) func(session.Reason) { return h.Redirect }); fn != nil {
			fn(reason)
		}
	})
	store.SetOnAuthUpdate(func(session.State) {
		d.resync()
	})

	return d
}

// SetHooks устанавливает реакции хоста на сигналы сессии
func (d *Dashboard) SetHooks(h Hooks) {
	d.hooksMu.Lock()
	d.hooks = h
	d.hooksMu.Unlock()
}

func (d *Dashboard) hook(pick func(Hooks) func(session.Reason)) func(session.Reason) {
	d.hooksMu.RLock()
	defer d.hooksMu.RUnlock()
	return pick(d.hooks)
}

// Store возвращает хранилище сессии
func (d *Dashboard) Store() *session.Store { return d.store }

// Stream возвращает клиент стрима (для регистрации обработчиков)
func (d *Dashboard) Stream() *stream.Client { return d.client }

// Mode возвращает режим, запрошенный хостом
func (d *Dashboard) Mode() models.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requested
}

// EffectiveMode возвращает режим, сообщённый стриму последним
func (d *Dashboard) EffectiveMode() models.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.effective
}

// SetMode сообщает о смене режима окружения
func (d *Dashboard) SetMode(mode models.Mode) {
	d.mu.Lock()
	d.requested = mode
	d.mu.Unlock()

	d.log.Info("Environment mode set", utils.Mode(mode.String()))
	d.resync()
}

// Login получает токен через Authenticator и устанавливает сессию
func (d *Dashboard) Login(ctx context.Context, username, password string) error {
	if d.auth == nil {
		return errors.New("dashboard has no authenticator")
	}

	creds, err := d.auth.Login(ctx, username, password)
	if err != nil {
		d.log.Warn("Login failed", utils.UserID(username), utils.Err(err))
		return err
	}

	d.store.SetAuth(creds.Token, "", creds.User)
	d.log.Info("Logged in", utils.UserID(username))
	d.resync()
	return nil
}

// Logout завершает сессию во всех вкладках
func (d *Dashboard) Logout() {
	d.store.Logout()
	d.resync()
}

// Unlock снимает блокировку по бездействию
func (d *Dashboard) Unlock() bool {
	return d.store.Unlock()
}

// Activity сообщает о пользовательском вводе
func (d *Dashboard) Activity(kind session.ActivityKind) {
	d.store.RecordActivity(kind)
}

// SetVisible сообщает о смене видимости вкладки
func (d *Dashboard) SetVisible(visible bool) {
	d.store.SetVisible(visible)
}

// Close останавливает стрим и таймеры сессии
func (d *Dashboard) Close() {
	d.client.Close()
	d.store.Close()
}

// effectiveModeLocked вычисляет режим стрима для текущей сессии
func (d *Dashboard) effectiveModeLocked() models.Mode {
	if d.requested.RequiresSession() && !d.store.IsAuthenticated() {
		return models.ModeLocal
	}
	return d.requested
}

// resync сообщает стриму эффективный режим.
// Вызовы, пришедшие во время применения (в том числе реентерабельные из
// token provider), сливаются в ещё один проход того же цикла.
func (d *Dashboard) resync() {
	d.mu.Lock()
	d.dirty = true
	if d.syncing {
		d.mu.Unlock()
		return
	}
	d.syncing = true

	for d.dirty {
		d.dirty = false
		mode := d.effectiveModeLocked()
		changed := mode != d.effective
		d.effective = mode
		d.mu.Unlock()

		if changed {
			d.log.Debug("Stream mode resynced", utils.Mode(mode.String()))
		}
		d.client.SetEnvironment(mode)

		d.mu.Lock()
	}

	d.syncing = false
	d.mu.Unlock()
}

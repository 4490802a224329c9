// Headless дашборд: одна "вкладка" клиента стрима с сессией оператора.
//
// Команды читаются построчно из stdin (см. commands.go); любая другая
// непустая строка считается пользовательским вводом и продлевает сессию.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"botdash/internal/app"
	"botdash/internal/bus"
	"botdash/internal/config"
	"botdash/internal/models"
	"botdash/internal/session"
	"botdash/internal/stream"
	"botdash/internal/transport"
	"botdash/pkg/retry"
	"botdash/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dashboard: %v\n", err)
		os.Exit(1)
	}
}

// run собирает вкладку и крутит цикл команд; отложенные Close выполняются
// при любом выходе, включая ошибки старта
func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer log.Sync()

	mode, err := models.ParseMode(cfg.Stream.Mode)
	if err != nil {
		return fmt.Errorf("invalid STREAM_MODE: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	channel, closeBus, err := initBus(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize cross-tab bus: %w", err)
	}
	defer closeBus()

	store := session.NewStore(session.Config{
		SessionTTL:         cfg.Security.SessionTTL,
		IdleTimeout:        cfg.Session.IdleTimeout,
		RevalidateInterval: cfg.Session.RevalidateInterval,
	}, channel, nil, log)

	tr, path := initTransport(cfg, log)
	client, err := stream.NewClient(stream.Config{
		BaseURL:   cfg.Stream.BaseURL,
		Path:      path,
		BaseDelay: cfg.Stream.BaseDelay,
		MaxDelay:  cfg.Stream.MaxDelay,
	}, tr, nil, log)
	if err != nil {
		store.Close()
		return fmt.Errorf("create stream client: %w", err)
	}

	dash := app.NewDashboard(store, client, app.NewHTTPAuthenticator(cfg.Stream.BaseURL, nil), log)
	defer dash.Close()

	dash.SetHooks(app.Hooks{
		Locked: func(reason session.Reason) {
			fmt.Println("session locked: type 'unlock' to continue")
		},
		Expired: func(reason session.Reason) {
			fmt.Println("session expired: type 'login <user> <password>'")
		},
		Redirect: func(reason session.Reason) {
			fmt.Println("logged out in another tab")
		},
	})
	client.SetOnStateChange(func(s stream.State) {
		log.Info("Stream state", utils.State(s.String()))
	})

	subscribeAll(client, log)

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, log)
	}

	dash.SetMode(mode)

	if user, password := os.Getenv("DASHBOARD_USER"), os.Getenv("DASHBOARD_PASSWORD"); user != "" && password != "" {
		loginCtx, loginCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := dash.Login(loginCtx, user, password); err != nil {
			log.Warn("Initial login failed", utils.Err(err))
		}
		loginCancel()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	log.WithMode(mode.String()).Info("Dashboard started",
		utils.URL(cfg.Stream.BaseURL),
		utils.String("transport", cfg.Stream.Transport),
		utils.String("bus", cfg.Bus.Driver))

	for {
		select {
		case <-ctx.Done():
			log.Info("Dashboard shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				log.Info("stdin closed, dashboard shutting down")
				return nil
			}
			if quit := execute(ctx, dash, line, os.Stdout); quit {
				return nil
			}
		}
	}
}

// initBus выбирает транспорт сообщений между вкладками по BUS_DRIVER
func initBus(ctx context.Context, cfg *config.Config, log *utils.Logger) (session.Channel, func(), error) {
	if cfg.Bus.Driver != "redis" {
		tab := bus.NewMemory().Tab()
		return tab, func() { tab.Close() }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Bus.RedisAddr,
		Password: cfg.Bus.RedisPassword,
		DB:       cfg.Bus.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cfgRetry := retry.NetworkConfig()
	cfgRetry.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("Redis ping failed, retrying", utils.Attempt(attempt), utils.Delay(delay), utils.Err(err))
	}
	if err := retry.Do(pingCtx, func() error { return rdb.Ping(pingCtx).Err() }, cfgRetry); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Bus.RedisAddr, err)
	}

	b := bus.NewRedis(rdb, cfg.Bus.Channel, log)
	if err := b.Start(ctx); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return b, func() {
		b.Close()
		rdb.Close()
	}, nil
}

// initTransport возвращает транспорт стрима и путь на шлюзе
func initTransport(cfg *config.Config, log *utils.Logger) (stream.Transport, string) {
	if cfg.Stream.Transport == "ws" {
		return transport.NewWebSocket(transport.DefaultWebSocketConfig(), log), "/stream/ws"
	}
	return transport.NewSSE(transport.NewHTTPClient(transport.DefaultHTTPClientConfig()), log), "/stream"
}

// subscribeAll логирует каждое доставленное событие
func subscribeAll(client *stream.Client, log *utils.Logger) {
	types := append([]string{models.EventMessage}, models.KnownEventTypes...)
	for _, t := range types {
		client.Subscribe(t, func(ev stream.Event) error {
			log.Info("Event delivered",
				utils.EventType(ev.Type),
				utils.EventID(ev.ID),
				utils.Any("data", ev.Payload))
			return nil
		})
	}
}

func serveMetrics(addr string, log *utils.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("Metrics listener started", utils.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Metrics listener failed", utils.Err(err))
	}
}

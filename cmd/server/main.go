package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"botdash/internal/api"
	"botdash/internal/api/middleware"
	"botdash/internal/auth"
	"botdash/internal/config"
	"botdash/internal/gateway"
	"botdash/internal/repository"
	"botdash/internal/source"
	"botdash/pkg/crypto"
	"botdash/pkg/ratelimit"
	"botdash/pkg/retry"
	"botdash/pkg/utils"
)

func main() {
	hashPassword := flag.String("hash-password", "", "print bcrypt hash for ADMIN_PASSWORD_HASH and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := crypto.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// .env не обязателен: в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer log.Sync()

	if err := cfg.ValidateSecurity(); err != nil {
		log.Fatal("Invalid security configuration", utils.Err(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	// Журнал событий для докачки по Last-Event-ID
	journal, db, err := initJournal(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize journal", utils.Err(err))
	}
	if db != nil {
		defer db.Close()
	}

	hub := gateway.NewHub(journal, log)
	go hub.Run()

	if repo, ok := journal.(*repository.EventRepository); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runRetention(ctx, repo, cfg.Journal.Retention, log)
		}()
	}

	// Аутентификация
	credentials, err := crypto.NewCredentials(cfg.Security.AdminUser, cfg.Security.AdminPasswordHash)
	if err != nil {
		log.Fatal("Invalid admin credentials", utils.Err(err))
	}
	tokens, err := auth.NewManager(cfg.Security.JWTSecret, cfg.Security.SessionTTL)
	if err != nil {
		log.Fatal("Failed to create token manager", utils.Err(err))
	}

	loginLimiter := ratelimit.NewKeyedLimiter(cfg.Security.LoginRateLimit)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := loginLimiter.Cleanup(); n > 0 {
					log.Debug("Login limiter cleanup", utils.Int("removed", n))
				}
			}
		}
	}()

	// Источники событий
	var kafka *source.Kafka
	if cfg.Kafka.Enabled {
		consumer, err := source.NewKafkaConsumer(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatal("Failed to connect to Kafka", utils.Err(err))
		}
		kafka = source.NewKafka(consumer, source.KafkaConfig{
			Topic:     cfg.Kafka.Topic,
			Partition: cfg.Kafka.Partition,
			Offset:    cfg.Kafka.Offset,
		}, hub, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := kafka.Run(ctx); err != nil {
				log.Error("Kafka source stopped", utils.Err(err))
			}
		}()
	}

	if cfg.Simulator.Enabled {
		sim := source.NewSimulator(source.SimulatorConfig{
			Interval: cfg.Simulator.Interval,
			Bots:     cfg.Simulator.Bots,
			Symbols:  cfg.Simulator.Symbols,
		}, hub, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Run(ctx)
		}()
	}

	proxies, err := middleware.NewTrustedProxies(cfg.Security.TrustedProxies)
	if err != nil {
		log.Fatal("Invalid TRUSTED_PROXIES", utils.Err(err))
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		Hub:            hub,
		Stream:         gateway.NewServer(hub, gateway.NewOriginChecker(cfg.Server.AllowedOrigins), cfg.Server.Heartbeat, log),
		Credentials:    credentials,
		Tokens:         tokens,
		LoginLimiter:   loginLimiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: proxies,
		Logger:         log,
	})

	// WriteTimeout = 0: SSE ответ пишется всё время жизни соединения
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		log.Info("Starting gateway",
			utils.String("addr", server.Addr),
			utils.Bool("https", cfg.Server.UseHTTPS),
			utils.String("journal", cfg.Journal.Driver),
			utils.Bool("kafka", cfg.Kafka.Enabled),
			utils.Bool("simulator", cfg.Simulator.Enabled))

		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", utils.Err(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down gateway...")

	// Сначала останавливаем источники, затем хаб: подписчики получают закрытие стрима
	cancel()
	wg.Wait()
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			log.Warn("Error closing Kafka consumer", utils.Err(err))
		}
	}
	hub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", utils.Err(err))
	}

	log.Info("Gateway exited",
		utils.Int64("published", int64(hub.Published())),
		utils.Int64("dropped_subscribers", int64(hub.DroppedSubscribers())))
}

// initJournal выбирает журнал по JOURNAL_DRIVER.
// Для postgres возвращает открытое подключение, которое нужно закрыть.
func initJournal(ctx context.Context, cfg *config.Config, log *utils.Logger) (gateway.Journal, *sql.DB, error) {
	if cfg.Journal.Driver != "postgres" {
		log.Info("Using in-memory journal", utils.Int("capacity", cfg.Journal.Capacity))
		return gateway.NewMemoryJournal(cfg.Journal.Capacity), nil, nil
	}

	db, err := initDatabase(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	repo := repository.NewEventRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ensure journal schema: %w", err)
	}

	log.Info("Connected to database successfully", utils.String("host", cfg.Database.Host))
	return repo, db, nil
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config, log *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения: БД в docker-compose может подниматься дольше шлюза
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfgRetry := retry.NetworkConfig()
	cfgRetry.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("Database ping failed, retrying", utils.Attempt(attempt), utils.Delay(delay), utils.Err(err))
	}
	if err := retry.Do(ctx, func() error { return db.PingContext(ctx) }, cfgRetry); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// runRetention удаляет из журнала события старше retention
func runRetention(ctx context.Context, repo *repository.EventRepository, retention time.Duration, log *utils.Logger) {
	interval := retention / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := repo.DeleteOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Warn("Journal retention failed", utils.Err(err))
				continue
			}
			if removed > 0 {
				log.Info("Journal retention", utils.Int64("removed", removed))
			}
		}
	}
}

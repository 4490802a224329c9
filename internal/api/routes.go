package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botdash/internal/api/handlers"
	"botdash/internal/api/middleware"
	"botdash/internal/gateway"
	"botdash/pkg/utils"
)

// TokenService выпускает и проверяет токены (auth.Manager)
type TokenService interface {
	handlers.TokenIssuer
	middleware.TokenValidator
}

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Hub            *gateway.Hub
	Stream         *gateway.Server
	Credentials    handlers.CredentialChecker
	Tokens         TokenService
	LoginLimiter   handlers.LoginLimiter
	AllowedOrigins []string
	TrustedProxies *middleware.TrustedProxies // nil - X-Forwarded-For игнорируется
	Logger         *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты шлюза
//
// Структура маршрутов:
//
//	/api/v1/
//	├── POST /auth/login  - вход оператора, выдача JWT
//	└── POST /events      - публикация события в стрим (auth)
//
//	/stream               - SSE стрим событий (auth)
//	/stream/ws            - WebSocket стрим событий (auth)
//	/health               - проверка живости
//	/metrics              - Prometheus
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для защищенных маршрутов)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger, deps.TrustedProxies))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	requireAuth := middleware.Auth(deps.Tokens, deps.Logger)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	authHandler := handlers.NewAuthHandler(deps.Credentials, deps.Tokens, deps.LoginLimiter, deps.Logger)
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost, http.MethodOptions)

	eventHandler := handlers.NewEventHandler(deps.Hub, deps.Logger)
	events := api.PathPrefix("/events").Subrouter()
	events.Use(requireAuth)
	events.HandleFunc("", eventHandler.PublishEvent).Methods(http.MethodPost, http.MethodOptions)

	// Stream routes
	stream := router.PathPrefix("/stream").Subrouter()
	stream.Use(requireAuth)
	stream.HandleFunc("", deps.Stream.ServeSSE).Methods(http.MethodGet, http.MethodOptions)
	stream.HandleFunc("/ws", deps.Stream.ServeWS).Methods(http.MethodGet)

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"botdash/pkg/utils"
)

type requestIDKey struct{}

// RequestIDFromContext возвращает X-Request-ID текущего запроса
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// responseWriter захватывает status code и размер ответа.
// Flush и Hijack пробрасываются: без них SSE и WebSocket за middleware не работают.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logging - middleware для логирования HTTP запросов
//
// Назначение:
// Структурированный лог каждого запроса: метод, путь, статус, latency,
// размер ответа, IP клиента и request id.
//
// Request ID берётся из X-Request-ID или генерируется (uuid),
// кладётся в context и возвращается в заголовке ответа.
// IP клиента определяется через proxies (nil - только RemoteAddr)
// и доступен обработчикам через ClientIP.
// Долгоживущие стримы логируются по завершении соединения.
func Logging(logger *utils.Logger, proxies *TrustedProxies) func(http.Handler) http.Handler {
	log := utils.OrGlobal(logger).WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)
			clientIP := proxies.Resolve(r)

			ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
			r = r.WithContext(withClientIP(ctx, clientIP))

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			log.WithRequestID(requestID).Info("HTTP request",
				utils.String("method", r.Method),
				utils.String("path", r.URL.Path),
				utils.Int("status", wrapped.statusCode),
				utils.Latency(float64(time.Since(start).Microseconds())/1000),
				utils.String("client_ip", clientIP),
				utils.Int64("bytes", wrapped.written),
			)
		})
	}
}

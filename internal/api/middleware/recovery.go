package middleware

import (
	"net/http"
	"runtime/debug"

	"botdash/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Назначение:
// Перехватывает panic в HTTP handlers и предотвращает падение всего сервера.
// Логирует ошибку со stack trace и возвращает клиенту 500.
//
// Текст паники клиенту не отдаётся: только в лог.
// http.ErrAbortHandler пробрасывается дальше, это штатный способ
// оборвать ответ (net/http сам его обработает).
func Recovery(logger *utils.Logger) func(http.Handler) http.Handler {
	log := utils.OrGlobal(logger).WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}

					log.Error("Panic in HTTP handler",
						utils.String("method", r.Method),
						utils.String("path", r.URL.Path),
						utils.RequestID(RequestIDFromContext(r.Context())),
						utils.Any("panic", rec),
						utils.String("stack", string(debug.Stack())),
					)

					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

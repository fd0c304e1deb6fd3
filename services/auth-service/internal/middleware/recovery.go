package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/pkg/logger"
)

// RecoveryMiddleware обрабатывает паники в обработчиках HTTP
func RecoveryMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("Panic recovered in HTTP handler",
						logger.CtxField(r.Context()),
						logger.Any("panic", rec),
						logger.String("stack_trace", string(debug.Stack())),
						logger.String("method", r.Method),
						logger.String("path", r.URL.Path))

					pkgErrors.WriteJSON(w, pkgErrors.Internal(fmt.Errorf("panic: %v", rec)))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

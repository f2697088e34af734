package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"webpay-gateway-api/models"
	"webpay-gateway-api/services/protection"
	"webpay-gateway-api/utils"
)

// ProtectTransaction admits a return callback only if its token was issued
// by this service and has not been seen before. The token is taken from
// token_ws, or TBK_TOKEN when the user aborted, in the query or form body.
// Requests without a token are always rejected with 404.
func ProtectTransaction(enabled bool, prefix string, store protection.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.With(zap.String("component", "protect_transaction"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := models.CallbackToken(r)
			if token == "" {
				utils.SendErrorResponse(w, http.StatusNotFound, "Not Found")
				return
			}

			if !enabled {
				next.ServeHTTP(w, r)
				return
			}

			found, err := store.Pull(r.Context(), protection.Key(prefix, token))
			if err != nil {
				logger.Error("token store lookup failed",
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.Error(err))
				utils.SendErrorResponse(w, http.StatusNotFound, "Not Found")
				return
			}
			if !found {
				logger.Warn("rejected unknown or reused transaction token",
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.String("remote_addr", remoteIP(r)))
				utils.SendErrorResponse(w, http.StatusNotFound, "Not Found")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

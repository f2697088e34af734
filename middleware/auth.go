package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"webpay-gateway-api/models"
	"webpay-gateway-api/services/auth"
	"webpay-gateway-api/utils"
)

type contextKey string

const OperatorContextKey contextKey = "operator"

// AuthMiddleware requires a valid operator bearer token. When no JWT secret
// is configured the wrapped endpoints answer 503.
func AuthMiddleware(jwtService *auth.JWTService, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.With(zap.String("component", "auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !jwtService.Enabled() {
				utils.SendErrorResponse(w, http.StatusServiceUnavailable, "Operator endpoints are disabled")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Info("missing authorization header", zap.String("remote_addr", remoteIP(r)))
				utils.SendErrorResponse(w, http.StatusUnauthorized, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Info("invalid authorization header format", zap.String("remote_addr", remoteIP(r)))
				utils.SendErrorResponse(w, http.StatusUnauthorized, "Invalid authorization header format")
				return
			}

			operator, err := jwtService.ValidateToken(parts[1])
			if err != nil {
				logger.Info("token validation failed",
					zap.String("remote_addr", remoteIP(r)),
					zap.Error(err))

				var message string
				switch err {
				case auth.ErrTokenExpired:
					message = "Token expired"
				case auth.ErrInvalidToken:
					message = "Invalid token"
				default:
					message = "Authentication failed"
				}

				utils.SendErrorResponse(w, http.StatusUnauthorized, message)
				return
			}

			ctx := context.WithValue(r.Context(), OperatorContextKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetOperatorFromContext(ctx context.Context) *models.Operator {
	operator, ok := ctx.Value(OperatorContextKey).(*models.Operator)
	if !ok {
		return nil
	}
	return operator
}

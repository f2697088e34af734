package protection

import (
	"context"
	"time"

	"go.uber.org/zap"

	"webpay-gateway-api/services/payment"
)

// SaveTransactionToken stores the token of every created transaction so the
// return callback can be admitted exactly once. Store failures are logged
// and swallowed; the payment flow continues without protection for that token.
func SaveTransactionToken(store Store, prefix string, ttl time.Duration, logger *zap.Logger) payment.Listener {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger = logger.With(zap.String("component", "protection"))

	return func(ctx context.Context, event payment.Event) error {
		if event.Response == nil || event.Response.Token() == "" {
			return nil
		}

		if err := store.Put(ctx, Key(prefix, event.Response.Token()), ttl); err != nil {
			logger.Error("could not store transaction token", zap.Error(err))
		}
		return nil
	}
}

// Register subscribes the token writer to created transactions. Nothing is
// subscribed when protection is disabled.
func Register(events *payment.Dispatcher, enabled bool, store Store, prefix string, logger *zap.Logger) {
	if !enabled || events == nil || store == nil {
		return
	}
	events.Listen(payment.EventTransactionCreated, SaveTransactionToken(store, prefix, DefaultTTL, logger))
}

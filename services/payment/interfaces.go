package payment

import (
	"context"

	"webpay-gateway-api/models"
	"webpay-gateway-api/services/payment/transbank"
)

// Sender delivers an ApiRequest to the gateway. *transbank.Client implements it.
type Sender interface {
	Send(ctx context.Context, method, endpoint string, request *models.ApiRequest) (*transbank.Response, error)
}

// Gateway is the set of Webpay operations handlers and the CLI depend on.
type Gateway interface {
	Create(ctx context.Context, buyOrder string, amount float64, returnURL string) (models.Response, error)
	Commit(ctx context.Context, token string) (*models.Transaction, error)
	Status(ctx context.Context, token string) (*models.Transaction, error)
	Refund(ctx context.Context, token string, amount float64) (*models.Transaction, error)
	Capture(ctx context.Context, token, buyOrder, authorizationCode string, amount float64) (*models.Transaction, error)
}

var _ Gateway = (*Webpay)(nil)

package handlers

import (
	"context"
	"net/http"
	"sync"

	"webpay-gateway-api/models"
	"webpay-gateway-api/services/payment"
)

// ActionAborted marks a Transaction built from the callback of a payment
// the user cancelled on the gateway form.
const ActionAborted = "aborted"

// Condition decides whether a callback should be committed.
type Condition interface {
	holds(ctx context.Context, wr *WebpayRequest) (bool, error)
}

type boolCondition bool

func (c boolCondition) holds(context.Context, *WebpayRequest) (bool, error) {
	return bool(c), nil
}

type statusCondition func(status *models.Transaction) bool

func (c statusCondition) holds(ctx context.Context, wr *WebpayRequest) (bool, error) {
	status, err := wr.gateway.Status(ctx, wr.Token())
	if err != nil {
		return false, err
	}
	return c(status), nil
}

// If is a fixed condition.
func If(ok bool) Condition { return boolCondition(ok) }

// IfStatus evaluates fn against the current gateway status of the token.
func IfStatus(fn func(status *models.Transaction) bool) Condition { return statusCondition(fn) }

// WebpayRequest wraps the return callback of a Webpay transaction. The
// gateway is asked to commit at most once per request.
type WebpayRequest struct {
	r       *http.Request
	gateway payment.Gateway

	mu          sync.Mutex
	transaction *models.Transaction
}

func NewWebpayRequest(r *http.Request, gateway payment.Gateway) *WebpayRequest {
	return &WebpayRequest{r: r, gateway: gateway}
}

// Token returns token_ws, or TBK_TOKEN when the user aborted, from the
// query or the form body.
func (wr *WebpayRequest) Token() string {
	return models.CallbackToken(wr.r)
}

// IsAborted reports whether the user cancelled on the gateway form.
func (wr *WebpayRequest) IsAborted() bool {
	return wr.r.FormValue(models.FieldTbkIdSession) != "" && wr.r.FormValue(models.FieldTbkOrdenCompra) != ""
}

// Transaction commits the token and memoises the result. An aborted
// callback is turned into a Transaction without calling the gateway.
func (wr *WebpayRequest) Transaction(ctx context.Context) (*models.Transaction, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	return wr.commit(ctx)
}

// CommitWhen commits when cond holds and returns the transaction, which is
// nil if nothing was committed.
func (wr *WebpayRequest) CommitWhen(ctx context.Context, cond Condition) (*models.Transaction, error) {
	return wr.commitIf(ctx, cond, true)
}

// CommitUnless commits when cond does not hold.
func (wr *WebpayRequest) CommitUnless(ctx context.Context, cond Condition) (*models.Transaction, error) {
	return wr.commitIf(ctx, cond, false)
}

func (wr *WebpayRequest) IsSuccessful(ctx context.Context) (bool, error) {
	transaction, err := wr.Transaction(ctx)
	if err != nil {
		return false, err
	}
	return transaction.IsSuccessful(), nil
}

func (wr *WebpayRequest) IsNotSuccessful(ctx context.Context) (bool, error) {
	ok, err := wr.IsSuccessful(ctx)
	return !ok, err
}

func (wr *WebpayRequest) commitIf(ctx context.Context, cond Condition, want bool) (*models.Transaction, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	ok, err := cond.holds(ctx, wr)
	if err != nil {
		return nil, err
	}
	if ok != want {
		return wr.transaction, nil
	}
	return wr.commit(ctx)
}

// commit is called with mu held.
func (wr *WebpayRequest) commit(ctx context.Context) (*models.Transaction, error) {
	if wr.transaction != nil {
		return wr.transaction, nil
	}

	if wr.IsAborted() {
		wr.transaction = models.NewTransaction(payment.ServiceName, ActionAborted, models.FieldsFromPairs(
			models.Attribute{Key: models.FieldTbkToken, Value: wr.r.FormValue(models.FieldTbkToken)},
			models.Attribute{Key: models.FieldTbkIdSession, Value: wr.r.FormValue(models.FieldTbkIdSession)},
			models.Attribute{Key: models.FieldTbkOrdenCompra, Value: wr.r.FormValue(models.FieldTbkOrdenCompra)},
		))
		return wr.transaction, nil
	}

	transaction, err := wr.gateway.Commit(ctx, wr.Token())
	if err != nil {
		return nil, err
	}
	wr.transaction = transaction
	return transaction, nil
}

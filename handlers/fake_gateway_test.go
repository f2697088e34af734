package handlers

import (
	"context"

	"webpay-gateway-api/models"
)

type gatewayCall struct {
	op   string
	args []interface{}
}

type fakeGateway struct {
	calls []gatewayCall

	created     models.Response
	commit      *models.Transaction
	status      *models.Transaction
	transaction *models.Transaction
	err         error
}

func (f *fakeGateway) record(op string, args ...interface{}) {
	f.calls = append(f.calls, gatewayCall{op, args})
}

func (f *fakeGateway) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (f *fakeGateway) Create(_ context.Context, buyOrder string, amount float64, returnURL string) (models.Response, error) {
	f.record("create", buyOrder, amount, returnURL)
	if f.err != nil {
		return models.Response{}, f.err
	}
	return f.created, nil
}

func (f *fakeGateway) Commit(_ context.Context, token string) (*models.Transaction, error) {
	f.record("commit", token)
	if f.err != nil {
		return nil, f.err
	}
	return f.commit, nil
}

func (f *fakeGateway) Status(_ context.Context, token string) (*models.Transaction, error) {
	f.record("status", token)
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func (f *fakeGateway) Refund(_ context.Context, token string, amount float64) (*models.Transaction, error) {
	f.record("refund", token, amount)
	if f.err != nil {
		return nil, f.err
	}
	return f.transaction, nil
}

func (f *fakeGateway) Capture(_ context.Context, token, buyOrder, authorizationCode string, amount float64) (*models.Transaction, error) {
	f.record("capture", token, buyOrder, authorizationCode, amount)
	if f.err != nil {
		return nil, f.err
	}
	return f.transaction, nil
}

func transactionOf(action string, pairs ...models.Attribute) *models.Transaction {
	return models.NewTransaction("webpay", action, models.FieldsFromPairs(pairs...))
}

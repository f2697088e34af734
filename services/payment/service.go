package payment

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"webpay-gateway-api/models"
	"webpay-gateway-api/services/payment/transbank"
)

const (
	ServiceName = "webpay"

	// IntegrationKey is the public commerce code of the Webpay Plus sandbox.
	IntegrationKey = "597055555532"

	// DefaultSessionID is sent on create; this integration does not track sessions.
	DefaultSessionID = "no-session-id"
)

const (
	ActionCreate  = "create"
	ActionCommit  = "commit"
	ActionStatus  = "status"
	ActionRefund  = "refund"
	ActionCapture = "capture"
)

const EndpointBase = "rswebpaytransaction/api/webpay/{api_version}/"

type Endpoint struct {
	Method string
	Path   string
}

var Endpoints = map[string]Endpoint{
	ActionCreate:  {http.MethodPost, EndpointBase + "transactions"},
	ActionCommit:  {http.MethodPut, EndpointBase + "transactions/{token}"},
	ActionStatus:  {http.MethodGet, EndpointBase + "transactions/{token}"},
	ActionRefund:  {http.MethodPut, EndpointBase + "transactions/{token}/refunds"},
	ActionCapture: {http.MethodPut, EndpointBase + "transactions/{token}/capture"},
}

// Webpay runs Webpay Plus operations against the gateway. Errors from the
// transport are returned as they come.
type Webpay struct {
	client Sender
	events *Dispatcher
	logger *zap.Logger
}

func NewWebpay(client Sender, events *Dispatcher, logger *zap.Logger) *Webpay {
	return &Webpay{
		client: client,
		events: events,
		logger: logger.With(zap.String("component", "webpay")),
	}
}

// Create starts a transaction and returns where to redirect the user.
func (w *Webpay) Create(ctx context.Context, buyOrder string, amount float64, returnURL string) (models.Response, error) {
	apiRequest := w.request(ActionCreate,
		models.Attribute{Key: "buy_order", Value: buyOrder},
		models.Attribute{Key: "amount", Value: amount},
		models.Attribute{Key: "session_id", Value: DefaultSessionID},
		models.Attribute{Key: "return_url", Value: returnURL},
	)

	w.logger.Debug("Creating transaction", zap.Any("api_request", apiRequest))
	w.events.Dispatch(ctx, Event{Type: EventTransactionCreating, Request: apiRequest})

	response, err := w.send(ctx, apiRequest, "")
	if err != nil {
		return models.Response{}, err
	}

	token, _ := jsonString(response, "token")
	redirectURL, _ := jsonString(response, "url")
	if token == "" || redirectURL == "" {
		return models.Response{}, transbank.NewServerError("Response is missing the token or url.", apiRequest, response, nil)
	}
	created := models.NewResponse(token, redirectURL)

	w.events.Dispatch(ctx, Event{Type: EventTransactionCreated, Request: apiRequest, Response: &created})

	return created, nil
}

// Commit confirms a transaction once the user comes back from the gateway.
func (w *Webpay) Commit(ctx context.Context, token string) (*models.Transaction, error) {
	apiRequest := w.request(ActionCommit)

	w.logger.Debug("Committing transaction", zap.String("token", token), zap.Any("api_request", apiRequest))

	response, err := w.send(ctx, apiRequest, token)
	if err != nil {
		return nil, err
	}

	transaction, err := w.transaction(apiRequest, response)
	if err != nil {
		return nil, err
	}

	w.events.Dispatch(ctx, Event{Type: EventTransactionCompleted, Request: apiRequest, Transaction: transaction})

	return transaction, nil
}

// Status reads a non-expired transaction. It fires no events.
func (w *Webpay) Status(ctx context.Context, token string) (*models.Transaction, error) {
	apiRequest := w.request(ActionStatus)

	w.logger.Debug("Retrieving transaction status", zap.String("token", token), zap.Any("api_request", apiRequest))

	response, err := w.send(ctx, apiRequest, token)
	if err != nil {
		return nil, err
	}

	return w.transaction(apiRequest, response)
}

// Refund reverses or nullifies, partially or totally, a charged amount.
func (w *Webpay) Refund(ctx context.Context, token string, amount float64) (*models.Transaction, error) {
	apiRequest := w.request(ActionRefund, models.Attribute{Key: "amount", Value: amount})

	w.logger.Debug("Refunding transaction", zap.String("token", token), zap.Any("api_request", apiRequest))
	w.events.Dispatch(ctx, Event{Type: EventTransactionCreating, Request: apiRequest})

	response, err := w.send(ctx, apiRequest, token)
	if err != nil {
		return nil, err
	}

	transaction, err := w.transaction(apiRequest, response)
	if err != nil {
		return nil, err
	}

	w.events.Dispatch(ctx, Event{Type: EventTransactionCompleted, Request: apiRequest, Transaction: transaction})

	return transaction, nil
}

// Capture settles an amount previously held on a credit card. The gateway
// keeps the hold for a limited number of days; that window is not checked here.
func (w *Webpay) Capture(ctx context.Context, token, buyOrder, authorizationCode string, amount float64) (*models.Transaction, error) {
	apiRequest := w.request(ActionCapture,
		models.Attribute{Key: "buy_order", Value: buyOrder},
		models.Attribute{Key: "authorization_code", Value: authorizationCode},
		models.Attribute{Key: "capture_amount", Value: amount},
	)

	w.logger.Debug("Capturing transaction", zap.String("token", token), zap.Any("api_request", apiRequest))

	response, err := w.send(ctx, apiRequest, token)
	if err != nil {
		return nil, err
	}

	transaction, err := w.transaction(apiRequest, response)
	if err != nil {
		return nil, err
	}

	w.events.Dispatch(ctx, Event{Type: EventTransactionCompleted, Request: apiRequest, Transaction: transaction})

	return transaction, nil
}

func (w *Webpay) request(action string, attributes ...models.Attribute) *models.ApiRequest {
	return models.NewApiRequest(ServiceName, action, attributes...)
}

// send delivers apiRequest and logs the raw response before anything is
// built from it. Token operations refuse an empty token without a request.
func (w *Webpay) send(ctx context.Context, apiRequest *models.ApiRequest, token string) (*transbank.Response, error) {
	endpoint := Endpoints[apiRequest.Action]
	if strings.Contains(endpoint.Path, "{token}") && token == "" {
		return nil, transbank.NewClientError("A transaction token is required.", apiRequest, nil, nil)
	}
	path := strings.ReplaceAll(endpoint.Path, "{token}", url.PathEscape(token))

	response, err := w.client.Send(ctx, endpoint.Method, path, apiRequest)
	if err != nil {
		return nil, err
	}
	w.logResponse(apiRequest, response, token)
	return response, nil
}

func (w *Webpay) transaction(apiRequest *models.ApiRequest, response *transbank.Response) (*models.Transaction, error) {
	transaction, err := models.ParseTransaction(ServiceName, apiRequest.Action, response.Body)
	if err != nil {
		return nil, transbank.NewServerError("Response is not a JSON object.", apiRequest, response, err)
	}
	return transaction, nil
}

func (w *Webpay) logResponse(apiRequest *models.ApiRequest, response *transbank.Response, token string) {
	fields := []zap.Field{
		zap.Any("api_request", apiRequest),
		zap.ByteString("raw_response", response.Body),
	}
	if token != "" {
		fields = append(fields, zap.String("token", token))
	}
	w.logger.Debug("Response received", fields...)
}

func jsonString(response *transbank.Response, key string) (string, bool) {
	value, ok := response.JSON(key)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"webpay-gateway-api/handlers"
	"webpay-gateway-api/middleware"
	"webpay-gateway-api/models"
	"webpay-gateway-api/services/auth"
	"webpay-gateway-api/services/payment"
	"webpay-gateway-api/services/payment/transbank"
	"webpay-gateway-api/services/protection"
)

type stack struct {
	router  http.Handler
	redis   *miniredis.Miniredis
	jwt     *auth.JWTService
	commits int32
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{}

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/rswebpaytransaction/api/webpay/v1.3/transactions":
			io.WriteString(w, `{"token":"T","url":"https://gw/init"}`)
		case r.Method == http.MethodPut && r.URL.Path == "/rswebpaytransaction/api/webpay/v1.3/transactions/T":
			atomic.AddInt32(&s.commits, 1)
			io.WriteString(w, `{"status":"AUTHORIZED","response_code":0,"buy_order":"order1","amount":100}`)
		case r.Method == http.MethodGet && r.URL.Path == "/rswebpaytransaction/api/webpay/v1.3/transactions/T":
			io.WriteString(w, `{"status":"AUTHORIZED","response_code":0}`)
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			io.WriteString(w, `{"error_message":"Invalid value for parameter: token"}`)
		}
	}))
	t.Cleanup(gateway.Close)

	s.redis = miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.redis.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zap.NewNop()
	store := protection.NewRedisStoreWithClient(client)
	events := payment.NewDispatcher(logger)
	protection.Register(events, true, store, protection.DefaultPrefix, logger)

	transport := transbank.NewClient(transbank.Settings{
		Timeout: time.Second,
		Credentials: map[string]transbank.Credentials{
			payment.ServiceName: {Key: payment.IntegrationKey, Secret: transbank.IntegrationSecret},
		},
	}, logger, transbank.WithBaseURL(gateway.URL+"/"))

	webpayHandler, err := handlers.NewWebpayHandler(payment.NewWebpay(transport, events, logger), "https://app/api/webpay/return", logger)
	require.NoError(t, err)

	s.jwt = auth.NewJWTService("secret", "webpay-gateway-api")
	s.router = newRouter(routerDeps{
		webpay:  webpayHandler,
		health:  handlers.NewHealthHandler(nil),
		jwt:     s.jwt,
		limiter: middleware.NewRateLimiter(client, logger),
		protect: middleware.ProtectTransaction(true, protection.DefaultPrefix, store, logger),
		logger:  logger,
	})
	return s
}

func (s *stack) do(method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestPaymentFlowAdmitsReturnOnce(t *testing.T) {
	s := newStack(t)

	created := s.do(http.MethodPost, "/api/webpay/transactions", strings.NewReader(`{"buy_order":"order1","amount":100}`), nil)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	var body struct {
		Data struct {
			Redirect string `json:"redirect"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &body))
	assert.Equal(t, "https://gw/init?token_ws=T", body.Data.Redirect)
	assert.True(t, s.redis.Exists("transbank|token|T"))

	first := s.do(http.MethodGet, "/api/webpay/return?token_ws=T", nil, nil)
	assert.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Contains(t, first.Body.String(), "Transaction authorized")

	replay := s.do(http.MethodGet, "/api/webpay/return?token_ws=T", nil, nil)
	assert.Equal(t, http.StatusNotFound, replay.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&s.commits))
}

func TestPostedReturnCommitsFormToken(t *testing.T) {
	s := newStack(t)

	created := s.do(http.MethodPost, "/api/webpay/transactions", strings.NewReader(`{"buy_order":"order1","amount":100}`), nil)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	form := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	rec := s.do(http.MethodPost, "/api/webpay/return", strings.NewReader(url.Values{"token_ws": {"T"}}.Encode()), form)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Transaction authorized")
	assert.Equal(t, int32(1), atomic.LoadInt32(&s.commits))
	assert.False(t, s.redis.Exists("transbank|token|T"))
}

func TestReturnRejectsUnknownToken(t *testing.T) {
	s := newStack(t)

	rec := s.do(http.MethodGet, "/api/webpay/return?token_ws=forged", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/webpay/return", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&s.commits))
}

func TestFailedCallbackIsForwardedToReturn(t *testing.T) {
	s := newStack(t)

	form := url.Values{"TBK_TOKEN": {"T"}, "TBK_ID_SESSION": {"s"}, "TBK_ORDEN_COMPRA": {"order1"}, "extra": {"x"}}
	rec := s.do(http.MethodPost, "/api/webpay/failed", strings.NewReader(form.Encode()),
		http.Header{"Content-Type": {"application/x-www-form-urlencoded"}})

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/api/webpay/return?TBK_TOKEN=T&TBK_ID_SESSION=s&TBK_ORDEN_COMPRA=order1", rec.Header().Get("Location"))
}

func TestOperatorEndpointsRequireToken(t *testing.T) {
	s := newStack(t)

	rec := s.do(http.MethodGet, "/api/webpay/transactions/T", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	issued, err := s.jwt.GenerateToken(models.Operator{Subject: "ops", Role: models.RoleOperator}, time.Hour)
	require.NoError(t, err)

	rec = s.do(http.MethodGet, "/api/webpay/transactions/T", nil, http.Header{"Authorization": {"Bearer " + issued.Token}})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = s.do(http.MethodGet, "/api/webpay/transactions/bogus", nil, http.Header{"Authorization": {"Bearer " + issued.Token}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid value for parameter: token")
}

func TestHealthRoute(t *testing.T) {
	s := newStack(t)

	rec := s.do(http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"webpay-gateway-api/middleware"
	"webpay-gateway-api/models"
	"webpay-gateway-api/services/payment"
	"webpay-gateway-api/services/payment/transbank"
	"webpay-gateway-api/utils"
)

// maxBuyOrderLength is the longest buy order Webpay accepts.
const maxBuyOrderLength = 26

type WebpayHandler struct {
	gateway   payment.Gateway
	returnURL string
	logger    *zap.Logger
}

type CreateTransactionRequest struct {
	BuyOrder  string      `json:"buy_order"`
	Amount    json.Number `json:"amount"`
	ReturnURL string      `json:"return_url"`
}

type RefundRequest struct {
	Amount json.Number `json:"amount"`
}

type CaptureRequest struct {
	BuyOrder          string      `json:"buy_order"`
	AuthorizationCode string      `json:"authorization_code"`
	Amount            json.Number `json:"amount"`
}

func NewWebpayHandler(gateway payment.Gateway, returnURL string, logger *zap.Logger) (*WebpayHandler, error) {
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway is required")
	}
	if returnURL == "" {
		return nil, fmt.Errorf("return url is required")
	}

	return &WebpayHandler{
		gateway:   gateway,
		returnURL: returnURL,
		logger:    logger.With(zap.String("component", "webpay_handler")),
	}, nil
}

// CreateTransaction starts a payment. With ?redirect=1 the browser is sent
// straight to the gateway form; otherwise the redirect target is returned.
func (h *WebpayHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.BuyOrder == "" {
		req.BuyOrder = utils.GenerateRandomString(maxBuyOrderLength)
	}
	if len(req.BuyOrder) > maxBuyOrderLength {
		utils.SendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("buy_order must be at most %d characters", maxBuyOrderLength))
		return
	}
	if req.ReturnURL == "" {
		req.ReturnURL = h.returnURL
	}

	response, err := h.gateway.Create(r.Context(), req.BuyOrder, amount, req.ReturnURL)
	if err != nil {
		h.sendGatewayError(w, r, err)
		return
	}

	h.logger.Info("transaction created",
		zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
		zap.String("buy_order", req.BuyOrder),
		zap.Float64("amount", amount))

	if r.URL.Query().Get("redirect") == "1" {
		response.Redirect(w, r)
		return
	}

	utils.SendJSONResponse(w, http.StatusCreated, models.APIResponse{
		Status:  "success",
		Message: "Transaction created",
		Data:    response,
	})
}

// Return handles the user coming back from the gateway. The token has
// already been admitted by the replay gate.
func (h *WebpayHandler) Return(w http.ResponseWriter, r *http.Request) {
	webpayRequest := NewWebpayRequest(r, h.gateway)

	transaction, err := webpayRequest.Transaction(r.Context())
	if err != nil {
		h.sendGatewayError(w, r, err)
		return
	}

	if webpayRequest.IsAborted() {
		h.logger.Info("transaction aborted by user",
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.String("buy_order", r.FormValue(models.FieldTbkOrdenCompra)))
		utils.SendJSONResponse(w, http.StatusOK, models.APIResponse{
			Status:  "error",
			Message: "Transaction aborted",
			Data:    transaction,
		})
		return
	}

	if transaction.IsNotSuccessful() {
		h.logger.Info("transaction rejected",
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.String("buy_order", transaction.BuyOrder()),
			zap.String("status", transaction.Status()))
		utils.SendJSONResponse(w, http.StatusOK, models.APIResponse{
			Status:  "error",
			Message: "Transaction rejected",
			Data:    transaction,
		})
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Transaction authorized",
		Data:    transaction,
	})
}

func (h *WebpayHandler) Status(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	transaction, err := h.gateway.Status(r.Context(), token)
	if err != nil {
		h.sendGatewayError(w, r, err)
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Transaction status",
		Data:    transaction,
	})
}

func (h *WebpayHandler) Refund(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	var req RefundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	transaction, err := h.gateway.Refund(r.Context(), token, amount)
	if err != nil {
		h.sendGatewayError(w, r, err)
		return
	}

	h.logOperator(r, "transaction refunded", zap.Float64("amount", amount), zap.String("type", transaction.Type()))

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Transaction refunded",
		Data:    transaction,
	})
}

func (h *WebpayHandler) Capture(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	var req CaptureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.BuyOrder) == "" || strings.TrimSpace(req.AuthorizationCode) == "" {
		utils.SendErrorResponse(w, http.StatusBadRequest, "buy_order and authorization_code are required")
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		utils.SendErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	transaction, err := h.gateway.Capture(r.Context(), token, req.BuyOrder, req.AuthorizationCode, amount)
	if err != nil {
		h.sendGatewayError(w, r, err)
		return
	}

	h.logOperator(r, "transaction captured", zap.Float64("amount", amount), zap.String("buy_order", req.BuyOrder))

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "Transaction captured",
		Data:    transaction,
	})
}

// sendGatewayError maps transport errors to HTTP statuses: a rejected
// request is the caller's fault, an unreachable or broken gateway is not.
func (h *WebpayHandler) sendGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := GatewayErrorStatus(err)

	fields := []zap.Field{
		zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	var gatewayErr transbank.Error
	if errors.As(err, &gatewayErr) && gatewayErr.Response() != nil {
		fields = append(fields, zap.Int("gateway_status", gatewayErr.Response().StatusCode))
	}
	h.logger.Error("gateway call failed", fields...)

	utils.SendErrorResponse(w, status, message)
}

func GatewayErrorStatus(err error) (int, string) {
	var clientErr *transbank.ClientError
	var networkErr *transbank.NetworkError
	var serverErr *transbank.ServerError

	switch {
	case errors.As(err, &clientErr):
		return http.StatusBadRequest, clientErr.Error()
	case errors.As(err, &networkErr):
		return http.StatusBadGateway, networkErr.Error()
	case errors.As(err, &serverErr):
		return http.StatusBadGateway, serverErr.Error()
	default:
		return http.StatusInternalServerError, "An error occurred when communicating with Transbank."
	}
}

func (h *WebpayHandler) logOperator(r *http.Request, message string, fields ...zap.Field) {
	if operator := middleware.GetOperatorFromContext(r.Context()); operator != nil {
		fields = append(fields, zap.String("operator", operator.Subject))
	}
	fields = append(fields,
		zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
		zap.String("token", mux.Vars(r)["token"]))
	h.logger.Info(message, fields...)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

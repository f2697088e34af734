package transbank

import "webpay-gateway-api/models"

// Error is implemented by every error the Client returns. It carries the
// request that was being sent and, when one arrived, the gateway response.
type Error interface {
	error
	ApiRequest() *models.ApiRequest
	Response() *Response
	Unwrap() error
}

type gatewayError struct {
	message  string
	request  *models.ApiRequest
	response *Response
	cause    error
}

func (e *gatewayError) Error() string                  { return e.message }
func (e *gatewayError) ApiRequest() *models.ApiRequest { return e.request }
func (e *gatewayError) Response() *Response            { return e.response }
func (e *gatewayError) Unwrap() error                  { return e.cause }

// NetworkError means the gateway could not be reached at all.
type NetworkError struct{ gatewayError }

// ServerError means the gateway answered with something unusable: non-JSON,
// a redirection or a 5xx.
type ServerError struct{ gatewayError }

// ClientError means the gateway rejected the request with a 4xx.
type ClientError struct{ gatewayError }

// UnknownError wraps anything else that failed while sending or classifying.
type UnknownError struct{ gatewayError }

func NewNetworkError(message string, request *models.ApiRequest, response *Response, cause error) *NetworkError {
	return &NetworkError{gatewayError{message, request, response, cause}}
}

func NewServerError(message string, request *models.ApiRequest, response *Response, cause error) *ServerError {
	return &ServerError{gatewayError{message, request, response, cause}}
}

func NewClientError(message string, request *models.ApiRequest, response *Response, cause error) *ClientError {
	return &ClientError{gatewayError{message, request, response, cause}}
}

func NewUnknownError(message string, request *models.ApiRequest, response *Response, cause error) *UnknownError {
	return &UnknownError{gatewayError{message, request, response, cause}}
}

var (
	_ Error = (*NetworkError)(nil)
	_ Error = (*ServerError)(nil)
	_ Error = (*ClientError)(nil)
	_ Error = (*UnknownError)(nil)
)

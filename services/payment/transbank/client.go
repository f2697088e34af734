package transbank

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"webpay-gateway-api/models"
)

const (
	Version    = "1.0"
	APIVersion = "v1.3"

	HeaderKey    = "Tbk-Api-Key-Id"
	HeaderSecret = "Tbk-Api-Key-Secret"

	ProductionEndpoint  = "https://webpay3g.transbank.cl/"
	IntegrationEndpoint = "https://webpay3gint.transbank.cl/"

	ProductionEnvironment = "production"

	// IntegrationSecret is the public shared secret of the integration sandbox.
	IntegrationSecret = "579B532A7440BB0C9079DED94D31EA1615BACEB56610332264630D42D0A36B1C"

	apiVersionPlaceholder = "{api_version}"
)

const (
	msgNetwork  = "Could not establish connection with Transbank."
	msgUnknown  = "An error occurred when communicating with Transbank."
	msgNonJSON  = "Non-JSON response received."
	msgRedirect = "A redirection was returned."
)

type Credentials struct {
	Key    string
	Secret string
}

type Settings struct {
	Environment string
	Timeout     time.Duration
	Retries     int
	Backoff     time.Duration
	Credentials map[string]Credentials
}

type Client struct {
	settings Settings
	baseURL  string
	client   *http.Client
	logger   *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Redirect following is
// disabled on the copy the Client keeps. A nil client keeps the default.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			return
		}
		copied := *hc
		copied.CheckRedirect = noRedirects
		c.client = &copied
	}
}

// WithBaseURL overrides the environment endpoint, e.g. to target a stub.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = base
	}
}

func NewClient(settings Settings, logger *zap.Logger, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	c := &Client{
		settings: settings,
		baseURL:  EndpointFor(settings.Environment),
		client: &http.Client{
			Transport:     transport,
			CheckRedirect: noRedirects,
		},
		logger: logger.With(zap.String("component", "transbank_client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EndpointFor returns the gateway host for an environment name. Anything
// other than "production" goes to the integration sandbox.
func EndpointFor(environment string) string {
	if environment == ProductionEnvironment {
		return ProductionEndpoint
	}
	return IntegrationEndpoint
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send performs one gateway call. Transport failures are retried up to
// Settings.Retries more times with exponential backoff; gateway answers are
// never retried.
func (c *Client) Send(ctx context.Context, method, endpoint string, request *models.ApiRequest) (*Response, error) {
	method = strings.ToUpper(method)

	target, err := c.resolve(endpoint)
	if err != nil {
		return nil, NewUnknownError(msgUnknown, request, nil, err)
	}

	// A body on a read may stall the gateway.
	var body []byte
	if method != http.MethodGet {
		payload, err := request.JSON()
		if err != nil {
			return nil, NewUnknownError(msgUnknown, request, nil, err)
		}
		body = []byte(payload)
	}

	response, err := c.sendWithRetries(ctx, method, target, request, body)
	if err != nil {
		return nil, err
	}

	if err := classify(request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) sendWithRetries(ctx context.Context, method, target string, request *models.ApiRequest, body []byte) (*Response, error) {
	attempts := c.settings.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.settings.Backoff * time.Duration(1<<uint(attempt-1))
			c.logger.Warn("retrying gateway request",
				zap.String("service", request.Service),
				zap.String("action", request.Action),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := sleep(ctx, delay); err != nil {
				return nil, NewNetworkError(msgNetwork, request, nil, err)
			}
		}

		response, err := c.do(ctx, method, target, request, body)
		if err == nil {
			return response, nil
		}

		var unknown *UnknownError
		if errors.As(err, &unknown) {
			return nil, err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	return nil, NewNetworkError(msgNetwork, request, nil, lastErr)
}

func (c *Client) do(ctx context.Context, method, target string, request *models.ApiRequest, body []byte) (*Response, error) {
	if c.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, NewUnknownError(msgUnknown, request, nil, err)
	}

	credentials := c.settings.Credentials[request.Service]
	httpReq.Header.Set(HeaderKey, credentials.Key)
	httpReq.Header.Set(HeaderSecret, credentials.Secret)
	httpReq.Header.Set("User-Agent", "go:webpay-gateway-api/"+Version)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading gateway response: %w", err)
	}

	c.logger.Debug("gateway responded",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       raw,
	}, nil
}

func (c *Client) resolve(endpoint string) (string, error) {
	endpoint = strings.ReplaceAll(endpoint, apiVersionPlaceholder, APIVersion)

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", c.baseURL, err)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// classify turns an unusable gateway answer into a typed error. Order matters.
func classify(request *models.ApiRequest, response *Response) error {
	if !isJSON(response.Header.Get("Content-Type")) || len(response.Body) == 0 {
		return NewServerError(msgNonJSON, request, response, nil)
	}

	if response.IsRedirect() {
		return NewServerError(msgRedirect, request, response, nil)
	}

	if response.IsServerError() {
		return NewServerError(errorMessage(response), request, response, nil)
	}

	if response.IsClientError() {
		return NewClientError(errorMessage(response), request, response, nil)
	}

	return nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

func errorMessage(response *Response) string {
	if message, ok := response.JSON("error_message"); ok {
		if s, ok := message.(string); ok {
			return s
		}
	}
	return string(response.Body)
}

func noRedirects(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

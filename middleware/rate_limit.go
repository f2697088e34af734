package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"webpay-gateway-api/utils"
)

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Message  string
}

var defaultConfigs = map[string]RateLimitConfig{
	"/api/webpay/transactions": {
		Requests: 30,
		Window:   time.Minute,
		Message:  "Too many transactions created. Please wait a minute.",
	},
	"/api/webpay/return": {
		Requests: 60,
		Window:   time.Minute,
		Message:  "Too many return callbacks. Please wait a minute.",
	},
	"default": {
		Requests: 120,
		Window:   time.Minute,
		Message:  "Rate limit exceeded. Please slow down your requests.",
	},
}

// fixedWindowScript increments the counter of the current window and starts
// its expiry on first use. Returns the count and the remaining window in ms.
var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {current, ttl}
`)

type RateLimiter struct {
	client  *redis.Client
	configs map[string]RateLimitConfig
	proxies []*net.IPNet
	logger  *zap.Logger
}

func NewRateLimiter(client *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		client:  client,
		configs: defaultConfigs,
		logger:  logger.With(zap.String("component", "rate_limit")),
	}
}

// WithConfig overrides the limit for one path, or "default".
func (rl *RateLimiter) WithConfig(path string, config RateLimitConfig) *RateLimiter {
	configs := make(map[string]RateLimitConfig, len(rl.configs)+1)
	for k, v := range rl.configs {
		configs[k] = v
	}
	configs[path] = config
	return &RateLimiter{client: rl.client, configs: configs, proxies: rl.proxies, logger: rl.logger}
}

// WithTrustedProxies returns a limiter that takes the client address from
// X-Forwarded-For, but only on requests whose peer is one of the given
// addresses or CIDR ranges. Without proxies the socket address is used.
func (rl *RateLimiter) WithTrustedProxies(proxies ...string) (*RateLimiter, error) {
	nets := make([]*net.IPNet, 0, len(proxies))
	for _, proxy := range proxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}
		if !strings.Contains(proxy, "/") {
			ip := net.ParseIP(proxy)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", proxy)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				bits = 8 * net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", proxy, err)
		}
		nets = append(nets, ipNet)
	}
	return &RateLimiter{client: rl.client, configs: rl.configs, proxies: nets, logger: rl.logger}, nil
}

// RateLimitMiddleware counts requests per client IP and path. Redis
// failures let the request through.
func (rl *RateLimiter) RateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			config := rl.getConfigForEndpoint(r.URL.Path)
			key := fmt.Sprintf("rate_limit:%s:%s", rl.clientIP(r), r.URL.Path)

			allowed, remaining, reset, err := rl.checkRateLimit(r.Context(), key, config)
			if err != nil {
				rl.logger.Warn("rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(reset).Unix(), 10))

			if !allowed {
				rl.logger.Info("rate limit exceeded",
					zap.String("key", key),
					zap.String("request_id", RequestIDFromContext(r.Context())))
				w.Header().Set("Retry-After", strconv.FormatInt(int64(reset.Seconds()+0.999), 10))
				utils.SendErrorResponse(w, http.StatusTooManyRequests, config.Message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) getConfigForEndpoint(path string) RateLimitConfig {
	if config, ok := rl.configs[path]; ok {
		return config
	}
	return rl.configs["default"]
}

func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, reset time.Duration, err error) {
	result, err := fixedWindowScript.Run(ctx, rl.client, []string{key}, config.Window.Milliseconds()).Result()
	if err != nil {
		return false, 0, 0, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, 0, fmt.Errorf("unexpected redis result format")
	}
	count, ok1 := values[0].(int64)
	ttl, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, 0, fmt.Errorf("failed to parse redis result")
	}

	remaining = config.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if ttl < 0 {
		ttl = config.Window.Milliseconds()
	}
	return int(count) <= config.Requests, remaining, time.Duration(ttl) * time.Millisecond, nil
}

// clientIP is the socket address unless the peer is a trusted proxy. Behind
// one, X-Forwarded-For is read from the right and the first address that is
// not itself a trusted proxy wins.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	peer := remoteIP(r)
	if !rl.trusted(peer) {
		return peer
	}

	forwarded := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(forwarded) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(forwarded[i])
		if ip != "" && !rl.trusted(ip) {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return peer
}

func (rl *RateLimiter) trusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, proxy := range rl.proxies {
		if proxy.Contains(ip) {
			return true
		}
	}
	return false
}

// remoteIP is the peer address of the connection, without the port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

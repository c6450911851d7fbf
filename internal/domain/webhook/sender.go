package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Sender handles HTTP delivery of messages to target URLs
type Sender struct {
	client         *http.Client
	userAgent      string
	allowInsecure  bool
	maxResponseLen int
}

// SenderConfig holds configuration for the sender
type SenderConfig struct {
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	UserAgent       string
	MaxResponseLen  int
	AllowInsecure   bool // Permit plain HTTP and private addresses (for development)
}

// DefaultSenderConfig returns the default sender configuration
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		ConnectTimeout:  5 * time.Second,
		ReadTimeout:     10 * time.Second,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
		UserAgent:       "Hookrelay/1.0",
		MaxResponseLen:  4 * 1024,
		AllowInsecure:   false,
	}
}

// NewSender creates a new sender with a pooled HTTP client
func NewSender(cfg SenderConfig) *Sender {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.MaxResponseLen <= 0 {
		cfg.MaxResponseLen = 4 * 1024
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &Sender{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
			// Don't follow redirects for webhooks
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent:      cfg.UserAgent,
		allowInsecure:  cfg.AllowInsecure,
		maxResponseLen: cfg.MaxResponseLen,
	}
}

// SendResult represents the observed outcome of one outbound request
type SendResult struct {
	StatusCode      int
	ResponseBody    string
	ResponseHeaders map[string]string
	Duration        time.Duration
	Success         bool
	Error           error
}

// Send POSTs the message payload to the target URL and returns the raw
// outcome. Classification of the outcome is the delivery worker's job.
func (s *Sender) Send(ctx context.Context, msg *Message, extraHeaders map[string]string) *SendResult {
	start := time.Now()

	if err := s.validateURL(msg.TargetURL); err != nil {
		return &SendResult{
			Success:  false,
			Error:    err,
			Duration: time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.TargetURL, bytes.NewBufferString(msg.Payload))
	if err != nil {
		return &SendResult{
			Success:  false,
			Error:    fmt.Errorf("failed to create request: %w", err),
			Duration: time.Since(start),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("X-Webhook-Signature", msg.Signature)
	req.Header.Set("X-Webhook-ID", msg.ID.String())
	if msg.RetryCount > 0 {
		req.Header.Set("X-Webhook-Retry-Count", strconv.Itoa(msg.RetryCount))
	}
	for key, value := range msg.Headers {
		req.Header.Set(key, value)
	}
	for key, value := range extraHeaders {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	duration := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("url", msg.TargetURL).
			Str("message_id", msg.ID.String()).
			Dur("duration", duration).
			Msg("Webhook request failed")

		return &SendResult{
			Success:  false,
			Error:    fmt.Errorf("request failed: %w", err),
			Duration: duration,
		}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, int64(s.maxResponseLen)))
	if err != nil {
		bodyBytes = []byte(fmt.Sprintf("failed to read response: %v", err))
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	log.Info().
		Str("url", msg.TargetURL).
		Str("message_id", msg.ID.String()).
		Int("status_code", resp.StatusCode).
		Bool("success", success).
		Dur("duration", duration).
		Msg("Webhook delivery attempt completed")

	result := &SendResult{
		StatusCode:      resp.StatusCode,
		ResponseBody:    string(bodyBytes),
		ResponseHeaders: truncateHeaders(resp.Header, 16),
		Duration:        duration,
		Success:         success,
	}

	if !success {
		result.Error = fmt.Errorf("non-2xx status code: %d", resp.StatusCode)
	}

	return result
}

// truncateHeaders flattens response headers to a bounded map
func truncateHeaders(h http.Header, max int) map[string]string {
	out := make(map[string]string, max)
	for key, values := range h {
		if len(out) >= max {
			break
		}
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}

// validateURL validates the target URL scheme and destination
func (s *Sender) validateURL(url string) error {
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return fmt.Errorf("invalid URL scheme: must be http or https")
	}

	if !s.allowInsecure && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("HTTPS required for webhook URLs")
	}

	if s.isPrivateURL(url) {
		return fmt.Errorf("webhook URLs to private networks are not allowed")
	}

	return nil
}

// isPrivateURL checks if the URL points to a private/internal network
func (s *Sender) isPrivateURL(url string) bool {
	host := strings.TrimPrefix(url, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.Split(host, "/")[0]
	host = strings.Split(host, ":")[0]

	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return !s.allowInsecure // Allow in development mode
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// It's a hostname, we'll let it through (DNS validation happens on connection)
		return false
	}

	privateRanges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16", // Link-local
		"fc00::/7",       // IPv6 private
		"fe80::/10",      // IPv6 link-local
	}

	for _, cidr := range privateRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return !s.allowInsecure
		}
	}

	return false
}

// Close releases idle connections held by the client
func (s *Sender) Close() {
	s.client.CloseIdleConnections()
}

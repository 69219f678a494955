package crawl

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPWebhookSender POSTs crawl lifecycle events to the caller-supplied
// webhook URL as JSON. It reuses fasthttp (already in the dependency
// tree via gofiber/fiber) rather than net/http, matching the rest of
// the HTTP surface.
type HTTPWebhookSender struct {
	client  *fasthttp.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewHTTPWebhookSender(timeout time.Duration, logger *slog.Logger) *HTTPWebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPWebhookSender{client: &fasthttp.Client{}, timeout: timeout, logger: logger}
}

type webhookBody struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

func (s *HTTPWebhookSender) Send(ctx context.Context, url string, event string, payload any) {
	if url == "" {
		return
	}
	body, err := json.Marshal(webhookBody{Event: event, Payload: payload})
	if err != nil {
		s.logger.Error("webhook: marshal failed", "event", event, "error", err)
		return
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := s.client.DoTimeout(req, resp, s.timeout); err != nil {
		s.logger.Error("webhook: delivery failed", "url", url, "event", event, "error", err)
		return
	}
	if resp.StatusCode() >= 400 {
		s.logger.Warn("webhook: non-2xx response", "url", url, "event", event, "status", resp.StatusCode())
	}
}

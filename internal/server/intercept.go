package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/britannia/offline-hub/internal/cache"
	"github.com/britannia/offline-hub/internal/config"
	"github.com/britannia/offline-hub/internal/logging"
	"github.com/britannia/offline-hub/internal/strategy"
	"github.com/britannia/offline-hub/internal/upstream"
)

const (
	HeaderStrategy = "X-Offline-Hub-Strategy"
	HeaderSource   = "X-Offline-Hub-Source"
)

type interceptHandler struct {
	cfg         *config.Config
	origin      *url.URL
	interceptor Interceptor
	passthrough upstream.Fetcher
	logger      *logrus.Logger
}

func newInterceptHandler(opts AppOptions) *interceptHandler {
	return &interceptHandler{
		cfg:         opts.Config,
		origin:      opts.Config.OriginURL(),
		interceptor: opts.Interceptor,
		passthrough: opts.Passthrough,
		logger:      opts.Logger,
	}
}

func (h *interceptHandler) handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := h.buildUpstreamRequest(ctx, c)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "intercept",
			"request_id": requestID,
		}).WithError(err).Warn("request_invalid")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	outcome := h.interceptor.Handle(ctx, req)
	if !outcome.Intercepted {
		return h.forward(c, ctx, req, string(outcome.Category), requestID, started)
	}

	result := outcome.Result
	c.Set(HeaderStrategy, string(outcome.Category))
	c.Set(HeaderSource, string(result.Source))
	if err := writeResponse(c, result.Response); err != nil {
		return err
	}

	fields := logging.RequestFields(req.Method, req.URL.String(), string(outcome.Category), string(result.Source), fromCache(result.Source))
	fields["action"] = "intercept"
	fields["status"] = result.Response.StatusCode
	fields["stale"] = result.Stale
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithFields(fields).Info("intercept_complete")
	return nil
}

// forward 透传未拦截的请求，不读写缓存。
func (h *interceptHandler) forward(c fiber.Ctx, ctx context.Context, req *http.Request, category, requestID string, started time.Time) error {
	fields := logging.RequestFields(req.Method, req.URL.String(), category, "passthrough", false)
	fields["action"] = "passthrough"
	if requestID != "" {
		fields["request_id"] = requestID
	}

	resp, err := h.passthrough.Fetch(ctx, req)
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("passthrough_failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	fields["status"] = resp.StatusCode
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	h.logger.WithFields(fields).Info("passthrough_complete")
	return writeResponse(c, resp)
}

func fromCache(source strategy.Source) bool {
	switch source {
	case strategy.SourceCache, strategy.SourceFallback, strategy.SourceOfflineShell:
		return true
	}
	return false
}

// buildUpstreamRequest 将 Fiber 请求转换为指向源站的 *http.Request。
// reverse 模式把路径映射到 Origin；forward 模式使用请求自带的绝对地址。
func (h *interceptHandler) buildUpstreamRequest(ctx context.Context, c fiber.Ctx) (*http.Request, error) {
	target, err := h.resolveTarget(c)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}

	upstream.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	// 交给 Transport 透明解压，缓存中保存原始字节。
	req.Header.Del("Accept-Encoding")
	req.Header.Del("Host")
	req.Host = target.Host
	if h.cfg.Global.Mode == config.ModeReverse {
		req.Header.Set("X-Forwarded-Host", c.Hostname())
		req.Header.Set("X-Forwarded-Proto", c.Protocol())
	}
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	return req, nil
}

func (h *interceptHandler) resolveTarget(c fiber.Ctx) (*url.URL, error) {
	uri := c.Request().URI()
	if h.cfg.Global.Mode == config.ModeForward {
		parsed, err := url.Parse(string(uri.FullURI()))
		if err != nil {
			return nil, err
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("forward request without host: %s", parsed)
		}
		return parsed, nil
	}

	rawPath := string(uri.Path())
	if !strings.HasPrefix(rawPath, "/") {
		rawPath = "/" + rawPath
	}
	relative := &url.URL{Path: rawPath}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	return h.origin.ResolveReference(relative), nil
}

// writeResponse 写回状态码、头部与正文；多值头逐个追加。
func writeResponse(c fiber.Ctx, resp *cache.Response) error {
	for key, values := range resp.Header {
		if upstream.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
	return c.Status(resp.StatusCode).Send(resp.Body)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

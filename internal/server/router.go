package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/britannia/offline-hub/internal/config"
	"github.com/britannia/offline-hub/internal/lifecycle"
	"github.com/britannia/offline-hub/internal/upstream"
)

// Interceptor decides whether the hub answers a request itself. It allows
// injecting fake controllers during tests.
type Interceptor interface {
	Handle(ctx context.Context, req *http.Request) lifecycle.Outcome
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(ctx context.Context, req *http.Request) lifecycle.Outcome

// Handle makes InterceptorFunc satisfy Interceptor.
func (f InterceptorFunc) Handle(ctx context.Context, req *http.Request) lifecycle.Outcome {
	return f(ctx, req)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger      *logrus.Logger
	Config      *config.Config
	Interceptor Interceptor
	// Passthrough 负责未被拦截的请求（非 GET、跨源、激活前）。
	Passthrough upstream.Fetcher
}

const contextKeyRequestID = "_offlinehub_request_id"

// NewApp builds a Fiber application with request-ID middleware and the
// interception route.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Interceptor == nil {
		return nil, errors.New("interceptor is required")
	}
	if opts.Passthrough == nil {
		return nil, errors.New("passthrough fetcher is required")
	}
	if opts.Config.OriginURL() == nil {
		return nil, fmt.Errorf("invalid origin: %s", opts.Config.Global.Origin)
	}

	// 构造的 *http.Request 会被后台刷新持有，Ctx 取值必须拷贝而非引用复用缓冲区。
	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		Immutable:     true,
		BodyLimit:     64 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	h := newInterceptHandler(opts)
	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return h.handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

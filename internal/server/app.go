package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/garrix/Calamari/internal/download"
	"github.com/garrix/Calamari/internal/feed"
)

// Downloader 是 HTTP 层依赖的唯一业务接口，便于测试注入假实现。
type Downloader interface {
	Download(ctx context.Context, req download.Request) (download.Result, error)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Downloader Downloader
	Feeds      *feed.Registry
	ListenPort int
}

const contextKeyRequestID = "_calamari_request_id"

// NewApp builds a Fiber application with request-ID middleware and the
// download/diagnostics routes attached.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Downloader == nil {
		return nil, errors.New("downloader is required")
	}
	if opts.Feeds == nil {
		return nil, errors.New("feed registry is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Post("/packages/download", downloadHandler(opts))

	return app, nil
}

// requestIDMiddleware 为每个请求生成 uuid 并回写响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// downloadHandler 解析 JSON 请求体、执行下载并按错误类别映射状态码：
// 参数错误 400、远端无此构件 404、下载失败 502。
func downloadHandler(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		requestID := RequestID(c)

		var req download.Request
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid_request_body")
		}

		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		result, err := opts.Downloader.Download(ctx, req)
		logResult(opts.Logger, req, requestID, started, err)
		if err != nil {
			var validationErr download.ValidationError
			switch {
			case errors.As(err, &validationErr):
				return writeError(c, fiber.StatusBadRequest, validationErr.Reason)
			case errors.Is(err, feed.ErrArtifactNotFound):
				return writeError(c, fiber.StatusNotFound, "artifact_not_found")
			default:
				return writeError(c, fiber.StatusBadGateway, "download_failed")
			}
		}

		return c.JSON(result)
	}
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func logResult(logger *logrus.Logger, req download.Request, requestID string, started time.Time, err error) {
	fields := logrus.Fields{
		"action":     "api_download",
		"feed":       req.FeedID,
		"package":    req.PackageID,
		"version":    req.Version,
		"force":      req.Force,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.WithFields(fields).Error("api_download_failed")
		return
	}
	logger.WithFields(fields).Info("api_download_complete")
}

package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/garrix/Calamari/internal/feed"
	"github.com/garrix/Calamari/internal/version"
)

// RegisterDiagnostics 暴露 /-/ 前缀的诊断接口，供运维确认服务与 feed 配置。
func RegisterDiagnostics(app *fiber.App, feeds *feed.Registry) {
	if app == nil || feeds == nil {
		return
	}

	app.Get("/-/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	app.Get("/-/feeds", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"feeds": encodeFeeds(feeds.List()),
		})
	})
}

type feedPayload struct {
	Name     string `json:"name"`
	Uri      string `json:"uri"`
	AuthMode string `json:"auth_mode"`
}

func encodeFeeds(locations []feed.Location) []feedPayload {
	if len(locations) == 0 {
		return nil
	}
	result := make([]feedPayload, 0, len(locations))
	for _, loc := range locations {
		result = append(result, feedPayload{
			Name:     loc.Name,
			Uri:      loc.BaseURL.String(),
			AuthMode: loc.AuthMode(),
		})
	}
	return result
}

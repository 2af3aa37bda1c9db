package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/cacher/internal/fetcher"
	"github.com/any-hub/cacher/internal/inflight"
	"github.com/any-hub/cacher/internal/metrics"
	"github.com/any-hub/cacher/internal/version"
)

// RegisterDiagnosticsRoutes 暴露 /-/fetches 与 /-/metrics 诊断接口，供 SRE 查看在途请求与指标。
func RegisterDiagnosticsRoutes(app *fiber.App, coord *fetcher.Coordinator, m *metrics.Metrics) {
	if app == nil || coord == nil {
		return
	}

	app.Get("/-/fetches", func(c fiber.Ctx) error {
		fetches := coord.InFlight()
		if fetches == nil {
			fetches = []inflight.Info{}
		}
		return c.JSON(fiber.Map{
			"fetches": fetches,
			"count":   len(fetches),
		})
	})

	app.Get("/-/version", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version": version.Version,
			"commit":  version.Commit,
		})
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(m.Handler()))
}

package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/britannia/offline-hub/internal/config"
	"github.com/britannia/offline-hub/internal/lifecycle"
	"github.com/britannia/offline-hub/internal/version"
)

// RegisterDiagnosticsRoutes 暴露 /-/status 与 /-/namespaces，便于排查激活状态与缓存分区。
func RegisterDiagnosticsRoutes(app *fiber.App, cfg *config.Config, ctrl *lifecycle.Controller) {
	if app == nil || cfg == nil || ctrl == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := statusPayload{
			Version:       version.Full(),
			Mode:          cfg.Global.Mode,
			Origin:        cfg.Global.Origin,
			Backend:       cfg.Global.StorageBackend,
			Claimed:       ctrl.Claimed(),
			PendingTasks:  ctrl.PendingTasks(),
			ActiveCaches:  ctrl.Registry().ActiveNames(),
			MaxModelAge:   cfg.Cache.MaxModelAge.DurationValue().String(),
			ModelSegment:  cfg.Cache.ModelPathSegment,
			ShellManifest: cfg.Cache.ShellAssets,
		}
		if activated := ctrl.ActivatedAt(); !activated.IsZero() {
			payload.ActivatedAt = activated.UTC().Format(time.RFC3339)
		}
		return c.JSON(payload)
	})

	app.Get("/-/namespaces", func(c fiber.Ctx) error {
		names, err := ctrl.Registry().Existing(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "namespace_list_failed"})
		}
		active := make(map[string]struct{})
		for _, name := range ctrl.Registry().ActiveNames() {
			active[name] = struct{}{}
		}
		result := make([]namespacePayload, 0, len(names))
		for _, name := range names {
			_, ok := active[name]
			result = append(result, namespacePayload{Name: name, Active: ok})
		}
		return c.JSON(fiber.Map{"namespaces": result})
	})
}

type statusPayload struct {
	Version       string   `json:"version"`
	Mode          string   `json:"mode"`
	Origin        string   `json:"origin"`
	Backend       string   `json:"backend"`
	Claimed       bool     `json:"claimed"`
	ActivatedAt   string   `json:"activated_at,omitempty"`
	PendingTasks  int64    `json:"pending_tasks"`
	ActiveCaches  []string `json:"active_namespaces"`
	MaxModelAge   string   `json:"max_model_age"`
	ModelSegment  string   `json:"model_path_segment"`
	ShellManifest []string `json:"shell_assets"`
}

type namespacePayload struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

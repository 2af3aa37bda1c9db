package routes

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/cacher/internal/cache"
	"github.com/any-hub/cacher/internal/cachekey"
	"github.com/any-hub/cacher/internal/fetcher"
	"github.com/any-hub/cacher/internal/inflight"
	"github.com/any-hub/cacher/internal/server"
)

// SourceHeader reports which tier (or the network) served a fetch.
const SourceHeader = "X-Cacher-Source"

// CacheDeps 汇总缓存路由依赖，由 main 注入。
type CacheDeps struct {
	Coordinator *fetcher.Coordinator
	DefaultTier cache.Tier
	Logger      *logrus.Logger
}

// RegisterCacheRoutes 暴露抓取、取消与条目读写接口。
func RegisterCacheRoutes(app *fiber.App, deps CacheDeps) {
	if app == nil || deps.Coordinator == nil {
		return
	}
	h := &cacheHandler{deps: deps}

	app.Get("/-/fetch", h.fetch)
	app.Post("/-/fetches", h.startFetch)
	app.Delete("/-/fetches/:token", h.cancelFetch)
	app.Put("/-/entries", h.putEntry)
	app.Get("/-/entries", h.getEntry)
	app.Delete("/-/entries", h.removeAll)
}

type cacheHandler struct {
	deps CacheDeps
}

// fetch 同步等待结果并直接返回字节。
func (h *cacheHandler) fetch(c fiber.Ctx) error {
	tier, rawURL, ok, err := h.fetchParams(c)
	if !ok {
		return err
	}

	ctx := requestContext(c)
	call := h.deps.Coordinator.Fetch(ctx, tier, rawURL)
	res, err := call.Wait(ctx)
	if err != nil {
		// 客户端已断开，共享的网络请求继续运行。
		return server.RenderError(c, fiber.StatusRequestTimeout, "request_aborted")
	}
	if !res.Found() {
		return renderAbsent(c, res.Err)
	}

	c.Set(SourceHeader, res.Source.String())
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Status(fiber.StatusOK).Send(res.Data)
}

// startFetch 启动抓取但不等待网络结果，返回可用于取消的 token。
func (h *cacheHandler) startFetch(c fiber.Ctx) error {
	tier, rawURL, ok, err := h.fetchParams(c)
	if !ok {
		return err
	}

	call := h.deps.Coordinator.Fetch(requestContext(c), tier, rawURL)
	if token, pending := call.Token(); pending {
		key, _ := cachekey.Derive(rawURL)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"token": string(token),
			"key":   key,
		})
	}

	res := call.Result()
	if !res.Found() {
		return renderAbsent(c, res.Err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"source": res.Source.String(),
		"bytes":  len(res.Data),
	})
}

func (h *cacheHandler) cancelFetch(c fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	if token == "" || !h.deps.Coordinator.Cancel(inflight.Token(token)) {
		return server.RenderError(c, fiber.StatusNotFound, "unknown_token")
	}
	return c.JSON(fiber.Map{"cancelled": true})
}

// putEntry 以 key 或 url 为索引写入请求体，二者必须且只能提供一个。
func (h *cacheHandler) putEntry(c fiber.Ctx) error {
	tier, ok := h.tierParam(c)
	if !ok {
		return server.RenderError(c, fiber.StatusBadRequest, "invalid_tier")
	}
	key := strings.TrimSpace(c.Query("key"))
	rawURL := strings.TrimSpace(c.Query("url"))
	if (key == "") == (rawURL == "") {
		return server.RenderError(c, fiber.StatusBadRequest, "key_or_url_required")
	}

	// 请求体缓冲区会被 fasthttp 复用，写入前先复制。
	body := bytes.Clone(c.Body())
	if body == nil {
		body = []byte{}
	}

	ctx := requestContext(c)
	var err error
	if key != "" {
		err = h.deps.Coordinator.Store(ctx, tier, key, body)
	} else {
		err = h.deps.Coordinator.StoreURL(ctx, tier, rawURL, body)
	}
	switch {
	case err == nil:
		return c.SendStatus(fiber.StatusNoContent)
	case errors.Is(err, cachekey.ErrInvalidKey), errors.Is(err, cachekey.ErrKeyTooLong):
		return server.RenderError(c, fiber.StatusBadRequest, "invalid_key")
	case errors.Is(err, cachekey.ErrMalformedURL):
		return server.RenderError(c, fiber.StatusBadRequest, "malformed_url")
	case errors.Is(err, fetcher.ErrTierUnavailable):
		return server.RenderError(c, fiber.StatusServiceUnavailable, "tier_unavailable")
	default:
		h.logError(c, "store_entry", err)
		return server.RenderError(c, fiber.StatusInternalServerError, "store_failed")
	}
}

func (h *cacheHandler) getEntry(c fiber.Ctx) error {
	tier, ok := h.tierParam(c)
	if !ok {
		return server.RenderError(c, fiber.StatusBadRequest, "invalid_tier")
	}
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		return server.RenderError(c, fiber.StatusBadRequest, "key_required")
	}

	data, found := h.deps.Coordinator.Retrieve(requestContext(c), tier, key)
	if !found {
		return server.RenderError(c, fiber.StatusNotFound, "not_found")
	}
	c.Set(SourceHeader, tier.String())
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Status(fiber.StatusOK).Send(data)
}

func (h *cacheHandler) removeAll(c fiber.Ctx) error {
	if err := h.deps.Coordinator.RemoveAll(requestContext(c)); err != nil {
		h.logError(c, "remove_all", err)
		return server.RenderError(c, fiber.StatusInternalServerError, "remove_all_failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// fetchParams 解析 url 与 tier；ok=false 时错误响应已写出。
func (h *cacheHandler) fetchParams(c fiber.Ctx) (cache.Tier, string, bool, error) {
	tier, ok := h.tierParam(c)
	if !ok {
		return 0, "", false, server.RenderError(c, fiber.StatusBadRequest, "invalid_tier")
	}
	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		return 0, "", false, server.RenderError(c, fiber.StatusBadRequest, "url_required")
	}
	return tier, rawURL, true, nil
}

// tierParam 缺省时回落到配置的 DefaultTier，非法值返回 false。
func (h *cacheHandler) tierParam(c fiber.Ctx) (cache.Tier, bool) {
	raw := strings.TrimSpace(c.Query("tier"))
	if raw == "" {
		return h.deps.DefaultTier, true
	}
	tier, err := cache.ParseTier(raw)
	if err != nil {
		return 0, false
	}
	return tier, true
}

func (h *cacheHandler) logError(c fiber.Ctx, action string, err error) {
	if h.deps.Logger == nil {
		return
	}
	h.deps.Logger.WithFields(logrus.Fields{
		"action":     action,
		"request_id": server.RequestID(c),
	}).WithError(err).Error("request_failed")
}

// renderAbsent 把“没有数据”统一映射为 404，并保留原因便于排查。
func renderAbsent(c fiber.Ctx, reason error) error {
	payload := fiber.Map{"error": "not_found"}
	switch {
	case reason == nil:
	case errors.Is(reason, cachekey.ErrMalformedURL):
		return server.RenderError(c, fiber.StatusBadRequest, "malformed_url")
	case errors.Is(reason, inflight.ErrCancelled):
		payload["reason"] = "cancelled"
	case errors.Is(reason, fetcher.ErrTierDisabled):
		payload["reason"] = "tier_none"
	case errors.Is(reason, fetcher.ErrTierUnavailable):
		payload["reason"] = "tier_unavailable"
	default:
		payload["reason"] = "upstream_failed"
	}
	return c.Status(fiber.StatusNotFound).JSON(payload)
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

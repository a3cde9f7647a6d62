package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"speechkit-bot/config"
	"speechkit-bot/internal/account"
	"speechkit-bot/internal/quota"
	"speechkit-bot/internal/router"

	"github.com/gin-gonic/gin"
)

// Handler handles management API requests
type Handler struct {
	accounts *account.Manager
	meter    *quota.Meter
	calc     *quota.Calculator
	tracker  *quota.Tracker
	counter  *quota.TokenCounter
	router   *router.Router
	cfg      *config.Config
	log      *slog.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	accounts *account.Manager,
	meter *quota.Meter,
	calc *quota.Calculator,
	tracker *quota.Tracker,
	counter *quota.TokenCounter,
	rt *router.Router,
	cfg *config.Config,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		accounts: accounts,
		meter:    meter,
		calc:     calc,
		tracker:  tracker,
		counter:  counter,
		router:   rt,
		cfg:      cfg,
		log:      log.With("component", "api"),
	}
}

// RegisterRoutes mounts /health and the authenticated /api group
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)

	api := r.Group("/api", AdminAuth([]byte(h.cfg.Admin.JWTSecret), h.cfg.IsAdmin))
	api.GET("/users", h.ListUsers)
	api.GET("/users/:id", h.GetUser)
	api.DELETE("/users/:id", h.DeleteUser)
	api.PUT("/users/:id/ban", h.SetBan)
	api.PUT("/users/:id/quota", h.SetQuota)
	api.GET("/users/:id/usage", h.GetUsage)
	api.POST("/debts/recompute", h.RecomputeDebts)
	api.GET("/stats", h.GetStats)
	api.GET("/stats/users", h.GetUserStats)
	api.GET("/logs", h.GetRecentLogs)
	api.GET("/voices", h.GetVoices)
	api.GET("/tokens", h.GetTokens)
	api.GET("/routes", h.GetRoutes)
	api.PUT("/routes", h.UpdateRoutes)
	api.DELETE("/routes/:pattern", h.DeleteRoute)
	api.GET("/dashboard", h.Dashboard)
	api.GET("/config", h.GetConfig)
}

func (h *Handler) internalError(c *gin.Context, err error) {
	h.log.ErrorContext(c.Request.Context(), "admin request failed", "path", c.FullPath(), "error", err)
	c.JSON(500, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// ListUsers returns all accounts
func (h *Handler) ListUsers(c *gin.Context) {
	accounts, err := h.accounts.List(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	if accounts == nil {
		accounts = []account.Account{}
	}
	c.JSON(200, accounts)
}

// GetUser returns an account by chat user id
func (h *Handler) GetUser(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	acc, err := h.accounts.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(404, gin.H{"error": "user not found"})
			return
		}
		h.internalError(c, err)
		return
	}

	c.JSON(200, acc)
}

// DeleteUser deletes an account
func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.accounts.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(404, gin.H{"error": "user not found"})
			return
		}
		h.internalError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type banRequest struct {
	Banned *bool `json:"banned" binding:"required"`
}

// SetBan sets or lifts the ban of an account
func (h *Handler) SetBan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	if err := h.accounts.SetBanned(c.Request.Context(), id, *req.Banned); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(404, gin.H{"error": "user not found"})
			return
		}
		h.internalError(c, err)
		return
	}

	h.log.InfoContext(c.Request.Context(), "ban changed", "user_id", id, "banned", *req.Banned, "admin_id", c.GetInt64(adminIDKey))
	c.JSON(200, gin.H{"user_id": id, "banned": *req.Banned})
}

type quotaRequest struct {
	Kind      string `json:"kind" binding:"required"`
	Remaining *int64 `json:"remaining" binding:"required"`
}

// SetQuota overwrites the remaining balance of one pool
func (h *Handler) SetQuota(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req quotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	kind, err := account.ParseKind(req.Kind)
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	if *req.Remaining < 0 {
		c.JSON(400, gin.H{"error": "remaining must not be negative"})
		return
	}
	field, _ := account.FieldFor(kind)

	unlock := h.accounts.Lock(id)
	err = h.accounts.SetField(c.Request.Context(), id, field, *req.Remaining)
	unlock()
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(404, gin.H{"error": "user not found"})
			return
		}
		h.internalError(c, err)
		return
	}

	h.log.InfoContext(c.Request.Context(), "quota set", "user_id", id, "kind", kind, "remaining", *req.Remaining, "admin_id", c.GetInt64(adminIDKey))
	c.JSON(200, gin.H{"user_id": id, "kind": kind, "remaining": *req.Remaining})
}

// GetUsage returns consumption and cost per pool
func (h *Handler) GetUsage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	usage, err := h.meter.Usage(ctx, id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(404, gin.H{"error": "user not found"})
			return
		}
		h.internalError(c, err)
		return
	}
	costs, err := h.calc.Costs(ctx, id)
	if err != nil {
		h.internalError(c, err)
		return
	}

	var total float64
	for _, v := range costs {
		total += v
	}
	c.JSON(200, gin.H{
		"user_id":    id,
		"consumed":   usage,
		"cost":       costs,
		"total_cost": total,
	})
}

// RecomputeDebts writes the current cost of every user into its debt
func (h *Handler) RecomputeDebts(c *gin.Context) {
	n, err := h.calc.RecomputeAllDebts(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(200, gin.H{"updated": n})
}

// GetStats returns usage statistics
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.tracker.GetStats(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(200, stats)
}

// GetUserStats returns per-user statistics
func (h *Handler) GetUserStats(c *gin.Context) {
	stats, err := h.tracker.GetUserStats(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(200, stats)
}

// GetRecentLogs returns recent request logs
func (h *Handler) GetRecentLogs(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	logs, err := h.tracker.GetRecentRequests(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(200, logs)
}

// GetVoices returns the voice catalog
func (h *Handler) GetVoices(c *gin.Context) {
	catalog := h.accounts.Catalog()
	voices := make(map[string][]string)
	for _, v := range catalog.Voices() {
		voices[v] = catalog.Emotions(v)
	}
	c.JSON(200, voices)
}

// GetTokens returns the cumulative chat token counter
func (h *Handler) GetTokens(c *gin.Context) {
	total, err := h.counter.Get()
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(200, gin.H{"tokens_count": total})
}

// GetRoutes returns model routes
func (h *Handler) GetRoutes(c *gin.Context) {
	c.JSON(200, h.router.GetRoutes())
}

// UpdateRoutes replaces the model routes
func (h *Handler) UpdateRoutes(c *gin.Context) {
	var routes map[string]string
	if err := c.ShouldBindJSON(&routes); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	h.router.SetRoutes(routes)
	h.log.InfoContext(c.Request.Context(), "routes replaced", "routes", len(routes), "admin_id", c.GetInt64(adminIDKey))

	c.JSON(200, routes)
}

// DeleteRoute removes one model route
func (h *Handler) DeleteRoute(c *gin.Context) {
	pattern := c.Param("pattern")
	if !h.router.RemoveRoute(pattern) {
		c.JSON(404, gin.H{"error": "route not found"})
		return
	}
	h.log.InfoContext(c.Request.Context(), "route removed", "pattern", pattern, "admin_id", c.GetInt64(adminIDKey))
	c.Status(http.StatusNoContent)
}

// Dashboard returns dashboard data
func (h *Handler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	accounts, _ := h.accounts.List(ctx)
	stats, _ := h.tracker.GetStats(ctx)
	tokens, _ := h.counter.Get()

	banned := 0
	var debt float64
	for _, acc := range accounts {
		if acc.Banned {
			banned++
		}
		debt += acc.Debt
	}

	c.JSON(200, gin.H{
		"users": gin.H{
			"total":     len(accounts),
			"banned":    banned,
			"max_users": h.cfg.Limits.MaxUsers,
		},
		"stats":        stats,
		"tokens_count": tokens,
		"total_debt":   debt,
	})
}

// GetConfig returns the running configuration with the signing secret masked.
// The config is read-only after startup; live routes come from the router.
func (h *Handler) GetConfig(c *gin.Context) {
	masked := *h.cfg
	if masked.Admin.JWTSecret != "" {
		masked.Admin.JWTSecret = "********"
	}

	routes := h.router.GetRoutes()
	masked.Chat.Routes = make([]config.RouteConfig, 0, len(routes))
	for pattern, target := range routes {
		masked.Chat.Routes = append(masked.Chat.Routes, config.RouteConfig{Pattern: pattern, Target: target})
	}
	sort.Slice(masked.Chat.Routes, func(i, j int) bool {
		return masked.Chat.Routes[i].Pattern < masked.Chat.Routes[j].Pattern
	})
	c.JSON(200, masked)
}

// Health returns health status
func (h *Handler) Health(c *gin.Context) {
	ids, err := h.accounts.UserIDs(c.Request.Context())
	if err != nil {
		c.JSON(503, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	status := "healthy"
	if len(ids) >= h.cfg.Limits.MaxUsers {
		status = "full"
	}

	c.JSON(200, gin.H{
		"status":    status,
		"users":     len(ids),
		"max_users": h.cfg.Limits.MaxUsers,
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/middlewares"
	"bitbucket.org/mmdatafocus/procure_backend/models"
	"bitbucket.org/mmdatafocus/procure_backend/models/reports"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
	"bitbucket.org/mmdatafocus/procure_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("procure-backend")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// statusForError maps the workflow error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	var validationErr *utils.ValidationError
	var notFoundErr *utils.NotFoundError
	var conflictErr *utils.ConflictError
	var businessErr *utils.BusinessRuleError
	var unauthorizedErr *utils.UnauthorizedError
	var configNotFoundErr *utils.ConfigNotFoundError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &notFoundErr), errors.As(err, &configNotFoundErr), errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflictErr):
		return http.StatusConflict
	case errors.As(err, &businessErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unauthorizedErr):
		return http.StatusForbidden
	}
	return http.StatusBadRequest
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

type signinRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func signinHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		token, user, err := models.Signin(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
	}
}

func createVendorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewVendor
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		vendor, err := models.CreateVendor(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, vendor)
	}
}

func listVendorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		activeOnly := strings.EqualFold(c.Query("active"), "true")
		vendors, err := models.GetVendors(c.Request.Context(), activeOnly)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, vendors)
	}
}

func createItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewItem
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		item, err := models.CreateItem(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

func createPurchaseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewPurchaseOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		purchaseOrder, err := models.CreatePurchaseOrder(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, purchaseOrder)
	}
}

func createInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewInvoice
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		invoice, err := models.CreateInvoice(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, invoice)
	}
}

func getInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		invoice, err := models.GetInvoice(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

type updateInvoiceStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func updateInvoiceStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		var req updateInvoiceStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := models.ParseInvoiceStatus(req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		invoice, err := models.UpdateInvoiceStatus(c.Request.Context(), id, status)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func createDeliveryNoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		invoiceId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		var input models.NewDeliveryNote
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		input.InvoiceId = invoiceId
		note, err := models.CreateDeliveryNote(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, note)
	}
}

func validateInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "ValidateInvoice")
		summary, err := workflow.ValidateInvoice(ctx, id)
		span.End()
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func validationSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		summary, err := workflow.GetValidationSummary(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func listInvoiceValidationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		validations, err := models.GetInvoiceValidations(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, validations)
	}
}

type overrideRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func overrideValidationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		validationId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid validation id"})
			return
		}
		userId, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req overrideRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		validation, err := workflow.OverrideValidation(c.Request.Context(), validationId, userId, req.Reason)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, validation)
	}
}

type reviewRequest struct {
	Action string `json:"action" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

func reviewValidationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		validationId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid validation id"})
			return
		}
		userId, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req reviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		action, err := models.ParseReviewAction(req.Action)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		validation, err := workflow.ReviewValidation(c.Request.Context(), validationId, userId, action, req.Reason)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, validation)
	}
}

func listRuleConfigsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		configs, err := workflow.GetValidationConfigService().GetAllRuleConfigs(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"rules":    configs,
			"warnings": workflow.GetValidationConfigService().Warnings(),
		})
	}
}

func upsertRuleConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.UpsertRuleConfigInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		saved, err := models.UpsertValidationRuleConfig(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		// The DB baseline changed; drop the merged snapshot so the new values
		// take effect before the TTL lapses.
		workflow.GetValidationConfigService().InvalidateCache()
		c.JSON(http.StatusOK, saved)
	}
}

func ruleConfigCacheStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, workflow.GetValidationConfigService().Stats())
	}
}

func invalidateRuleConfigCacheHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		workflow.GetValidationConfigService().InvalidateCache()
		c.Status(http.StatusNoContent)
	}
}

func flaggedInvoiceReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=flagged-invoices.xlsx")
		if err := reports.WriteFlaggedInvoiceReport(c.Request.Context(), c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id"`
}

func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.RecordId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id is required"})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}
		now := time.Now().UTC()
		if err := db.WithContext(c.Request.Context()).
			Model(&models.OutboxMessageRecord{}).
			Where("id = ?", req.RecordId).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusFailed,
				"next_attempt_at":    &now,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			}).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"record_id":       req.RecordId,
			"publish_status":  models.OutboxPublishStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(middlewares.CorrelationIdMiddleware())
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/login", signinHandler())

	authed := r.Group("", middlewares.RequireAuth())
	authed.POST("/vendors", createVendorHandler())
	authed.GET("/vendors", listVendorsHandler())
	authed.POST("/items", createItemHandler())
	authed.POST("/purchase-orders", createPurchaseOrderHandler())
	authed.POST("/invoices", createInvoiceHandler())
	authed.GET("/invoices/:id", getInvoiceHandler())
	authed.POST("/invoices/:id/status", updateInvoiceStatusHandler())
	authed.POST("/invoices/:id/delivery-notes", createDeliveryNoteHandler())
	authed.POST("/invoices/:id/validate", validateInvoiceHandler())
	authed.GET("/invoices/:id/validation-summary", validationSummaryHandler())
	authed.GET("/invoices/:id/validations", listInvoiceValidationsHandler())
	authed.POST("/validations/:id/override", overrideValidationHandler())
	authed.POST("/validations/:id/review", reviewValidationHandler())

	managers := authed.Group("", middlewares.RequireRole(models.UserRoleManager, models.UserRoleAdmin))
	managers.GET("/reports/flagged-invoices", flaggedInvoiceReportHandler())

	admin := authed.Group("", middlewares.RequireRole(models.UserRoleAdmin))
	admin.GET("/validation-rules", listRuleConfigsHandler())
	admin.PUT("/validation-rules", upsertRuleConfigHandler())
	admin.GET("/validation-rules/cache-stats", ruleConfigCacheStatsHandler())
	admin.POST("/validation-rules/cache-invalidate", invalidateRuleConfigCacheHandler())
	// Ops tooling (admin only): replay outbox messages that were marked DEAD/FAILED.
	admin.POST("/internal/ops/outbox/replay", outboxReplayHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Warm the merged rule config snapshot.
	workflow.InitValidationConfig()

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

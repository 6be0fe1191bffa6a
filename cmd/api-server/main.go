package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fintech/fraud-engine/configs"
	"github.com/fintech/fraud-engine/internal/cache"
	"github.com/fintech/fraud-engine/internal/events"
	"github.com/fintech/fraud-engine/internal/models"
	"github.com/fintech/fraud-engine/internal/repositories"
	"github.com/fintech/fraud-engine/internal/scoring"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()

	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting Fraud Engine API Server")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize schema")
	}

	// Initialize behavioral cache
	behaviorCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer behaviorCache.Close()

	// Flagged-event pipeline is optional
	var publisher scoring.Publisher = events.NoopPublisher{}
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Kafka")
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	store := repositories.NewPostgresStore(db)
	evaluator := scoring.NewEvaluator(store, behaviorCache, cfg.Scoring)
	service := scoring.NewService(store, behaviorCache, evaluator, publisher)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	// Rate limiting: 100 requests per minute per IP
	rateLimiter := NewRateLimiter(100, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	setupRoutes(router, service, db, behaviorCache)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(router *gin.Engine, service *scoring.Service, db *repositories.Database, behaviorCache *cache.RedisCache) {
	router.GET("/health", healthHandler(db, behaviorCache))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/transactions", submitTransactionHandler(service))
		v1.GET("/risk/:transaction_id", getRiskHandler(service))
		v1.GET("/flags", listFlaggedHandler(service))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter implements a simple in-memory rate limiter using token bucket algorithm
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	// Clean up old visitors periodically
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	now := time.Now()

	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastSeen: now}
		return true
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(v.lastSeen)
	refill := int(elapsed / (rl.window / time.Duration(rl.rate)))
	v.tokens += refill
	if v.tokens > rl.rate {
		v.tokens = rl.rate
	}
	v.lastSeen = now

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Handlers

// TransactionRequest represents an incoming transaction to evaluate
type TransactionRequest struct {
	TransactionID string                 `json:"transaction_id" binding:"required"`
	UserID        string                 `json:"user_id" binding:"required"`
	Amount        float64                `json:"amount" binding:"required,gt=0"`
	Currency      string                 `json:"currency"`
	MerchantID    string                 `json:"merchant_id" binding:"required"`
	Timestamp     *time.Time             `json:"timestamp"`
	LocationLat   *float64               `json:"location_lat" binding:"omitempty,min=-90,max=90"`
	LocationLng   *float64               `json:"location_lng" binding:"omitempty,min=-180,max=180"`
	DeviceID      *string                `json:"device_id"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// EvaluationResponse is the summary returned to the submitter
type EvaluationResponse struct {
	TransactionID string   `json:"transaction_id"`
	RiskScore     int      `json:"risk_score"`
	RiskReasons   []string `json:"risk_reasons"`
	Flagged       bool     `json:"flagged"`
}

func submitTransactionHandler(service *scoring.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Reject exactly one coordinate; both or neither
		if (req.LocationLat == nil) != (req.LocationLng == nil) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "location_lat and location_lng must be provided together"})
			return
		}

		tx := &models.TransactionInput{
			TransactionID: req.TransactionID,
			UserID:        req.UserID,
			Amount:        req.Amount,
			Currency:      req.Currency,
			MerchantID:    req.MerchantID,
			LocationLat:   req.LocationLat,
			LocationLng:   req.LocationLng,
			DeviceID:      req.DeviceID,
			Metadata:      models.JSONB(req.Metadata),
		}
		if tx.Currency == "" {
			tx.Currency = "INR"
		}
		if req.Timestamp != nil {
			tx.Timestamp = req.Timestamp.UTC()
		}

		result, replay, err := service.Submit(c.Request.Context(), tx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		status := http.StatusCreated
		if replay {
			status = http.StatusOK
		}

		c.JSON(status, EvaluationResponse{
			TransactionID: result.TransactionID,
			RiskScore:     result.Score,
			RiskReasons:   result.Reasons,
			Flagged:       result.Flagged,
		})
	}
}

func getRiskHandler(service *scoring.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		txID := c.Param("transaction_id")

		result, err := service.Result(c.Request.Context(), txID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if result == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"transaction_id": result.TransactionID,
			"user_id":        result.UserID,
			"risk_score":     result.Score,
			"risk_reasons":   result.Reasons,
			"flagged":        result.Flagged,
			"raw_evidence":   result.Evidence,
			"evaluated_at":   result.EvaluatedAt.Format(time.RFC3339),
		})
	}
}

func listFlaggedHandler(service *scoring.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		minScore := getIntParam(c, "min_score", scoring.DefaultFlagThreshold)
		limit := getIntParam(c, "limit", 50)
		if limit > 500 {
			limit = 500
		}

		flagged, err := service.Flagged(c.Request.Context(), minScore, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"flagged": flagged,
			"count":   len(flagged),
		})
	}
}

func healthHandler(db *repositories.Database, behaviorCache *cache.RedisCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		status := "healthy"
		httpStatus := http.StatusOK

		dbStatus := "up"
		if err := db.HealthCheck(ctx); err != nil {
			dbStatus = "down"
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}

		cacheStatus := "up"
		if err := behaviorCache.Ping(ctx); err != nil {
			// Evaluations fail open without the cache, so it only degrades
			cacheStatus = "down"
			if status == "healthy" {
				status = "degraded"
			}
		}

		c.JSON(httpStatus, gin.H{
			"status":    status,
			"database":  dbStatus,
			"cache":     cacheStatus,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// Helper functions

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil && result >= 0 {
			return result
		}
	}
	return defaultValue
}

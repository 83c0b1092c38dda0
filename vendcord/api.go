package vendcord

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiDefaultRecentOrders = 25
	apiMaxRecentOrders     = 100
)

// API is the optional read-only status server: health, stock counts, and
// recent orders, behind a bearer token. It never mutates storefront
// state.
type API struct {
	bot        *VendCord
	config     *APIConfig
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener
}

func newAPI(bot *VendCord, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, fmt.Errorf("nil api config")
	}
	logger := slog.New(
		tint.NewHandler(
			defaultLogWriter,
			&tint.Options{Level: config.LogLevel, AddSource: true},
		),
	).With(loggerNameKey, "api")

	api := &API{
		bot:    bot,
		config: config,
		logger: logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(config.CORS.GINConfig()))
	router.Use(api.requestLogger())

	router.GET("/health", api.getHealth)

	authorized := router.Group("/api", api.requireToken())
	authorized.GET("/stock", api.getStock)
	authorized.GET("/orders", api.getRecentOrders)

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           router,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return api, nil
}

// Serve listens on the configured network/address and serves until
// Shutdown or a listener error.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf(
			"error listening on %s/%s: %w",
			a.config.ListenNetwork,
			a.config.Listen,
			err,
		)
	}
	a.listener = listener
	a.logger.InfoContext(ctx, "api listening", "address", listener.Addr().String())
	return a.httpServer.Serve(listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

// requestLogger logs each request at the API's log level.
func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		a.logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
		)
	}
}

// requireToken enforces the configured bearer token on every request in
// the group.
func (a *API) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare(
			[]byte(token),
			[]byte(a.config.Token),
		) != 1 {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				gin.H{"error": "unauthorized"},
			)
			return
		}
		c.Next()
	}
}

func (a *API) getHealth(c *gin.Context) {
	status := gin.H{
		"version":             Version,
		"discord_connected":   a.bot.discord.connected.Load(),
		"gateway_connects":    a.bot.discord.metricConnects.Load(),
		"gateway_disconnects": a.bot.discord.metricDisconnects.Load(),
	}
	sqlDB, err := a.bot.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	status["database"] = err == nil
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (a *API) getStock(c *gin.Context) {
	counts, err := a.bot.store.StockCounts(c.Request.Context())
	if err != nil {
		a.logger.Error("error counting stock", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stock": counts})
}

func (a *API) getRecentOrders(c *gin.Context) {
	limit := apiDefaultRecentOrders
	if rawLimit := c.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 || parsed > apiMaxRecentOrders {
			c.JSON(
				http.StatusBadRequest,
				gin.H{
					"error": fmt.Sprintf(
						"limit must be 1-%d", apiMaxRecentOrders,
					),
				},
			)
			return
		}
		limit = parsed
	}

	orders, err := a.bot.store.RecentOrders(c.Request.Context(), limit)
	if err != nil {
		a.logger.Error("error listing orders", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

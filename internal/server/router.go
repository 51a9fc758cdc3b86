package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"omniclip/internal/auth"
	"omniclip/internal/handler"
	"omniclip/internal/hub"
	"omniclip/internal/metrics"
	"omniclip/internal/middleware"
)

type Deps struct {
	Service       handler.Service
	Hub           *hub.Hub
	TokenConfig   auth.TokenConfig
	ControlSecret string
	// AuthLimiter bounds POST /v1/auth per IP. Nil uses 10 per minute.
	AuthLimiter *middleware.RateLimiter
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	versionHandler := &handler.VersionHandler{Service: deps.Service}
	r.GET("/v1/version", versionHandler.Get)

	authLimiter := deps.AuthLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(10, time.Minute)
	}
	authHandler := &handler.AuthHandler{
		Secret:             deps.ControlSecret,
		TokenConfig:        deps.TokenConfig,
		AuthRequestLimiter: authLimiter,
	}
	r.POST("/v1/auth", authHandler.Auth)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))

	pairingHandler := &handler.PairingHandler{Service: deps.Service}
	pairingRoutes := protected.Group("/pairing", middleware.RequireScope(auth.ScopePairing))
	pairingRoutes.POST("", pairingHandler.Create)
	pairingRoutes.GET("/:id/qr.png", pairingHandler.QR)
	pairingRoutes.DELETE("/:id", pairingHandler.Cancel)
	pairingRoutes.POST("/join", pairingHandler.Join)

	deviceHandler := &handler.DeviceHandler{Service: deps.Service}
	deviceRoutes := protected.Group("", middleware.RequireScope(auth.ScopeDevices))
	deviceRoutes.GET("/devices", deviceHandler.List)
	deviceRoutes.DELETE("/devices/:id", deviceHandler.Delete)
	deviceRoutes.GET("/peers", deviceHandler.Peers)

	clipboardHandler := &handler.ClipboardHandler{Service: deps.Service}
	protected.POST("/clipboard", middleware.RequireScope(auth.ScopeClipboard), clipboardHandler.Send)

	wsHub := deps.Hub
	if wsHub == nil {
		wsHub = hub.New()
	}
	wsHandler := &handler.WebSocketHandler{Hub: wsHub, TokenConfig: deps.TokenConfig}
	r.GET("/v1/events", wsHandler.Serve)

	return r
}

// Package httpapi implements the REST/WebSocket surface of §6.2,
// grounded on easyspace-ai-upcow's internal/controlplane/server
// route-table style: a Server struct wrapping *store.Store plus the
// engine, a Router() building a gin.Engine with grouped routes, and
// gin.Recovery for panic isolation.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chidi150c/gridbot/internal/config"
	"github.com/chidi150c/gridbot/internal/engine"
	"github.com/chidi150c/gridbot/internal/eventbus"
	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/store"
)

// Server holds the dependencies every handler needs.
type Server struct {
	st       *store.Store
	eng      *engine.Engine
	adapter  exchange.Adapter
	bus      *eventbus.Bus
	rcfg     *config.RuntimeConfig
	upgrader websocket.Upgrader
}

// New builds an httpapi.Server.
func New(st *store.Store, eng *engine.Engine, adapter exchange.Adapter, bus *eventbus.Bus, rcfg *config.RuntimeConfig) *Server {
	return &Server{
		st: st, eng: eng, adapter: adapter, bus: bus, rcfg: rcfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gin.Engine implementing every path of §6.2.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")

	bot := api.Group("/bot")
	bot.GET("/status", s.handleBotStatus)

	markets := api.Group("/markets")
	markets.GET("/", s.handleMarketsList)
	markets.GET("/all-pairs", s.handleMarketsAllPairs)
	markets.POST("/:id/favorite", s.handleMarketFavorite)
	markets.POST("/:id/start", s.handleMarketStart)
	markets.POST("/:id/stop", s.handleMarketStop)
	markets.PATCH("/:id", s.handleMarketPatch)

	orders := api.Group("/orders")
	orders.GET("/", s.handleOrdersList)
	orders.DELETE("/:id", s.handleOrderCancel)

	lots := api.Group("/lots")
	lots.GET("/", s.handleLotsList)

	history := api.Group("/history")
	history.GET("/fills", s.handleFillsHistory)

	cfg := api.Group("/config")
	cfg.GET("/", s.handleConfigGet)
	cfg.POST("/", s.handleConfigReplace)

	control := api.Group("/control")
	control.POST("/cancel_all", s.handleCancelAll)

	stats := api.Group("/stats")
	stats.GET("/capital-summary", s.handleCapitalSummary)
	stats.GET("/pnl-breakdown", s.handlePnLBreakdown)
	stats.GET("/pnl-history", s.handlePnLHistory)

	api.GET("/ws", s.handleWebSocket)

	return r
}

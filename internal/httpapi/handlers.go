package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/config"
	"github.com/chidi150c/gridbot/internal/logging"
	"github.com/chidi150c/gridbot/internal/model"
	"github.com/chidi150c/gridbot/internal/store"
)

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateClientTag):
		return http.StatusConflict
	}
	var cfgErr *model.ConfigError
	if errors.As(err, &cfgErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func paginate[T any](items []T, limit, skip int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// GET /api/bot/status — the current active market, its mode, and
// connection-level facts a dashboard's header needs on load.
func (s *Server) handleBotStatus(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{
		"exchange":         s.adapter.Name(),
		"subscriber_count": s.bus.SubscriberCount(),
		"live_trading":     s.rcfg.LiveTradingEnabled,
		"paper_mode":       s.rcfg.PaperMode,
	}
	mkt, err := s.st.GetActiveMarket(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			resp["active_market"] = nil
			c.JSON(http.StatusOK, resp)
			return
		}
		fail(c, statusFor(err), err)
		return
	}
	state, err := s.st.GetBotState(ctx, mkt.ID)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	resp["active_market"] = mkt.ID
	resp["mode"] = state.Mode
	resp["anchor_high"] = state.AnchorHigh.String()
	c.JSON(http.StatusOK, resp)
}

// GET /api/markets/?favorites_only=bool
func (s *Server) handleMarketsList(c *gin.Context) {
	favoritesOnly := c.Query("favorites_only") == "true"
	markets, err := s.st.ListMarkets(c.Request.Context(), favoritesOnly)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, markets)
}

// GET /api/markets/all-pairs — the exchange's tradable universe, used
// to populate the "add a market" picker independent of what's already
// been favorited locally.
func (s *Server) handleMarketsAllPairs(c *gin.Context) {
	products, err := s.adapter.GetProducts(c.Request.Context())
	if err != nil {
		var perm *model.PermanentExchangeError
		if errors.As(err, &perm) {
			fail(c, http.StatusBadGateway, err)
			return
		}
		fail(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// POST /api/markets/:id/favorite
func (s *Server) handleMarketFavorite(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Favorite bool `json:"favorite"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.st.SetFavorite(c.Request.Context(), id, body.Favorite); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/markets/:id/start — the Highlander transition (§4.5),
// delegated to the engine so the currently-active market's orders are
// canceled before the new one is enabled.
func (s *Server) handleMarketStart(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.st.GetMarket(c.Request.Context(), id); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	if err := s.eng.StartMarket(c.Request.Context(), id); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/markets/:id/stop — the kill switch (§4.1's any->STOPPED).
func (s *Server) handleMarketStop(c *gin.Context) {
	id := c.Param("id")
	if err := s.eng.KillSwitch(c.Request.Context(), id); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PATCH /api/markets/:id — per-market override blob (ranking, settings).
func (s *Server) handleMarketPatch(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	mkt, err := s.st.GetMarket(ctx, id)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	var body struct {
		Ranking      *int    `json:"ranking"`
		SettingsJSON *string `json:"settings_json"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if body.Ranking != nil {
		mkt.Ranking = *body.Ranking
	}
	if body.SettingsJSON != nil {
		mkt.SettingsJSON = *body.SettingsJSON
	}
	if err := s.st.UpsertMarket(ctx, mkt); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, mkt)
}

// GET /api/orders/?status=OPEN&limit=&skip= — orders for the active
// market; there is only ever one live market under Highlander, so
// no market_id path segment is needed.
func (s *Server) handleOrdersList(c *gin.Context) {
	ctx := c.Request.Context()
	mkt, err := s.st.GetActiveMarket(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, []model.Order{})
			return
		}
		fail(c, statusFor(err), err)
		return
	}
	limit := queryInt(c, "limit", 100)
	skip := queryInt(c, "skip", 0)
	orders, err := s.st.ListOrdersByMarket(ctx, mkt.ID, limit+skip)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	if want := model.OrderStatus(c.Query("status")); want != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if o.Status == want {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	c.JSON(http.StatusOK, paginate(orders, limit, skip))
}

// DELETE /api/orders/:id — a manual single-order cancel outside the
// reconciler's own prune/extend cycle.
func (s *Server) handleOrderCancel(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	o, err := s.st.GetOrder(ctx, id)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	if err := s.adapter.CancelOrder(ctx, id); err != nil {
		fail(c, http.StatusBadGateway, err)
		return
	}
	if err := s.st.UpdateOrderStatus(ctx, id, model.OrderCanceled, o.FilledSize); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/lots/?limit=&skip=
func (s *Server) handleLotsList(c *gin.Context) {
	ctx := c.Request.Context()
	mkt, err := s.st.GetActiveMarket(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, []model.Lot{})
			return
		}
		fail(c, statusFor(err), err)
		return
	}
	limit := queryInt(c, "limit", 100)
	skip := queryInt(c, "skip", 0)
	lots, err := s.st.ListLots(ctx, mkt.ID, limit+skip)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, paginate(lots, limit, skip))
}

// GET /api/history/fills?limit=&skip=
func (s *Server) handleFillsHistory(c *gin.Context) {
	ctx := c.Request.Context()
	mkt, err := s.st.GetActiveMarket(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, []model.Fill{})
			return
		}
		fail(c, statusFor(err), err)
		return
	}
	fills, err := s.st.ListFillsSince(ctx, mkt.ID, 0)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	limit := queryInt(c, "limit", 100)
	skip := queryInt(c, "skip", 0)
	c.JSON(http.StatusOK, paginate(fills, limit, skip))
}

// GET /api/config/
func (s *Server) handleConfigGet(c *gin.Context) {
	cfg, err := s.st.GetConfig(c.Request.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, s.rcfg.Config)
			return
		}
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// POST /api/config/ — a full-replace, validated and audited as one
// transaction (§7's ConfigError policy: reject the whole write on any
// invalid field, leaving the prior config untouched).
func (s *Server) handleConfigReplace(c *gin.Context) {
	var cfg model.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := config.Validate(cfg); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	if err := s.st.ReplaceConfig(c.Request.Context(), "user", cfg); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// POST /api/control/cancel_all — the manual kill switch for whatever
// market is currently active.
func (s *Server) handleCancelAll(c *gin.Context) {
	ctx := c.Request.Context()
	mkt, err := s.st.GetActiveMarket(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		fail(c, statusFor(err), err)
		return
	}
	if err := s.eng.KillSwitch(ctx, mkt.ID); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/stats/capital-summary — deployed vs. available capital for
// the active market, the same figures the RiskGovernor evaluates
// against on every tick.
func (s *Server) handleCapitalSummary(c *gin.Context) {
	ctx := c.Request.Context()
	mkt, err := s.st.GetActiveMarket(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"deployed_usd": "0", "available_usd": "0"})
			return
		}
		fail(c, statusFor(err), err)
		return
	}
	balances, err := s.adapter.GetBalances(ctx)
	if err != nil {
		fail(c, http.StatusBadGateway, err)
		return
	}
	open, err := s.st.ListOpenOrders(ctx, mkt.ID)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	deployed := decimal.Zero
	for _, o := range open {
		if o.Side == model.SideBuy {
			deployed = deployed.Add(o.Notional())
		}
	}
	lots, err := s.st.ListOpenLots(ctx, mkt.ID)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	for _, l := range lots {
		deployed = deployed.Add(l.BuyPrice.Mul(l.BuySize))
	}
	c.JSON(http.StatusOK, gin.H{
		"deployed_usd":  deployed.String(),
		"available_usd": balances["USD"].String(),
	})
}

// GET /api/stats/pnl-breakdown — realized PnL summed over the closed
// lots among the active market's 500 most recently bought lots
// (ListLots' default cap).
func (s *Server) handlePnLBreakdown(c *gin.Context) {
	ctx := c.Request.Context()
	mkt, err := s.st.GetActiveMarket(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"realized_pnl_usd": "0", "closed_lots": 0})
			return
		}
		fail(c, statusFor(err), err)
		return
	}
	lots, err := s.st.ListLots(ctx, mkt.ID, 0)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	realized := decimal.Zero
	closed := 0
	for _, l := range lots {
		if l.Status == model.LotClosed {
			realized = realized.Add(l.RealizedPnL)
			closed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"realized_pnl_usd": realized.String(), "closed_lots": closed})
}

// GET /api/stats/pnl-history?days=N — daily realized-PnL buckets over
// the trailing N days (among the market's 500 most recently bought
// lots), driving the dashboard's PnL chart.
func (s *Server) handlePnLHistory(c *gin.Context) {
	ctx := c.Request.Context()
	days := queryInt(c, "days", 30)
	mkt, err := s.st.GetActiveMarket(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, []gin.H{})
			return
		}
		fail(c, statusFor(err), err)
		return
	}
	lots, err := s.st.ListLots(ctx, mkt.ID, 0)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	buckets := map[string]decimal.Decimal{}
	for _, l := range lots {
		if l.Status != model.LotClosed || l.SellTime.IsZero() || l.SellTime.Before(cutoff) {
			continue
		}
		day := l.SellTime.UTC().Format("2006-01-02")
		buckets[day] = buckets[day].Add(l.RealizedPnL)
	}
	out := make([]gin.H, 0, len(buckets))
	for day, pnl := range buckets {
		out = append(out, gin.H{"date": day, "realized_pnl_usd": pnl.String()})
	}
	c.JSON(http.StatusOK, out)
}

// GET /api/ws — the streaming surface of §6.2: every subscriber gets
// its own bounded queue off the EventBus, forwarded as JSON frames
// until the socket closes.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("httpapi: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, events := s.bus.Subscribe()
	defer s.bus.Unsubscribe(id)

	// Drain and discard any client-sent frames so the connection's read
	// deadline logic (via ReadMessage) notices a closed socket promptly.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

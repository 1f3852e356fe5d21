// Command coinbot runs the grid-trading bot: it loads configuration,
// opens the state store, wires an exchange adapter, and drives the
// engine's tick loop behind an HTTP control-plane and metrics server.
//
// Boot sequence, grounded on the teacher's main.go:
//  1. config.LoadDotEnv + config.Load  – read .env then process env
//  2. logging.Init                     – structured logging via logrus
//  3. store.Open + migrate             – open the sqlite state file
//  4. wire the exchange adapter        – EXCHANGE_TYPE: coinbase|mock
//  5. build the engine + eventbus      – tick loop and WS fan-out
//  6. start the HTTP server            – REST/WS control plane + /metrics
//  7. run the tick loop until SIGINT/SIGTERM, then shut down gracefully
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/config"
	"github.com/chidi150c/gridbot/internal/engine"
	"github.com/chidi150c/gridbot/internal/eventbus"
	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/httpapi"
	"github.com/chidi150c/gridbot/internal/logging"
	"github.com/chidi150c/gridbot/internal/store"
)

func main() {
	config.LoadDotEnv(".env")
	rcfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := logging.Init(logging.Options{
		Level:      rcfg.LogLevel,
		OutputFile: rcfg.LogFile,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Compress:   true,
	}); err != nil {
		log.Fatalf("logging: %v", err)
	}

	st, err := store.Open(rcfg.StatePath)
	if err != nil {
		logging.Errorf("store: open %s: %v", rcfg.StatePath, err)
		os.Exit(1)
	}
	defer st.Close()

	if err := seedMarketOverrides(context.Background(), st, rcfg.MarketOverrides); err != nil {
		logging.Errorf("config: seed markets from config.yaml: %v", err)
		os.Exit(1)
	}

	adapter, err := wireAdapter(rcfg)
	if err != nil {
		logging.Errorf("exchange: %v", err)
		os.Exit(1)
	}

	bus := eventbus.New(rcfg.EventQueueDepth)
	eng := engine.New(st, adapter, bus)

	api := httpapi.New(st, eng, adapter, bus, rcfg)
	mux := http.NewServeMux()
	mux.Handle("/", api.Router())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", rcfg.Port), Handler: mux}
	go func() {
		logging.Infof("httpapi: listening on :%d", rcfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("httpapi: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go runActiveMarket(ctx, st, eng, adapter, rcfg)

	<-ctx.Done()
	logging.Infof("coinbot: shutting down")

	shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

// seedMarketOverrides upserts every market the optional config.yaml
// declares, so an operator's known product list and per-market
// settings blob survive a restart without re-POSTing /markets/:id.
// UpsertMarket never disables a market that's already enabled (§3
// Lifecycle), so this is safe to run on every boot.
func seedMarketOverrides(ctx context.Context, st *store.Store, overrides []config.MarketOverride) error {
	for _, mo := range overrides {
		mkt, err := mo.ToModel()
		if err != nil {
			return err
		}
		if err := st.UpsertMarket(ctx, mkt); err != nil {
			return err
		}
	}
	return nil
}

// wireAdapter builds the configured exchange.Adapter. mock is the
// default so the bot boots without exchange credentials.
func wireAdapter(rcfg *config.RuntimeConfig) (exchange.Adapter, error) {
	switch rcfg.ExchangeType {
	case "coinbase":
		if rcfg.CoinbaseAPIKey == "" || rcfg.CoinbaseAPISecret == "" {
			return nil, fmt.Errorf("EXCHANGE_TYPE=coinbase requires COINBASE_API_KEY and COINBASE_API_SECRET")
		}
		return exchange.NewCoinbaseAdapter(rcfg.CoinbaseAPIKey, rcfg.CoinbaseAPISecret), nil
	default:
		return exchange.NewMockAdapter(decimal.NewFromInt(10000)), nil
	}
}

// runActiveMarket waits for a market to be started (via the HTTP
// control plane's /markets/:id/start) and drives its tick loop plus
// the two streaming producers (§5: TickerStream and FillStream feed
// the engine's single-writer LastPrice cell and fill heap). When the
// active market changes, the old loop's context is canceled and a new
// one starts, since Highlander guarantees at most one at a time.
func runActiveMarket(ctx context.Context, st *store.Store, eng *engine.Engine, adapter exchange.Adapter, rcfg *config.RuntimeConfig) {
	var runningID string
	var cancelRun context.CancelFunc

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if cancelRun != nil {
				cancelRun()
			}
			return
		case <-ticker.C:
			mkt, err := st.GetActiveMarket(ctx)
			if err != nil {
				if runningID != "" && cancelRun != nil {
					cancelRun()
					cancelRun = nil
					runningID = ""
				}
				continue
			}
			if mkt.ID == runningID {
				continue
			}
			if cancelRun != nil {
				cancelRun()
			}
			runCtx, cancel := context.WithCancel(ctx)
			cancelRun = cancel
			runningID = mkt.ID

			go eng.Run(runCtx, mkt.ID, rcfg.TickInterval)
			go func(marketID string) {
				if err := adapter.StreamTicker(runCtx, marketID, func(_ string, price decimal.Decimal, ts time.Time) {
					eng.OnPrice(price, ts)
				}); err != nil && runCtx.Err() == nil {
					logging.Errorf("exchange: ticker stream for %s: %v", marketID, err)
				}
			}(mkt.ID)
			go func() {
				if err := adapter.StreamFills(runCtx, eng.OnFill); err != nil && runCtx.Err() == nil {
					logging.Errorf("exchange: fill stream: %v", err)
				}
			}()
		}
	}
}

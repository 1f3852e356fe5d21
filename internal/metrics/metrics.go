// Package metrics exposes Prometheus counters/gauges for observability,
// grounded on the teacher's metrics.go: package-level CounterVec/GaugeVec
// values registered in init(), with helper setters other packages call
// instead of touching prometheus directly.
//
//   - gridbot_orders_placed_total{side}       – orders placed (BUY|SELL)
//   - gridbot_orders_filled_total{side}       – orders filled
//   - gridbot_risk_decisions_total{action,reason} – Governor decisions (ALLOW|DENY|HOLD)
//   - gridbot_open_orders                     – current open-order count (gauge)
//   - gridbot_deployed_capital_usd            – current deployed capital (gauge)
//   - gridbot_realized_pnl_usd                – cumulative realized PnL (gauge)
//   - gridbot_lots_closed_total               – closed lots
//   - gridbot_reconcile_ops_total{op,result}  – reconciler cancel/place outcomes
//   - gridbot_engine_mode{mode}               – engine mode indicator, one labeled
//     series per mode flipped between 0/1
//
// Served at /metrics via promhttp.Handler(), same as the teacher's main.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_orders_placed_total", Help: "Orders placed"},
		[]string{"side"},
	)
	ordersFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_orders_filled_total", Help: "Orders filled"},
		[]string{"side"},
	)
	riskDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_risk_decisions_total", Help: "RiskGovernor decisions"},
		[]string{"action", "reason"},
	)
	openOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "gridbot_open_orders", Help: "Current open order count"},
	)
	deployedCapital = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "gridbot_deployed_capital_usd", Help: "Current deployed capital in USD"},
	)
	realizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "gridbot_realized_pnl_usd", Help: "Cumulative realized PnL in USD"},
	)
	lotsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "gridbot_lots_closed_total", Help: "Lots closed"},
	)
	reconcileOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gridbot_reconcile_ops_total", Help: "Reconciler cancel/place outcomes"},
		[]string{"op", "result"},
	)
	engineMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "gridbot_engine_mode", Help: "Engine mode indicator, one labeled series per mode"},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(ordersPlaced, ordersFilled, riskDecisions)
	prometheus.MustRegister(openOrders, deployedCapital, realizedPnL, lotsClosed)
	prometheus.MustRegister(reconcileOps, engineMode)
}

func IncOrderPlaced(side string) { ordersPlaced.WithLabelValues(side).Inc() }
func IncOrderFilled(side string) { ordersFilled.WithLabelValues(side).Inc() }

func IncRiskDecision(action, reason string) { riskDecisions.WithLabelValues(action, reason).Inc() }

func SetOpenOrders(n int)                    { openOrders.Set(float64(n)) }
func SetDeployedCapitalUSD(usd float64)      { deployedCapital.Set(usd) }
func SetRealizedPnLUSD(usd float64)          { realizedPnL.Set(usd) }
func IncLotsClosed()                         { lotsClosed.Inc() }
func IncReconcileOp(op, result string)       { reconcileOps.WithLabelValues(op, result).Inc() }

// SetEngineMode flips the labeled series so only the active mode reads 1,
// the same one-hot gauge trick the teacher uses for bot_model_mode.
func SetEngineMode(modes []string, active string) {
	for _, m := range modes {
		if m == active {
			engineMode.WithLabelValues(m).Set(1)
		} else {
			engineMode.WithLabelValues(m).Set(0)
		}
	}
}

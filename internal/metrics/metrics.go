// Package metrics Prometheus 指标（/metrics）与 pprof 调试服务。
//
// 指标由 Sink 从 tracker 输出事件更新：
//   - unitgrid_unit_changes_total{direction}
//   - unitgrid_phase_changes_total{phase}
//   - unitgrid_current_unit
//   - unitgrid_scaling_actions_total{kind}
//   - unitgrid_resets_total / unitgrid_compounded_asset
//   - unitgrid_fills_total / unitgrid_realized_pnl
//   - unitgrid_order_rejections_total
//   - unitgrid_invariant_violations_total
//   - unitgrid_feed_dropped_total{stream,reason}
//   - unitgrid_snapshot_saves_total{result}
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/betbot/unitgrid/internal/events"
	"github.com/betbot/unitgrid/internal/ports"
)

var (
	unitChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitgrid_unit_changes_total",
			Help: "Unit boundary crossings",
		},
		[]string{"direction"},
	)

	phaseChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitgrid_phase_changes_total",
			Help: "Cycle phase transitions by new phase",
		},
		[]string{"phase"},
	)

	currentUnit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unitgrid_current_unit",
			Help: "Current unit relative to the entry price",
		},
	)

	scalingActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitgrid_scaling_actions_total",
			Help: "Scaling actions emitted by the fragment accountant",
		},
		[]string{"kind"},
	)

	resets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unitgrid_resets_total",
			Help: "Completed cycles (RECOVERY reached the peak)",
		},
	)

	compoundedAsset = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unitgrid_compounded_asset",
			Help: "Position size after the latest compounding reset",
		},
	)

	fills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unitgrid_fills_total",
			Help: "Fills applied to the ledger",
		},
	)

	realizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unitgrid_realized_pnl",
			Help: "Realized P&L accumulated since start",
		},
	)

	rejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unitgrid_order_rejections_total",
			Help: "Rejected placements and abandoned cancels",
		},
	)

	invariantViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unitgrid_invariant_violations_total",
			Help: "Order window invariant violations (non-strict mode)",
		},
	)

	feedDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitgrid_feed_dropped_total",
			Help: "Dropped price ticks and fills",
		},
		[]string{"stream", "reason"},
	)

	snapshotSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitgrid_snapshot_saves_total",
			Help: "Snapshot persistence attempts",
		},
		[]string{"result"}, // ok|error
	)
)

func init() {
	prometheus.MustRegister(unitChanges, phaseChanges, currentUnit, scalingActions)
	prometheus.MustRegister(resets, compoundedAsset, fills, realizedPnL)
	prometheus.MustRegister(rejections, invariantViolations, feedDropped, snapshotSaves)
}

// Sink 把 tracker 事件转成指标。
type Sink struct{}

var _ ports.EventSink = Sink{}

func (Sink) Publish(ev events.Event) {
	switch e := ev.(type) {
	case events.UnitChangedEvent:
		unitChanges.WithLabelValues(string(e.Direction)).Inc()
		currentUnit.Set(float64(e.New))
	case events.PhaseChangedEvent:
		phaseChanges.WithLabelValues(string(e.New)).Inc()
	case events.ScalingActionEvent:
		scalingActions.WithLabelValues(e.Kind).Inc()
	case events.ResetOccurredEvent:
		resets.Inc()
		compoundedAsset.Set(e.CompoundedSize.InexactFloat64())
	case events.FillAppliedEvent:
		fills.Inc()
		realizedPnL.Add(e.PnL.InexactFloat64())
	case events.OrderRejectedEvent:
		rejections.Inc()
	case events.InvariantViolatedEvent:
		invariantViolations.Inc()
	case events.FeedDroppedEvent:
		feedDropped.WithLabelValues(e.Stream, e.Reason).Inc()
	}
}

// ObserveSnapshotSave 记录一次快照持久化结果。
func ObserveSnapshotSave(err error) {
	if err != nil {
		snapshotSaves.WithLabelValues("error").Inc()
		return
	}
	snapshotSaves.WithLabelValues("ok").Inc()
}

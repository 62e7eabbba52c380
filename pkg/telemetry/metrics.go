package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricActionsEnqueuedTotal = "arb_engine_actions_enqueued_total"
	MetricOrdersPlacedTotal    = "arb_engine_orders_placed_total"
	MetricOrdersCancelledTotal = "arb_engine_orders_cancelled_total"
	MetricFillsTotal           = "arb_engine_fills_total"
	MetricBookUpdatesTotal     = "arb_engine_book_updates_total"
	MetricOpenOrders           = "arb_engine_open_orders"
	MetricFrameQueueDepth      = "arb_engine_frame_queue_depth"
	MetricLatencyVenue         = "arb_engine_latency_venue_ms"
)

// MetricsHolder holds the engine's initialized instruments.
type MetricsHolder struct {
	ActionsEnqueuedTotal metric.Int64Counter
	OrdersPlacedTotal    metric.Int64Counter
	OrdersCancelledTotal metric.Int64Counter
	FillsTotal           metric.Int64Counter
	BookUpdatesTotal     metric.Int64Counter
	OpenOrders           metric.Int64ObservableGauge
	FrameQueueDepth      metric.Int64ObservableGauge
	LatencyVenue         metric.Float64Histogram

	mu            sync.RWMutex
	openOrdersMap map[string]int64
	queueDepthMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			openOrdersMap: make(map[string]int64),
			queueDepthMap: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments on the given meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.ActionsEnqueuedTotal, err = meter.Int64Counter(MetricActionsEnqueuedTotal,
		metric.WithDescription("Total strategy actions enqueued"))
	if err != nil {
		return err
	}

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Total orders placed on venues"))
	if err != nil {
		return err
	}

	m.OrdersCancelledTotal, err = meter.Int64Counter(MetricOrdersCancelledTotal,
		metric.WithDescription("Total orders cancelled on venues"))
	if err != nil {
		return err
	}

	m.FillsTotal, err = meter.Int64Counter(MetricFillsTotal,
		metric.WithDescription("Total fill events observed"))
	if err != nil {
		return err
	}

	m.BookUpdatesTotal, err = meter.Int64Counter(MetricBookUpdatesTotal,
		metric.WithDescription("Total order book level changes applied"))
	if err != nil {
		return err
	}

	m.LatencyVenue, err = meter.Float64Histogram(MetricLatencyVenue,
		metric.WithDescription("Latency of venue REST calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.OpenOrders, err = meter.Int64ObservableGauge(MetricOpenOrders,
		metric.WithDescription("Currently open orders per venue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for venue, val := range m.openOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("venue", venue)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.FrameQueueDepth, err = meter.Int64ObservableGauge(MetricFrameQueueDepth,
		metric.WithDescription("Pending websocket frames per venue stream"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for stream, val := range m.queueDepthMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("stream", stream)))
			}
			return nil
		}))
	return err
}

// SetOpenOrders records the current open-order count for a venue.
func (m *MetricsHolder) SetOpenOrders(venue string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrdersMap[venue] = count
}

// SetFrameQueueDepth records the current frame-queue depth for a stream.
func (m *MetricsHolder) SetFrameQueueDepth(stream string, depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepthMap[stream] = depth
}

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const promNamespace = "okx_listing_bot"

type Prometheus struct {
	Metrics *Metrics

	registry        *prometheus.Registry
	ordersPlaced    prometheus.Counter
	ordersFailed    prometheus.Counter
	ordersFilled    prometheus.Counter
	ordersCancelled prometheus.Counter
	ordersTimedOut  prometheus.Counter
	retries         prometheus.Counter
	pairPolls       prometheus.Counter
	tickerPolls     prometheus.Counter
	clockSyncs      prometheus.Counter
	clockOffset     prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry:        prometheus.NewRegistry(),
		ordersPlaced:    newCounter("orders_placed_total", "Total number of orders accepted by the exchange."),
		ordersFailed:    newCounter("orders_failed_total", "Total number of order submissions that failed."),
		ordersFilled:    newCounter("orders_filled_total", "Total number of orders that reached filled."),
		ordersCancelled: newCounter("orders_cancelled_total", "Total number of orders cancelled."),
		ordersTimedOut:  newCounter("orders_timed_out_total", "Total number of orders cancelled after the order timeout."),
		retries:         newCounter("retries_total", "Total number of backoff retries after transient errors."),
		pairPolls:       newCounter("pair_polls_total", "Total number of pair listing checks."),
		tickerPolls:     newCounter("ticker_polls_total", "Total number of ticker checks while waiting for trading."),
		clockSyncs:      newCounter("clock_syncs_total", "Total number of successful clock synchronizations."),
		clockOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "clock_offset_milliseconds",
			Help:      "Exchange time minus local time at the last sync.",
		}),
	}
	p.registry.MustRegister(
		p.ordersPlaced, p.ordersFailed, p.ordersFilled, p.ordersCancelled, p.ordersTimedOut,
		p.retries, p.pairPolls, p.tickerPolls, p.clockSyncs, p.clockOffset,
	)
	p.Metrics = &Metrics{
		OrdersPlaced:    p.ordersPlaced,
		OrdersFailed:    p.ordersFailed,
		OrdersFilled:    p.ordersFilled,
		OrdersCancelled: p.ordersCancelled,
		OrdersTimedOut:  p.ordersTimedOut,
		Retries:         p.retries,
		PairPolls:       p.pairPolls,
		TickerPolls:     p.tickerPolls,
		ClockSyncs:      p.clockSyncs,
		ClockOffsetMS:   p.clockOffset,
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Router exposes the registry at path and a liveness probe at /healthz.
func (p *Prometheus) Router(path string) *mux.Router {
	r := mux.NewRouter()
	r.Handle(path, p.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

// Serve runs the metrics listener until ctx is done.
func (p *Prometheus) Serve(ctx context.Context, addr, path string, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           p.Router(path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("metrics listener started", zap.String("addr", addr), zap.String("path", path))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

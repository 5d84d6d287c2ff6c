package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	OrdersPlaced    Counter
	OrdersFailed    Counter
	OrdersFilled    Counter
	OrdersCancelled Counter
	OrdersTimedOut  Counter
	Retries         Counter
	PairPolls       Counter
	TickerPolls     Counter
	ClockSyncs      Counter
	ClockOffsetMS   Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:    n,
		OrdersFailed:    n,
		OrdersFilled:    n,
		OrdersCancelled: n,
		OrdersTimedOut:  n,
		Retries:         n,
		PairPolls:       n,
		TickerPolls:     n,
		ClockSyncs:      n,
		ClockOffsetMS:   noopGauge{},
	}
}

package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"solidgrowth/internal/ledger"
)

var _ ledger.Recorder = (*Metrics)(nil)

type Metrics struct {
	decimals uint8

	investments        prometheus.Counter
	investedTokens     prometheus.Counter
	failures           *prometheus.CounterVec
	basePointerUpdates prometheus.Counter
}

// New registers the ledger metrics on r. Invested amounts are reported in
// whole tokens using decimals.
func New(r prometheus.Registerer, decimals uint8) (*Metrics, error) {
	m := &Metrics{
		decimals: decimals,
		investments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "investments",
			Help:      "number of committed investments",
		}),
		investedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "invested_tokens",
			Help:      "sum of committed investments in whole tokens",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "failures",
			Help:      "number of rejected operations by reason",
		}, []string{"reason"}),
		basePointerUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "base_pointer_updates",
			Help:      "number of base pointer updates",
		}),
	}
	for _, c := range []prometheus.Collector{m.investments, m.investedTokens, m.failures, m.basePointerUpdates} {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Invested(amount *big.Int) {
	m.investments.Inc()
	tokens, _ := decimal.NewFromBigInt(amount, -int32(m.decimals)).Float64()
	m.investedTokens.Add(tokens)
}

func (m *Metrics) Failed(reason string) {
	m.failures.WithLabelValues(reason).Inc()
}

func (m *Metrics) BasePointerUpdated() {
	m.basePointerUpdates.Inc()
}

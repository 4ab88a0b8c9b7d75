package metrics

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	require := require.New(t)
	reg := prometheus.NewRegistry()
	m, err := New(reg, 18)
	require.NoError(err)

	amount, _ := new(big.Int).SetString("1500000000000000000000", 10)
	m.Invested(amount)
	m.Failed("referrer_not_found")
	m.Failed("referrer_not_found")
	m.BasePointerUpdated()

	require.InDelta(1, testutil.ToFloat64(m.investments), 0)
	require.InDelta(1500, testutil.ToFloat64(m.investedTokens), 1e-9)
	require.InDelta(2, testutil.ToFloat64(m.failures.WithLabelValues("referrer_not_found")), 0)
	require.InDelta(1, testutil.ToFloat64(m.basePointerUpdates), 0)

	_, err = New(reg, 18)
	require.Error(err)
}

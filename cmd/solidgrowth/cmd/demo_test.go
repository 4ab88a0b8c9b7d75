package cmd

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunDemo(t *testing.T) {
	require := require.New(t)

	var out bytes.Buffer
	amount := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(demoDecimals), nil))
	require.NoError(runDemo(context.Background(), &out, 3, amount, zap.NewNop()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(lines, 5)
	require.Contains(lines[0], "(0 USDT, 1 referrals)")
	require.Contains(lines[3], "(0 USDT, 0 referrals)")
	require.Contains(lines[4], "(3000 USDT)")
	require.True(strings.HasSuffix(lines[4], "positions: 3"))
}

func TestRunDemoRejectsOutOfRange(t *testing.T) {
	var out bytes.Buffer
	err := runDemo(context.Background(), &out, 1, big.NewInt(1), zap.NewNop())
	require.ErrorContains(t, err, "investor 1")
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	require.NoError(t, err)
	_, err = newLogger("loud")
	require.Error(t, err)
}

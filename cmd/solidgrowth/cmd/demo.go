package cmd

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"solidgrowth/internal/config"
	"solidgrowth/internal/ledger"
	"solidgrowth/internal/token"
)

const demoDecimals = 18

var (
	demoInvestors int
	demoAmount    string
	demoVerbose   bool
)

// demoCmd runs a referral chain against an in-memory token: every investor
// is funded, approves the custody account and invests with the previous
// investor as referrer.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Simulate a referral chain against an in-memory token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		amount, err := decimal.NewFromString(demoAmount)
		if err != nil {
			return fmt.Errorf("%w: --amount: %w", config.ErrInvalid, err)
		}
		if demoInvestors < 1 {
			return fmt.Errorf("%w: --investors must be positive", config.ErrInvalid)
		}
		logger := zap.NewNop()
		if demoVerbose {
			if logger, err = zap.NewDevelopment(); err != nil {
				return err
			}
		}
		return runDemo(cmd.Context(), cmd.OutOrStdout(), demoInvestors, config.ToBaseUnits(amount, demoDecimals), logger)
	},
}

func init() {
	demoCmd.Flags().IntVar(&demoInvestors, "investors", 11, "number of chained investors")
	demoCmd.Flags().StringVar(&demoAmount, "amount", "1000", "tokens invested by each investor")
	demoCmd.Flags().BoolVar(&demoVerbose, "verbose", false, "log ledger activity")
}

func newWallet() (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func runDemo(ctx context.Context, w io.Writer, investors int, amount *big.Int, logger *zap.Logger) error {
	usdt := token.New(tokenSymbol, demoDecimals)

	owner, err := newWallet()
	if err != nil {
		return err
	}
	custody, err := newWallet()
	if err != nil {
		return err
	}

	l, err := ledger.New(ctx, ledger.Config{
		Owner:         owner,
		Custody:       custody,
		MinInvestment: config.ToBaseUnits(decimal.NewFromInt(100), demoDecimals),
		MaxInvestment: config.ToBaseUnits(decimal.NewFromInt(100000), demoDecimals),
	}, token.NewGateway(usdt, custody), ledger.WithLogger(logger))
	if err != nil {
		return err
	}

	wallets := []common.Address{owner}
	for i := 1; i <= investors; i++ {
		investor, err := newWallet()
		if err != nil {
			return err
		}
		if err := usdt.Mint(investor, amount); err != nil {
			return err
		}
		if err := usdt.Approve(investor, custody, amount); err != nil {
			return err
		}
		if _, err := l.Invest(ctx, investor, common.Address{}, wallets[i-1], amount); err != nil {
			return fmt.Errorf("investor %d: %w", i, err)
		}
		wallets = append(wallets, investor)
	}

	for i, addr := range wallets {
		fmt.Fprintf(w, "%d. %s (%s %s, %d referrals)\n", i, addr.Hex(),
			config.FromBaseUnits(usdt.BalanceOf(addr), demoDecimals), tokenSymbol, l.ReferralCount(addr))
	}
	fmt.Fprintf(w, "custody: %s (%s %s), positions: %d\n", custody.Hex(),
		config.FromBaseUnits(usdt.BalanceOf(custody), demoDecimals), tokenSymbol, l.PositionCount())
	return nil
}

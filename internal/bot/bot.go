// Package bot forwards ledger audit events to a Telegram chat.
package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solidgrowth/internal/ledger"
)

const queueSize = 256

var _ ledger.Subscriber = (*Notifier)(nil)

// Sender is satisfied by *telego.Bot.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

type Notifier struct {
	sender   Sender
	chatID   int64
	symbol   string
	decimals uint8
	queue    chan ledger.Invested
	log      *zap.Logger
}

func NewNotifier(token string, chatID int64, symbol string, decimals uint8, log *zap.Logger) (*Notifier, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return newNotifier(tgBot, chatID, symbol, decimals, log), nil
}

func newNotifier(sender Sender, chatID int64, symbol string, decimals uint8, log *zap.Logger) *Notifier {
	return &Notifier{
		sender:   sender,
		chatID:   chatID,
		symbol:   symbol,
		decimals: decimals,
		queue:    make(chan ledger.Invested, queueSize),
		log:      log,
	}
}

// Accept queues e for delivery and never blocks the ledger. Events that do
// not fit in the queue are dropped.
func (n *Notifier) Accept(_ context.Context, e ledger.Invested) error {
	select {
	case n.queue <- e:
	default:
		n.log.Warn("notification queue full, dropping event",
			zap.String("investor", e.Investor.Hex()),
			zap.String("amount", e.Amount.String()))
	}
	return nil
}

// Start delivers queued events until ctx is done.
func (n *Notifier) Start(ctx context.Context) {
	n.log.Info("telegram notifier started", zap.Int64("chat", n.chatID))
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.queue:
			n.send(ctx, e)
		}
	}
}

func (n *Notifier) send(ctx context.Context, e ledger.Invested) {
	if _, err := n.sender.SendMessage(ctx, tu.Message(tu.ID(n.chatID), n.format(e))); err != nil {
		n.log.Warn("failed to send investment notification",
			zap.Int64("chat", n.chatID),
			zap.String("investor", e.Investor.Hex()),
			zap.Error(err))
	}
}

func (n *Notifier) format(e ledger.Invested) string {
	amount := decimal.NewFromBigInt(e.Amount, -int32(n.decimals))
	return fmt.Sprintf("💰 New investment: %s %s\n👤 Investor: %s\n🤝 Referrer: %s\n🏷 Beneficiary: %s",
		amount.String(), n.symbol, e.Investor.Hex(), e.Referrer.Hex(), e.BeneficiaryTag.Hex())
}

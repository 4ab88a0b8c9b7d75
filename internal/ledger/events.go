package ledger

import (
	"context"
	"errors"
	"math/big"
)

var _ Subscriber = (SubscriberFunc)(nil)

// Subscriber consumes audit events. Accept is called after the operation
// has been committed, in commit order.
type Subscriber interface {
	Accept(ctx context.Context, e Invested) error
}

type SubscriberFunc func(ctx context.Context, e Invested) error

func (f SubscriberFunc) Accept(ctx context.Context, e Invested) error {
	return f(ctx, e)
}

func notifyAll(ctx context.Context, e Invested, subs ...Subscriber) error {
	var errs []error
	for _, sub := range subs {
		ev := e
		if e.Amount != nil {
			ev.Amount = new(big.Int).Set(e.Amount)
		}
		if err := sub.Accept(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

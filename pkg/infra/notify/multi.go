package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/r-umemoto/crossbot/pkg/domain/position"
)

// Multi fans an event out to every sink. One failing sink does not stop the
// others; the failures are joined.
type Multi []position.Notifier

func (m Multi) Notify(ctx context.Context, ev position.Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// Counting wraps a notifier and reports each failure to onFail.
type Counting struct {
	Next   position.Notifier
	OnFail func()
}

func (c Counting) Notify(ctx context.Context, ev position.Event) error {
	err := c.Next.Notify(ctx, ev)
	if err != nil && c.OnFail != nil {
		c.OnFail()
	}
	return err
}

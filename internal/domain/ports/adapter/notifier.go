package adapter

import "context"

// Notifier delivers short operational alerts (refund revocations, webhook failures).
// Delivery is best effort; callers log and ignore the error.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

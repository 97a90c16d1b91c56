package error_notificator

import "context"

type Notificator interface {
	// Notify reports a failed job to an operator.
	Notify(ctx context.Context, jobID string, err error, details string) error
}

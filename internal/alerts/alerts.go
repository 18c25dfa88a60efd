// Package alerts delivers operator notifications about money that needs a
// human: refunds that could not be applied and purchases awaiting reconcile.
package alerts

import (
	"context"
	"errors"
	"log/slog"
)

// Notifier is implemented by every alert channel.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// LogNotifier writes alerts to the structured log. It is always part of the
// fan-out so an alert is never lost silently.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, title, body string) error {
	n.log.Error("operator alert", "title", title, "body", body)
	return nil
}

// Multi sends every alert to all channels and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

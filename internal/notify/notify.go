package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"outletcash/backend/internal/metrics"
)

// Sender delivers one outbound message. Implementations talk to a messaging
// provider; message wording is decided by the caller.
type Sender interface {
	SendText(ctx context.Context, phone string, body string) error
	SendTemplate(ctx context.Context, phone string, template string, params []string) error
}

type Noop struct{}

func (Noop) SendText(context.Context, string, string) error { return nil }

func (Noop) SendTemplate(context.Context, string, string, []string) error { return nil }

// Notifier fans messages out in the background. Failures are logged and
// counted, never returned.
type Notifier struct {
	sender  Sender
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewNotifier(sender Sender, logger *zap.Logger) *Notifier {
	if sender == nil {
		sender = Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: sender, logger: logger.Named("notify"), timeout: 15 * time.Second}
}

func (n *Notifier) Text(phones []string, body string) {
	n.dispatch(phones, func(ctx context.Context, phone string) error {
		return n.sender.SendText(ctx, phone, body)
	})
}

func (n *Notifier) Template(phones []string, template string, params []string) {
	n.dispatch(phones, func(ctx context.Context, phone string) error {
		return n.sender.SendTemplate(ctx, phone, template, params)
	})
}

// Wait blocks until every dispatched message has been attempted.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) dispatch(phones []string, send func(ctx context.Context, phone string) error) {
	targets := uniquePhones(phones)
	if len(targets) == 0 {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		for _, phone := range targets {
			if err := send(ctx, phone); err != nil {
				metrics.NotificationFailures.Inc()
				n.logger.Warn("notification failed", zap.String("phone", phone), zap.Error(err))
			}
		}
	}()
}

func uniquePhones(phones []string) []string {
	seen := make(map[string]struct{}, len(phones))
	out := make([]string, 0, len(phones))
	for _, phone := range phones {
		phone = strings.TrimSpace(phone)
		if phone == "" {
			continue
		}
		if _, ok := seen[phone]; ok {
			continue
		}
		seen[phone] = struct{}{}
		out = append(out, phone)
	}
	return out
}

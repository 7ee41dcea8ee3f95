// Package notify delivers trainer notifications.
package notify

import (
	"context"
	"strings"

	"github.com/okian/workload/pkg/logger"
)

// LogNotifier writes notifications through the structured logger.
type LogNotifier struct {
	logger logger.Logger
}

// NewLogNotifier creates a notifier. A nil logger uses the global one.
func NewLogNotifier(l logger.Logger) *LogNotifier {
	if l == nil {
		l = logger.Get().Named("notifier")
	}
	return &LogNotifier{logger: l}
}

// Send logs one message.
func (n *LogNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.logger.Info(ctx, "notification sent",
		logger.String("to", to),
		logger.String("subject", subject),
		logger.Int("lines", strings.Count(body, "\n")+1),
		logger.String("body", body),
	)
	return nil
}

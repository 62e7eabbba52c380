// Package alert delivers operator notifications over webhook channels.
// The engine is fail-fast and unattended; when it tears itself down, the
// alert is the only signal an operator gets before the position sits
// unhedged.
package alert

import (
	"context"
	"sync"
	"time"

	"arb_engine/internal/core"
)

// Severity orders notifications for channel formatting.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Notification is one message fanned out to every channel.
type Notification struct {
	Severity  Severity
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers a notification to one destination.
type Channel interface {
	Send(ctx context.Context, n Notification) error
	Name() string
}

// Notifier fans notifications out to its channels. Channels are
// registered at bootstrap and never removed.
type Notifier struct {
	logger core.ILogger

	mu       sync.RWMutex
	channels []Channel
}

// NewNotifier creates an empty notifier.
func NewNotifier(logger core.ILogger) *Notifier {
	return &Notifier{logger: logger.WithField("component", "alert")}
}

// AddChannel registers a delivery channel.
func (n *Notifier) AddChannel(ch Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, ch)
	n.logger.Info("alert channel registered", "channel", ch.Name())
}

// Notify sends to every channel and waits for delivery. The caller is
// shutting down; blocking a few seconds here is the point.
func (n *Notifier) Notify(ctx context.Context, severity Severity, title, message string, fields map[string]string) {
	notification := Notification{
		Severity:  severity,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	n.mu.RLock()
	channels := make([]Channel, len(n.channels))
	copy(channels, n.channels)
	n.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range channels {
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := ch.Send(sendCtx, notification); err != nil {
				n.logger.Error("alert delivery failed", "channel", ch.Name(), "error", err.Error())
			}
		}()
	}
	wg.Wait()
}

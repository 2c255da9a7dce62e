// Package notify is the fire-and-forget alerting boundary. The engine never
// consumes a return value from a notification; failures are the backend's
// problem to log.
package notify

import (
	"log"
	"os"
)

// Urgency ranks a notification for the surfacing layer.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Notification is one alert for a human.
type Notification struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Urgency Urgency        `json:"urgency"`
	Data    map[string]any `json:"data,omitempty"`
}

// Notifier surfaces notifications. Implementations must not block the
// caller for long; the engine fires and forgets.
type Notifier interface {
	Notify(n Notification)
}

// LogNotifier writes notifications to a logger. It is the default backend.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a log-backed notifier. If logger is nil, a default
// stderr logger is used.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(notification Notification) {
	n.logger.Printf("%s [%s] %s: %s", notification.Urgency, notification.Type, notification.Title, notification.Message)
}

// Func adapts a function to the Notifier interface.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

package notify

import (
	"context"
	"log"
	"time"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notification struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Gateway delivers a notification to one channel.
type Gateway interface {
	Notify(ctx context.Context, n Notification) error
}

// LogGateway writes notifications to the process log.
type LogGateway struct{}

func (LogGateway) Notify(_ context.Context, n Notification) error {
	log.Printf("[notify] %s: %s - %s", n.Level, n.Title, n.Message)
	return nil
}

// Dispatcher fans a notification out to every gateway. Delivery failures are
// logged and never returned; a nil Dispatcher drops everything.
type Dispatcher struct {
	gateways []Gateway
}

func NewDispatcher(gateways ...Gateway) *Dispatcher {
	return &Dispatcher{gateways: gateways}
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if d == nil {
		return
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	for _, gw := range d.gateways {
		if err := gw.Notify(ctx, n); err != nil {
			log.Printf("[notify] WARN: %T failed to deliver %q: %v", gw, n.Title, err)
		}
	}
}

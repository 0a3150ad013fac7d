package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/civicrelay/civicrelay/internal/models"
)

// MessageHandler processes one inbound message and returns the reply text.
// The flow engine satisfies this.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg models.InboundMessage) (string, error)
}

// Router connects channel adapters to the message handler: every inbound
// message is handed to the engine and the reply is sent back on the adapter
// it arrived on.
type Router struct {
	handler  MessageHandler
	services []Service
	wg       sync.WaitGroup
}

// NewRouter creates a Router over the given adapters.
func NewRouter(handler MessageHandler, services ...Service) *Router {
	return &Router{handler: handler, services: services}
}

// Start starts every adapter and begins consuming its messages. It returns
// after startup; consumption continues until Stop or context cancellation.
func (r *Router) Start(ctx context.Context) error {
	for _, svc := range r.services {
		if err := svc.Start(ctx); err != nil {
			slog.Error("Router.Start: adapter start failed", "channel", svc.Channel(), "error", err)
			return err
		}
		r.wg.Add(1)
		go r.consume(ctx, svc)
		slog.Info("Router.Start: consuming channel", "channel", svc.Channel())
	}
	return nil
}

// Stop stops every adapter and waits for the consumers to drain.
func (r *Router) Stop() {
	for _, svc := range r.services {
		if err := svc.Stop(); err != nil {
			slog.Error("Router.Stop: adapter stop failed", "channel", svc.Channel(), "error", err)
		}
	}
	r.wg.Wait()
	slog.Info("Router.Stop: all consumers drained")
}

func (r *Router) consume(ctx context.Context, svc Service) {
	defer r.wg.Done()
	for {
		select {
		case msg, ok := <-svc.Messages():
			if !ok {
				slog.Debug("Router.consume: message channel closed", "channel", svc.Channel())
				return
			}
			r.handleOne(ctx, svc, msg)
		case <-ctx.Done():
			slog.Debug("Router.consume: context cancelled", "channel", svc.Channel())
			return
		}
	}
}

// handleOne runs one turn. Delivery failures are logged and dropped; retry
// is the transport's concern, not the router's.
func (r *Router) handleOne(ctx context.Context, svc Service, msg models.InboundMessage) {
	reply, err := r.handler.HandleMessage(ctx, msg)
	if err != nil {
		slog.Error("Router.handleOne: engine rejected message", "error", err, "channel", msg.Channel, "userID", msg.UserID)
		return
	}
	if reply == "" {
		return
	}
	if err := svc.SendMessage(ctx, msg.UserID, reply); err != nil {
		slog.Error("Router.handleOne: reply delivery failed", "error", err, "channel", msg.Channel, "userID", msg.UserID)
	}
}

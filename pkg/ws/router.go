package ws

import (
	"context"
	"encoding/json"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/validation"
)

// HandlerFunc processes one inbound event from a client.
type HandlerFunc func(ctx context.Context, c *Client, payload json.RawMessage) error

// Router dispatches inbound envelopes by event type. Handlers are
// registered once at startup; the map is read-only afterwards.
type Router struct {
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

func (r *Router) Handle(event string, fn HandlerFunc) {
	r.handlers[event] = fn
}

// Dispatch validates the envelope against the per-event rules and runs
// the registered handler. Malformed input is logged and dropped with
// no client notification; handler errors are reported back to the
// client as error events, never as dropped connections.
func (r *Router) Dispatch(ctx context.Context, c *Client, ev Event) {
	telemetry.EventsTotal.WithLabelValues(ev.Type).Inc()

	fn, ok := r.handlers[ev.Type]
	if !ok {
		logger.Warn("ws_unknown_event", "user", c.UserID, "type", ev.Type)
		telemetry.EventErrors.WithLabelValues(models.CodeBadState).Inc()
		return
	}

	if err := validation.CheckEvent(ev.Type, ev.Payload); err != nil {
		logger.Warn("ws_invalid_event", "user", c.UserID, "type", ev.Type, "error", err.Error())
		telemetry.EventErrors.WithLabelValues(models.CodeBadState).Inc()
		return
	}

	if err := fn(ctx, c, ev.Payload); err != nil {
		code := models.CodePersistence
		var ee models.ErrorEvent
		if asErrorEvent(err, &ee) {
			ee.Event = ev.Type
			telemetry.EventErrors.WithLabelValues(ee.Code).Inc()
			_ = c.Send(models.EvError, ee)
			return
		}
		logger.Error("ws_handler_error", "user", c.UserID, "type", ev.Type, "error", err.Error())
		telemetry.EventErrors.WithLabelValues(code).Inc()
		_ = c.Send(models.EvError, models.ErrorEvent{
			Code: code, Event: ev.Type, Message: "internal error",
		})
	}
}

func asErrorEvent(err error, out *models.ErrorEvent) bool {
	ee, ok := err.(*models.ErrorEvent)
	if ok {
		*out = *ee
	}
	return ok
}

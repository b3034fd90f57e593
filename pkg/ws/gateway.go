package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/call"
	"chatrelay/pkg/delivery"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
)

// Gateway upgrades HTTP requests to websocket sessions and wires every
// inbound event to the chat core. One Gateway serves all connections.
type Gateway struct {
	reg    *presence.Registry
	pipe   *delivery.Pipeline
	prop   *delivery.Propagator
	sum    *delivery.Synchronizer
	relay  *call.Relay
	router *Router

	upgrader     websocket.Upgrader
	historyLimit int
	eventRate    rate.Limit
	eventBurst   int
}

type GatewayOptions struct {
	// AllowedOrigins whitelists websocket origins; empty allows all,
	// for deployments fronted by a proxy that enforces origin itself.
	AllowedOrigins []string
	// HistoryLimit caps how many messages fetch-history returns.
	HistoryLimit int
	// EventRate and EventBurst bound per-connection inbound events.
	EventRate  float64
	EventBurst int
}

func NewGateway(reg *presence.Registry, pipe *delivery.Pipeline, prop *delivery.Propagator, sum *delivery.Synchronizer, relay *call.Relay, opts GatewayOptions) *Gateway {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 200
	}
	if opts.EventRate <= 0 {
		opts.EventRate = 50
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 100
	}
	g := &Gateway{
		reg:          reg,
		pipe:         pipe,
		prop:         prop,
		sum:          sum,
		relay:        relay,
		router:       NewRouter(),
		historyLimit: opts.HistoryLimit,
		eventRate:    rate.Limit(opts.EventRate),
		eventBurst:   opts.EventBurst,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	g.register()
	return g
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP handles the websocket upgrade. Identity comes from the
// user query parameter, asserted upstream by the fronting proxy.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromRequest(r)
	if userID == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "user", userID, "error", err.Error())
		return
	}
	c := NewClient(userID, conn)
	go c.WritePump()
	g.runSession(r.Context(), c)
}

// runSession owns one connection's lifecycle: register, replay durable
// queues, pump events, and tear everything down on disconnect.
func (g *Gateway) runSession(ctx context.Context, c *Client) {
	if prev := g.reg.Register(c.UserID, c); prev != nil {
		// a second login from the same user displaces the first
		_ = prev.Close()
		logger.Info("session_displaced", "user", c.UserID)
	}
	logger.Info("session_opened", "user", c.UserID)

	g.notifyPeers(c.UserID, models.EvPeerOnline)
	g.sendSummaries(c)
	if err := g.pipe.FlushMailbox(ctx, c.UserID, c); err != nil {
		logger.Warn("mailbox_flush_failed", "user", c.UserID, "error", err.Error())
	}
	if err := g.pipe.FlushSyncUpdates(ctx, c.UserID, c); err != nil {
		logger.Warn("sync_flush_failed", "user", c.UserID, "error", err.Error())
	}

	lim := rate.NewLimiter(g.eventRate, g.eventBurst)
	c.ReadPump(func(ev Event) {
		if !lim.Allow() {
			logger.Warn("ws_rate_limited", "user", c.UserID, "type", ev.Type)
			_ = c.Send(models.EvError, models.ErrorEvent{
				Code: models.CodeBadState, Event: ev.Type, Message: "rate limit exceeded",
			})
			return
		}
		g.router.Dispatch(ctx, c, ev)
	})

	if userID, ok := g.reg.Unregister(c); ok {
		g.relay.DropUser(userID)
		g.notifyPeers(userID, models.EvPeerOffline)
		logger.Info("session_closed", "user", userID)
	}
}

// notifyPeers tells every online user sharing a chat with userID about
// a presence change. Peers come from the summary index.
func (g *Gateway) notifyPeers(userID, event string) {
	sums, err := store.ListSummaries(userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("presence_fanout_failed", "user", userID, "error", err.Error())
		}
		return
	}
	seen := make(map[string]struct{}, len(sums))
	for _, s := range sums {
		if _, dup := seen[s.PeerID]; dup || s.PeerID == "" {
			continue
		}
		seen[s.PeerID] = struct{}{}
		if c, ok := g.reg.Resolve(s.PeerID); ok {
			_ = c.Send(event, map[string]any{"user_id": userID, "at": time.Now().Unix()})
		}
	}
}

func (g *Gateway) sendSummaries(c *Client) {
	sums, err := store.ListSummaries(c.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Warn("summaries_load_failed", "user", c.UserID, "error", err.Error())
		return
	}
	_ = c.Send(models.EvSummaries, map[string]any{"summaries": sums})
}

// register wires the dispatch table. Payload shapes mirror the wire
// contract in the event rules.
func (g *Gateway) register() {
	g.router.Handle(models.EvSendMessage, g.onSendMessage)
	g.router.Handle(models.EvReceiveAck, g.onReceiveAck)
	g.router.Handle(models.EvUpdateMessage, g.onUpdateMessage)
	g.router.Handle(models.EvFetchHistory, g.onFetchHistory)
	g.router.Handle(models.EvMarkRead, g.onMarkRead)
	g.router.Handle(models.EvDeleteChat, g.onDeleteChat)
	g.router.Handle(models.EvChatOpen, g.onChatOpen)
	g.router.Handle(models.EvChatClose, g.onChatClose)
	g.router.Handle(models.EvPresence, g.onPresence)
	g.router.Handle(models.EvCallInitiate, g.onCallInitiate)
	g.router.Handle(models.EvCallAccept, g.onCallAccept)
	g.router.Handle(models.EvCallReject, g.onCallReject)
	g.router.Handle(models.EvCallOffer, g.onCallOffer)
	g.router.Handle(models.EvCallAnswer, g.onCallAnswer)
	g.router.Handle(models.EvCallCandidate, g.onCallCandidate)
	g.router.Handle(models.EvCallEnd, g.onCallEnd)
}

func (g *Gateway) onSendMessage(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		ReceiverID string             `json:"receiver_id"`
		Type       models.MessageType `json:"type"`
		Body       string             `json:"body"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	_, err := g.pipe.Submit(ctx, c.UserID, req.ReceiverID, req.Type, req.Body)
	if err != nil {
		return &models.ErrorEvent{
			Code: models.CodePersistence, Message: "message not persisted", Payload: req,
		}
	}
	return nil
}

func (g *Gateway) onReceiveAck(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	_, err := g.pipe.Ack(ctx, c.UserID, req.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.ErrorEvent{Code: models.CodeNotFound, Message: "unknown message"}
	}
	return err
}

func (g *Gateway) onUpdateMessage(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		Message models.Message `json:"message"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	_, err := g.prop.ApplyUpdate(ctx, c.UserID, req.Message)
	if errors.Is(err, delivery.ErrUnknownMessage) {
		return &models.ErrorEvent{Code: models.CodeNotFound, Message: "unknown message"}
	}
	return err
}

func (g *Gateway) onFetchHistory(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		ChatID string `json:"chat_id"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	limit := req.Limit
	if limit <= 0 || limit > g.historyLimit {
		limit = g.historyLimit
	}
	msgs, err := store.ListChatMessages(req.ChatID, limit)
	if err != nil {
		return err
	}
	// hide messages the requester deleted for themselves
	out := msgs[:0]
	for _, m := range msgs {
		if m.DeletedForUser(c.UserID) && !m.DeletedForEveryone() {
			continue
		}
		out = append(out, m)
	}
	return c.Send(models.EvHistory, map[string]any{"chat_id": req.ChatID, "messages": out})
}

func (g *Gateway) onMarkRead(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	return g.sum.MarkRead(c.UserID, req.ChatID)
}

func (g *Gateway) onDeleteChat(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	return g.sum.DeleteChat(c.UserID, req.ChatID)
}

func (g *Gateway) onChatOpen(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	g.reg.SetActiveChat(c.UserID, req.ChatID)
	return g.sum.MarkRead(c.UserID, req.ChatID)
}

func (g *Gateway) onChatClose(ctx context.Context, c *Client, payload json.RawMessage) error {
	g.reg.SetActiveChat(c.UserID, "")
	return nil
}

func (g *Gateway) onPresence(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	online, lastSeen := g.reg.Presence(req.UserID)
	out := models.UserPresence{UserID: req.UserID, Online: online}
	if !lastSeen.IsZero() {
		out.LastSeen = lastSeen.Unix()
	}
	return c.Send(models.EvPresence, out)
}

func (g *Gateway) onCallInitiate(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		CalleeID string `json:"callee_id"`
		CallType string `json:"call_type"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	callID, err := g.relay.Initiate(c.UserID, req.CalleeID, req.CallType)
	if errors.Is(err, call.ErrOffline) {
		telemetry.EventErrors.WithLabelValues(models.CodeOffline).Inc()
		return &models.ErrorEvent{Code: models.CodeOffline, Message: "callee offline"}
	}
	if err != nil {
		return err
	}
	return c.Send(models.EvCallRinging, map[string]string{
		"call_id": callID, "callee_id": req.CalleeID, "call_type": req.CallType,
	})
}

func (g *Gateway) callOp(fn func(callID, userID string) error, c *Client, payload json.RawMessage) error {
	var req struct {
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	return mapCallErr(fn(req.CallID, c.UserID))
}

func mapCallErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, call.ErrNotFound):
		return &models.ErrorEvent{Code: models.CodeNotFound, Message: "unknown call"}
	case errors.Is(err, call.ErrBadState):
		return &models.ErrorEvent{Code: models.CodeBadState, Message: "call not in a valid state"}
	case errors.Is(err, call.ErrOffline):
		return &models.ErrorEvent{Code: models.CodeOffline, Message: "peer unreachable"}
	default:
		return err
	}
}

func (g *Gateway) onCallAccept(ctx context.Context, c *Client, payload json.RawMessage) error {
	return g.callOp(g.relay.Accept, c, payload)
}

func (g *Gateway) onCallReject(ctx context.Context, c *Client, payload json.RawMessage) error {
	return g.callOp(g.relay.Reject, c, payload)
}

func (g *Gateway) onCallEnd(ctx context.Context, c *Client, payload json.RawMessage) error {
	return g.callOp(g.relay.End, c, payload)
}

func (g *Gateway) onCallOffer(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		CallID string          `json:"call_id"`
		SDP    json.RawMessage `json:"sdp"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	return mapCallErr(g.relay.Offer(req.CallID, c.UserID, req.SDP))
}

func (g *Gateway) onCallAnswer(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		CallID string          `json:"call_id"`
		SDP    json.RawMessage `json:"sdp"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	return mapCallErr(g.relay.Answer(req.CallID, c.UserID, req.SDP))
}

func (g *Gateway) onCallCandidate(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req struct {
		CallID    string          `json:"call_id"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	return mapCallErr(g.relay.Candidate(req.CallID, c.UserID, req.Candidate))
}

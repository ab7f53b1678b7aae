package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/efreitasn/seathold/internal/domain"
	"github.com/efreitasn/seathold/internal/observability"
	"github.com/efreitasn/seathold/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

// GatewayConfig holds the websocket connection limits.
type GatewayConfig struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

// pingPeriod must stay below PongWait so a healthy peer never times out.
func (c GatewayConfig) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// Gateway accepts websocket connections and relays between them and the
// HoldService. It holds no hold state of its own.
type Gateway struct {
	holdSvc  *service.HoldService
	hub      *service.Broadcaster
	validate *validator.Validate
	cfg      GatewayConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewGateway creates a new Gateway.
func NewGateway(
	holdSvc *service.HoldService,
	hub *service.Broadcaster,
	validate *validator.Validate,
	cfg GatewayConfig,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		holdSvc:  holdSvc,
		hub:      hub,
		validate: validate,
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeWS handles GET /ws. The connection outlives the request: one
// goroutine reads and dispatches, one drains the subscriber queue.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		g.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := service.NewSubscriber(g.cfg.SendBuffer)
	if !g.hub.Register(sub) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(g.cfg.WriteWait))
		_ = conn.Close()
		return
	}

	g.logger.Debug("connection opened",
		slog.String("subscriber_id", sub.ID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	go g.writePump(conn, sub)
	go g.readPump(ctx, cancel, conn, sub)
}

// readPump dispatches inbound frames until the peer goes away. Leaving does
// not release any hold: holds belong to users, not connections.
func (g *Gateway) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *service.Subscriber) {
	defer func() {
		cancel()
		g.hub.Unregister(sub)
		_ = conn.Close()
		g.logger.Debug("connection closed", slog.String("subscriber_id", sub.ID))
	}()

	conn.SetReadLimit(g.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("connection read failed",
					slog.String("subscriber_id", sub.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if err := g.dispatch(ctx, sub, raw); err != nil {
			g.logger.Debug("message dropped",
				slog.String("subscriber_id", sub.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
// A closed queue means the hub dropped the subscriber.
func (g *Gateway) writePump(conn *websocket.Conn, sub *service.Subscriber) {
	ticker := time.NewTicker(g.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch runs one inbound message. Malformed or unknown messages return an
// error for the caller to log; nothing is sent back to the client for them.
func (g *Gateway) dispatch(ctx context.Context, sub *service.Subscriber, raw []byte) error {
	var env service.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}

	switch env.Event {
	case service.EventJoin, service.EventLeave:
		var p service.ShowtimePayload
		if err := g.decode(env.Data, &p); err != nil {
			return err
		}
		if env.Event == service.EventJoin {
			g.holdSvc.Join(ctx, sub, p.ShowtimeID)
		} else {
			g.holdSvc.Leave(sub, p.ShowtimeID)
		}
		return nil

	case service.EventHold, service.EventRenew:
		var p service.SeatPayload
		if err := g.decode(env.Data, &p); err != nil {
			observability.HoldsDenied.WithLabelValues(observability.DeniedInvalid).Inc()
			return err
		}
		var outcome domain.HoldOutcome
		if env.Event == service.EventHold {
			_, outcome = g.holdSvc.RequestHold(ctx, p.ShowtimeID, p.Code, p.UserID)
		} else {
			_, outcome = g.holdSvc.Renew(ctx, p.ShowtimeID, p.Code, p.UserID)
		}
		if outcome == domain.HoldDenied {
			g.holdSvc.Deny(sub, p.ShowtimeID, p.Code)
		}
		return nil

	case service.EventRelease:
		var p service.SeatPayload
		if err := g.decode(env.Data, &p); err != nil {
			return err
		}
		g.holdSvc.Release(p.ShowtimeID, p.Code, p.UserID)
		return nil

	case "":
		return fmt.Errorf("%w: missing event", domain.ErrMalformedMessage)

	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEvent, env.Event)
	}
}

// decode unmarshals a payload and validates it.
func (g *Gateway) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", domain.ErrMalformedMessage)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if err := g.validate.Struct(v); err != nil {
		return errors.Join(domain.ErrMalformedMessage, toValidationError(err))
	}
	return nil
}

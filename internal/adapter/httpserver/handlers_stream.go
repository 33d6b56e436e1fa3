package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/realtydesk/internal/broadcast"
	"github.com/pscheid92/realtydesk/internal/domain"
)

func (s *Server) handleNotificationStream(c echo.Context) error {
	return s.serveSSE(c, s.streams.Notifications, domain.UserKey(currentUser(c).ID))
}

func (s *Server) handleVerificationStream(c echo.Context) error {
	return s.serveSSE(c, s.streams.Verification, domain.UserKey(currentUser(c).ID))
}

func (s *Server) handleAdminAlertStream(c echo.Context) error {
	return s.serveSSE(c, s.streams.AdminAlerts, domain.UserKey(currentUser(c).ID))
}

func (s *Server) handleNotificationSocket(c echo.Context) error {
	return s.serveWebSocket(c, s.streams.Notifications, domain.UserKey(currentUser(c).ID))
}

// admitStream takes a connection slot for the client. When it returns false
// the refusal has already been written.
func (s *Server) admitStream(c echo.Context) (release func(), admitted bool, err error) {
	ip := c.RealIP()
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		s.rejections.StreamRejected(string(reason))
		slog.WarnContext(c.Request().Context(), "Stream connection refused", "ip", ip, "reason", reason)
		return nil, false, tooManyStreams(c, string(reason))
	}
	return func() { s.limits.Release(ip) }, true, nil
}

func tooManyStreams(c echo.Context, reason string) error {
	return c.JSON(http.StatusTooManyRequests, map[string]string{
		"error":  "too many stream connections",
		"reason": reason,
	})
}

// serveSSE holds the request open until the client leaves, the stream is
// closed server-side or a write fails.
func (s *Server) serveSSE(c echo.Context, registry *broadcast.Registry, key domain.RecipientKey) error {
	release, admitted, err := s.admitStream(c)
	if !admitted {
		return err
	}
	defer release()

	stream := broadcast.NewStream(registry, key, broadcast.NewSSESink(c.Response()), s.streamOptions...)
	err = stream.Serve(c.Request().Context())

	switch {
	case err == nil:
		return nil
	case errors.Is(err, broadcast.ErrTooManyStreams):
		s.rejections.StreamRejected(string(LimitReasonPerRecipient))
		return tooManyStreams(c, string(LimitReasonPerRecipient))
	default:
		// Headers are already out; the error is only worth a log line.
		slog.DebugContext(c.Request().Context(), "SSE stream ended", "category", registry.Category(), "error", err)
		return nil
	}
}

func (s *Server) serveWebSocket(c echo.Context, registry *broadcast.Registry, key domain.RecipientKey) error {
	release, admitted, err := s.admitStream(c)
	if !admitted {
		return err
	}
	defer release()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "error", err)
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	sink := broadcast.NewWebSocketSink(conn)
	go sink.WatchPeer(cancel)

	stream := broadcast.NewStream(registry, key, sink, s.streamOptions...)
	err = stream.Serve(ctx)

	switch {
	case err == nil:
	case errors.Is(err, broadcast.ErrTooManyStreams):
		s.rejections.StreamRejected(string(LimitReasonPerRecipient))
		_ = sink.Close(broadcast.ReasonRejected)
	case errors.Is(err, broadcast.ErrStreamClosed):
		_ = sink.Close(stream.Reason())
	default:
		slog.DebugContext(ctx, "WebSocket stream ended", "category", registry.Category(), "error", err)
	}
	return nil
}

// handleStreamStats reports live connection counts per registry.
func (s *Server) handleStreamStats(c echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]any{
		"streams":     s.streamStats(),
		"connections": s.limits.Current(),
	})
}

func (s *Server) streamStats() []broadcast.Stats {
	stats := []broadcast.Stats{}
	for _, r := range s.streams.all() {
		if r != nil {
			stats = append(stats, r.Stats())
		}
	}
	return stats
}

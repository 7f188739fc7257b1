package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/app"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/session"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
)

// HandleApp upgrades an app server connection and runs its read pump.
//
// Apps connect back after a session webhook wakes them. The first frame
// must be an app_connection_init naming the session, the package and a
// valid API key; only then is the socket bound to the app's lifecycle
// controller.
func (h *Handler) HandleApp(c *gin.Context) {
	ctx := c.Request.Context()

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("app upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	h.metrics.IncWSConnections("app")
	defer h.metrics.DecWSConnections("app")

	conn := newConn(ws, "app", h.metrics)
	ws.SetReadLimit(maxFrameBytes)
	ws.SetReadDeadline(time.Now().Add(initTimeout))

	init, ok := h.readAppInit(conn)
	if !ok {
		return
	}
	log := h.log.With(logging.App(init.PackageName), logging.Session(init.SessionID))

	meta, err := h.apps.Authenticate(ctx, init.PackageName, init.APIKey)
	if err != nil {
		log.Warn("app key rejected", zap.Error(err))
		h.refuseApp(conn, protocol.ErrCodeInvalidAPIKey, "package name and API key do not match")
		return
	}

	sess, ok := h.sessions.GetBySessionID(init.SessionID)
	if !ok {
		log.Warn("app named unknown session")
		h.refuseApp(conn, protocol.ErrCodeSessionNotFound, "session not found")
		return
	}

	if err := sess.OnAppConnection(init.PackageName, conn); err != nil {
		log.Warn("app registration refused", zap.Error(err))
		code := protocol.ErrCodeInternalError
		if errors.Is(err, app.ErrNotStarted) {
			code = protocol.ErrCodeAppNotStarted
		}
		h.refuseApp(conn, code, err.Error())
		return
	}

	// The lifecycle controller owns the socket now.
	ws.SetReadDeadline(time.Time{})

	settings, err := sess.Settings(ctx)
	if err != nil {
		log.Warn("settings lookup failed, acking without them", zap.Error(err))
		settings = nil
	}
	ack := protocol.AppConnectionAck{
		BaseMessage:  protocol.Base(protocol.TypeAppConnectionAck),
		Settings:     settings,
		Capabilities: sess.Capabilities(),
	}
	if err := conn.Send(ack); err != nil {
		log.Warn("app ack failed", zap.Error(err))
		sess.OnAppDisconnect(init.PackageName, conn)
		return
	}
	log.Info("app connected", zap.String("appName", meta.Name))

	h.appPump(ctx, sess, init.PackageName, conn, log)
}

// readAppInit reads and validates the opening frame.
func (h *Handler) readAppInit(conn *Conn) (protocol.AppConnectionInit, bool) {
	var init protocol.AppConnectionInit

	_, data, err := conn.ws.ReadMessage()
	if err != nil {
		h.log.Debug("app closed before handshake", zap.Error(err))
		return init, false
	}
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		h.refuseApp(conn, protocol.ErrCodeMalformedMessage, "malformed handshake frame")
		return init, false
	}
	if env.Type != protocol.TypeAppConnectionInit {
		h.refuseApp(conn, protocol.ErrCodeMalformedMessage, "expected app_connection_init")
		return init, false
	}
	if err := env.Decode(&init); err != nil {
		h.refuseApp(conn, protocol.ErrCodeMalformedMessage, "malformed app_connection_init")
		return init, false
	}
	if init.PackageName == "" || init.SessionID == "" {
		h.refuseApp(conn, protocol.ErrCodeMalformedMessage, "app_connection_init missing package name or session id")
		return init, false
	}
	return init, true
}

func (h *Handler) refuseApp(conn *Conn, code protocol.ErrorCode, msg string) {
	_ = conn.Send(protocol.AppConnectionError{
		BaseMessage: protocol.Base(protocol.TypeAppConnectionError),
		Code:        code,
		Message:     msg,
	})
	_ = conn.Close(protocol.CloseNormal, string(code))
}

// appPump reads frames until the socket dies, handing each message to
// the session under the authenticated package name.
func (h *Handler) appPump(ctx context.Context, sess *session.Session, packageName string, conn *Conn, log *logging.Logger) {
	defer sess.OnAppDisconnect(packageName, conn)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			log.Debug("app read loop ended", zap.Error(err))
			return
		}

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			log.Debug("undecodable app frame", zap.Error(err))
			continue
		}
		h.metrics.RecordWSMessage("app", "in", string(env.Type))

		msg, err := env.Message()
		if err != nil {
			log.Debug("unreadable app message",
				zap.String("messageType", string(env.Type)), zap.Error(err))
			continue
		}
		h.dispatchApp(ctx, sess, packageName, conn, log, string(env.Type), msg)
	}
}

// dispatchApp hands one message to the session. A panicking handler
// loses its message, not the connection: the panic is logged and the
// app gets a best-effort error frame.
func (h *Handler) dispatchApp(ctx context.Context, sess *session.Session, packageName string, conn *Conn, log *logging.Logger, msgType string, msg any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("app handler panicked",
				zap.String("messageType", msgType),
				zap.Any("panic", r),
				zap.Stack("stack"))
			_ = conn.Send(protocol.AppConnectionError{
				BaseMessage: protocol.Base(protocol.TypeAppConnectionError),
				Code:        protocol.ErrCodeInternalError,
				Message:     "internal error handling " + msgType,
			})
		}
	}()

	if err := sess.HandleAppMessage(ctx, packageName, msg); err != nil {
		log.Warn("app message failed",
			zap.String("messageType", msgType), zap.Error(err))
	}
}

package ws

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/session"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
)

// HandleDevice upgrades a glasses connection and runs its read pump.
//
// The handshake is strict: the first frame must be a connection_init
// carrying a valid token. After the ack the session owns liveness via
// ping/pong heartbeats, so the read deadline is lifted.
func (h *Handler) HandleDevice(c *gin.Context) {
	ctx := c.Request.Context()

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("device upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	h.metrics.IncWSConnections("device")
	defer h.metrics.DecWSConnections("device")

	conn := newConn(ws, "device", h.metrics)
	ws.SetReadLimit(maxFrameBytes)
	ws.SetReadDeadline(time.Now().Add(initTimeout))

	init, ok := h.readDeviceInit(conn)
	if !ok {
		return
	}

	userID, err := h.verifier.Verify(ctx, init.Token)
	if err != nil {
		h.log.Warn("device token rejected", zap.Error(err))
		h.refuseDevice(conn, protocol.ErrCodeInvalidToken, "token verification failed")
		return
	}

	sess, resumed, err := h.sessions.CreateOrResume(ctx, userID, conn, init.DeviceModel, init.Capabilities)
	if err != nil {
		h.log.Warn("session create failed", logging.User(userID), zap.Error(err))
		h.refuseDevice(conn, protocol.ErrCodeInternalError, "session unavailable")
		return
	}

	// Heartbeats take over from here.
	ws.SetReadDeadline(time.Time{})
	ws.SetPongHandler(func(string) error {
		sess.OnDevicePong(conn)
		return nil
	})

	ack := protocol.ConnectionAck{
		BaseMessage: protocol.Base(protocol.TypeConnectionAck),
		SessionID:   sess.ID().String(),
		UserID:      userID,
		Resumed:     resumed,
		Session:     sess.Snapshot(ctx),
	}
	if err := conn.Send(ack); err != nil {
		h.log.Warn("device ack failed", logging.User(userID), zap.Error(err))
		sess.OnDeviceDisconnect(conn)
		return
	}

	log := h.log.With(logging.User(userID), logging.Session(sess.ID().String()))
	log.Info("device connected",
		zap.String("deviceModel", init.DeviceModel),
		zap.Bool("resumed", resumed))

	// App starts hit webhooks; keep them off the handshake path.
	go sess.OnDeviceReady(context.Background(), resumed)

	h.devicePump(ctx, sess, conn, log)
}

// readDeviceInit reads and validates the opening frame.
func (h *Handler) readDeviceInit(conn *Conn) (protocol.ConnectionInit, bool) {
	var init protocol.ConnectionInit

	_, data, err := conn.ws.ReadMessage()
	if err != nil {
		h.log.Debug("device closed before handshake", zap.Error(err))
		return init, false
	}
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		h.refuseDevice(conn, protocol.ErrCodeMalformedMessage, "malformed handshake frame")
		return init, false
	}
	if env.Type != protocol.TypeConnectionInit {
		h.refuseDevice(conn, protocol.ErrCodeMalformedMessage, "expected connection_init")
		return init, false
	}
	if err := env.Decode(&init); err != nil {
		h.refuseDevice(conn, protocol.ErrCodeMalformedMessage, "malformed connection_init")
		return init, false
	}
	return init, true
}

func (h *Handler) refuseDevice(conn *Conn, code protocol.ErrorCode, msg string) {
	_ = conn.Send(protocol.ConnectionError{
		BaseMessage: protocol.Base(protocol.TypeConnectionError),
		Code:        code,
		Message:     msg,
	})
	_ = conn.Close(protocol.CloseNormal, string(code))
}

// devicePump reads frames until the socket dies, handing each message
// to the session. Decode failures skip the frame, not the connection.
func (h *Handler) devicePump(ctx context.Context, sess *session.Session, conn *Conn, log *logging.Logger) {
	defer sess.OnDeviceDisconnect(conn)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			log.Debug("device read loop ended", zap.Error(err))
			return
		}

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			log.Debug("undecodable device frame", zap.Error(err))
			continue
		}
		h.metrics.RecordWSMessage("device", "in", string(env.Type))

		msg, err := env.Message()
		if err != nil {
			log.Debug("unreadable device message",
				zap.String("messageType", string(env.Type)), zap.Error(err))
			continue
		}
		h.dispatchDevice(ctx, sess, conn, log, string(env.Type), msg)
	}
}

// dispatchDevice hands one message to the session. A panicking handler
// loses its message, not the connection: the panic is logged and the
// device gets a best-effort error frame.
func (h *Handler) dispatchDevice(ctx context.Context, sess *session.Session, conn *Conn, log *logging.Logger, msgType string, msg any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("device handler panicked",
				zap.String("messageType", msgType),
				zap.Any("panic", r),
				zap.Stack("stack"))
			_ = conn.Send(protocol.ConnectionError{
				BaseMessage: protocol.Base(protocol.TypeConnectionError),
				Code:        protocol.ErrCodeInternalError,
				Message:     "internal error handling " + msgType,
			})
		}
	}()

	if err := sess.HandleDeviceMessage(ctx, msg); err != nil {
		log.Warn("device message failed",
			zap.String("messageType", msgType), zap.Error(err))
	}
}

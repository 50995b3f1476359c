package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/core/types"
	"github.com/vango-go/vai-voice/pkg/gateway/live/protocol"
)

type Options struct {
	Config Config
	Logger *slog.Logger
	Now    func() time.Time
	// SessionID attaches the connection to an existing session instead of
	// creating one.
	SessionID string
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// Serve runs one connection until its session ends or the connection drops.
// Losing the connection, or a client too slow to drain the writer, ends the
// session with reason connection_closed.
func Serve(ctx context.Context, conn *websocket.Conn, m *session.Manager, opts Options) error {
	cfg := opts.Config.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	w := NewWriter(conn, cfg, logger)
	sess, err := open(ctx, m, opts.SessionID, w)
	if err != nil {
		reject(conn, cfg, err)
		return err
	}
	logger = logger.With("session_id", sess.ID())

	conn.SetReadLimit(cfg.MaxMessageBytes)
	if cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		})
	}

	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()
	writerErr := make(chan error, 1)
	go func() { writerErr <- w.Run(writerCtx) }()

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	reads := make(chan inboundFrame, 16)
	go readLoop(readCtx, conn, reads)

	limiter := newInboundLimiter(now, cfg.InboundFPS, cfg.InboundBytesPerSecond, cfg.InboundBurstSeconds)

	for {
		select {
		case <-sess.Done():
			sess.Detach(w)
			return drain(w, writerErr, stopWriter, cfg)
		case <-w.Overflowed():
			endOnDisconnect(m, sess, logger)
			sess.Detach(w)
			return drain(w, writerErr, stopWriter, cfg)
		case err := <-writerErr:
			logger.Debug("live write failed", "error", err)
			endOnDisconnect(m, sess, logger)
			_ = conn.Close()
			return err
		case f, ok := <-reads:
			if !ok || f.err != nil {
				if f.err != nil && !websocket.IsCloseError(f.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("live read ended", "error", f.err)
				}
				endOnDisconnect(m, sess, logger)
				sess.Detach(w)
				return drain(w, writerErr, stopWriter, cfg)
			}
			handleFrame(ctx, sess, limiter, f)
		}
	}
}

func open(ctx context.Context, m *session.Manager, sessionID string, w *Writer) (*session.Session, error) {
	if sessionID == "" {
		return m.Create(ctx, session.CreateOptions{Sink: w})
	}
	sess, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Attach(ctx, w); err != nil {
		return nil, err
	}
	return sess, nil
}

// reject writes one error event and closes a connection that never got a
// session.
func reject(conn *websocket.Conn, cfg Config, err error) {
	ev := events.FromError(err, core.CodeInternal, "gateway", "open_session")
	payload, encErr := protocol.Encode(events.Outbound{
		Type:      events.TypeError,
		Timestamp: time.Now(),
		Data:      ev,
	})
	deadline := time.Now().Add(cfg.WriteTimeout)
	if encErr == nil {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(ev.ErrorCode)), deadline)
	_ = conn.Close()
}

func readLoop(ctx context.Context, conn *websocket.Conn, out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

func handleFrame(ctx context.Context, sess *session.Session, limiter *inboundLimiter, f inboundFrame) {
	if !limiter.Allow(len(f.data)) {
		_ = sess.Send(ctx, "", session.Rejected{Event: events.ErrorEvent{
			ErrorCode:     core.CodeRateLimited,
			Message:       "inbound frame rate exceeded; frame dropped",
			RetryPossible: true,
			Context:       events.ErrorContext{Component: "gateway", Operation: "read"},
		}})
		return
	}
	if f.messageType != websocket.TextMessage {
		_ = sess.Send(ctx, "", session.Rejected{Event: (&protocol.DecodeError{
			Code:    core.CodeValidationMalformed,
			Message: "binary frames are not supported",
		}).Event()})
		return
	}

	msg, err := protocol.Decode(f.data, sess.ID())
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			_ = sess.Send(ctx, "", session.Rejected{Event: de.Event()})
		}
		return
	}
	_ = sess.Send(ctx, msg.CorrelationID, msg.Input)
}

func endOnDisconnect(m *session.Manager, sess *session.Session, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.End(ctx, sess.ID(), types.EndConnectionClosed); err != nil && !errors.Is(err, core.ErrSessionAlreadyEnded) {
		logger.Warn("ending session after disconnect failed", "error", err)
	}
}

// drain lets the writer finish what the session queued, then closes.
func drain(w *Writer, writerErr <-chan error, stopWriter context.CancelFunc, cfg Config) error {
	w.Close()
	timer := time.NewTimer(2 * cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case err := <-writerErr:
		return err
	case <-timer.C:
		stopWriter()
		return <-writerErr
	}
}

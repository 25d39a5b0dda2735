package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/cardscan/internal/orchestrator"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

// Message types.
type Message struct {
	Type    string `json:"type"`
	TraceID string `json:"trace_id,omitempty"`
}

// StateMessage mirrors a pipeline state change. Result is set when the
// change ends an attempt.
type StateMessage struct {
	Type      string               `json:"type"`
	State     orchestrator.State   `json:"state"`
	Result    *orchestrator.Result `json:"result,omitempty"`
	ScanCount int                  `json:"scanCount"`
	At        time.Time            `json:"at"`
}

type StatusMessage struct {
	Type string `json:"type"`
	orchestrator.Status
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := trace.Logger(ctx)
	ip := clientIP(r)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	events, unsubscribe := s.pipeline.Subscribe(WSEventBuffer)
	defer unsubscribe()

	out := make(chan any, WSEventBuffer)
	go s.writeLoop(ctx, cancel, conn, events, out)
	out <- StatusMessage{Type: "status", Status: s.pipeline.Status()}

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !s.limiter.allow(ip) {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			send(out, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			send(out, ErrorMessage{Type: "error", Message: "invalid message"})
			continue
		}
		cmdCtx := ctx
		if tc, ok := trace.ExtractFromJSON(raw); ok {
			cmdCtx = trace.WithContext(ctx, tc)
		}
		s.handleCommand(cmdCtx, out, msg)
	}
}

func (s *Server) handleCommand(ctx context.Context, out chan<- any, msg Message) {
	log := trace.Logger(ctx)
	switch msg.Type {
	case "start", "stop":
		if !s.pipeline.SetDetecting(msg.Type == "start") {
			send(out, ErrorMessage{Type: "error", Message: "no camera configured"})
			return
		}
		log.Info("detector toggled over websocket", "command", msg.Type)
		send(out, StatusMessage{Type: "status", Status: s.pipeline.Status()})
	case "reset":
		s.pipeline.Reset()
		send(out, StatusMessage{Type: "status", Status: s.pipeline.Status()})
	case "status":
		send(out, StatusMessage{Type: "status", Status: s.pipeline.Status()})
	default:
		send(out, ErrorMessage{Type: "error", Message: "unknown command " + msg.Type})
	}
}

// writeLoop is the only writer on conn. It forwards pipeline events and
// command replies until ctx ends or a write fails.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, events <-chan orchestrator.Event, out <-chan any) {
	defer cancel()
	for {
		var msg any
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			msg = StateMessage{Type: "state", State: ev.State, Result: ev.Result, ScanCount: ev.ScanCount, At: ev.At}
		case msg = <-out:
		}

		wctx, wcancel := context.WithTimeout(ctx, WSWriteTimeout)
		err := wsjson.Write(wctx, conn, msg)
		wcancel()
		if err != nil {
			trace.Logger(ctx).Debug("websocket write error", "error", err)
			return
		}
	}
}

// send queues a reply, dropping it when the client is not keeping up.
func send(out chan<- any, msg any) {
	select {
	case out <- msg:
	default:
	}
}

package remote

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/services/mlmodel"
)

// Server serves an mlmodel.Service to remote Clients over a websocket.
type Server struct {
	svc      mlmodel.Service
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewServer returns an http.Handler serving svc.
func NewServer(svc mlmodel.Service, logger logging.Logger) *Server {
	return &Server{svc: svc, logger: logger}
}

// ServeHTTP upgrades the connection and answers requests until the client goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debugw("closing websocket", "error", err)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugw("inference client went away", "error", err)
			}
			return
		}
		msg, err := json.Marshal(s.handle(r.Context(), data))
		if err != nil {
			s.logger.Errorw("encoding reply", "error", err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.logger.Debugw("writing reply", "error", err)
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, data []byte) reply {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return reply{Error: "malformed request: " + err.Error()}
	}
	rep := reply{ID: req.ID}
	switch req.Op {
	case opInfer:
		in, err := decodeTensors(req.Tensors)
		if err != nil {
			rep.Error = err.Error()
			return rep
		}
		out, err := s.svc.Infer(ctx, in)
		if err != nil {
			rep.Error = err.Error()
			return rep
		}
		if rep.Tensors, err = encodeTensors(out); err != nil {
			rep.Error = err.Error()
		}
	case opMetadata:
		md, err := s.svc.Metadata(ctx)
		if err != nil {
			rep.Error = err.Error()
			return rep
		}
		rep.Metadata = &md
	default:
		rep.Error = "unknown op " + req.Op
	}
	return rep
}

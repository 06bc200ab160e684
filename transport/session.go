package transport

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/swarmops/coordhub/bus"
	"github.com/swarmops/coordhub/distribute"
	coorderr "github.com/swarmops/coordhub/errors"
	"github.com/swarmops/coordhub/registry"
)

// session is one connected agent.
type session struct {
	gw   *Gateway
	conn *websocket.Conn

	// agent is adopted from the first register or heartbeat op and used
	// as the default caller identity afterwards.
	agent string

	send chan *Response
	done chan struct{}
}

func newSession(g *Gateway, conn *websocket.Conn) *session {
	conn.SetReadLimit(g.cfg.MaxMessageSize)
	return &session{
		gw:   g,
		conn: conn,
		send: make(chan *Response, g.cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

// run reads requests until the peer closes, with a write pump draining
// the send queue.
func (s *session) run() {
	go s.writePump()
	defer func() {
		close(s.done)
		s.conn.Close()
	}()

	for {
		var req Request
		if err := s.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.gw.log.Debug("connection dropped", map[string]interface{}{
					"agent": s.agent, "error": err.Error(),
				})
			}
			return
		}
		s.reply(s.handle(&req))
	}
}

func (s *session) reply(resp *Response) {
	select {
	case s.send <- resp:
	case <-s.done:
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.gw.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.gw.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case resp := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.gw.cfg.WriteTimeout))
			if err := s.conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}
}

// caller resolves the acting agent for a request.
func (s *session) caller(req *Request) string {
	if req.Agent != "" {
		return req.Agent
	}
	return s.agent
}

// handle executes one request against the coordinator.
func (s *session) handle(req *Request) *Response {
	coord := s.gw.coord

	switch req.Op {
	case OpRegister:
		if err := coord.Register(req.Agent, req.Capabilities, req.Resources); err != nil {
			return errResponse(req.Op, err)
		}
		s.agent = req.Agent
		return okResponse(req.Op, nil)

	case OpUnregister:
		agent := s.caller(req)
		if err := coord.Unregister(agent); err != nil {
			return errResponse(req.Op, err)
		}
		if agent == s.agent {
			s.agent = ""
		}
		return okResponse(req.Op, nil)

	case OpHeartbeat:
		agent := s.caller(req)
		if err := coord.Heartbeat(agent); err != nil {
			return errResponse(req.Op, err)
		}
		if s.agent == "" {
			s.agent = agent
		}
		return okResponse(req.Op, nil)

	case OpStatus:
		if err := coord.UpdateStatus(s.caller(req), registry.Status(req.Status), req.Workload); err != nil {
			return errResponse(req.Op, err)
		}
		return okResponse(req.Op, nil)

	case OpAgents:
		agents, err := coord.Agents(nil)
		if err != nil {
			return errResponse(req.Op, err)
		}
		return okResponse(req.Op, agents)

	case OpSubmit:
		if req.Task == nil {
			return errResponse(req.Op, coorderr.New(coorderr.CodeInvalidInput, "submit requires a task"))
		}
		assignment, err := coord.SubmitTask(distribute.TaskSpec{
			Type:          req.Task.Type,
			Required:      req.Task.Required,
			EstimatedLoad: req.Task.EstimatedLoad,
			Payload:       req.Task.Payload,
			Priority:      req.Task.Priority,
		})
		if err != nil {
			return errResponse(req.Op, err)
		}
		return okResponse(req.Op, assignment)

	case OpSend:
		id, err := coord.SendMessage(s.caller(req), req.To, bus.MessageType(req.Type), req.Payload, req.Priority)
		if err != nil {
			return errResponse(req.Op, err)
		}
		return okResponse(req.Op, map[string]string{"id": id})

	case OpReceive:
		msgs, err := coord.ReceiveMessages(s.caller(req), req.Limit)
		if err != nil {
			return errResponse(req.Op, err)
		}
		return okResponse(req.Op, msgs)

	case OpRequest:
		ttl := time.Duration(req.DurationSeconds) * time.Second
		lock, err := coord.RequestResource(s.caller(req), req.Kind, req.Amount, ttl)
		if err != nil {
			return errResponse(req.Op, err)
		}
		return okResponse(req.Op, lock)

	case OpRelease:
		if err := coord.ReleaseResource(req.LockID); err != nil {
			return errResponse(req.Op, err)
		}
		return okResponse(req.Op, nil)

	case OpMetrics:
		return okResponse(req.Op, coord.Metrics())

	default:
		return errResponse(req.Op, coorderr.Newf(coorderr.CodeInvalidInput, "unknown op %q", req.Op))
	}
}

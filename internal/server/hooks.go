package server

import (
	"net/http"
	"time"

	"github.com/chskio/chsk/internal/adapter"
	"github.com/chskio/chsk/internal/event"
	"github.com/chskio/chsk/internal/fanout"
	"github.com/chskio/chsk/internal/logger"
	"github.com/chskio/chsk/internal/registry"
)

func (s *Server) resolveUID(r *http.Request) string {
	if s.UserID == nil {
		return registry.NilUID
	}
	uid := registry.ResolveUID(s.UserID(r))
	if uid == "" {
		return registry.NilUID
	}
	return uid
}

func (s *Server) handshakeFrame(r *http.Request, uid string) event.Event {
	var data interface{}
	if s.HandshakeData != nil {
		data = s.HandshakeData(r, uid)
	}
	return event.Event{ID: event.Handshake, Data: []interface{}{uid, nil, data}}
}

// onOpen implements the "Ajax GET / WebSocket handshake handler" and the
// connection-establishment half of the "Ajax POST handler" from spec.md §4.F.
func (s *Server) onOpen(sch adapter.ServerChannel, isWebSocket bool, r *http.Request) interface{} {
	cid := r.URL.Query().Get("client-id")
	if cid == "" {
		logger.HTTP().Warn().Msg("chsk: request missing client-id reached onOpen")
		sch.Close()
		return nil
	}
	uid := s.resolveUID(r)
	cc := &connCtx{UID: uid, CID: cid}

	if !isWebSocket && r.Method == http.MethodPost {
		// The POST/send path never attaches to the registry; it is an
		// ephemeral request-reply exchange, not a standing connection.
		return cc
	}

	if isWebSocket {
		newlyConnected := s.reg.Attach(registry.WS, uid, cid, registry.Any, sch)
		cc.Attached = true
		if newlyConnected {
			s.dispatch(event.Msg{ClientID: cid, UID: uid, Event: event.Event{ID: event.UIDPortOpen, Data: uid}})
			if s.Mirror != nil {
				s.Mirror.OnUIDOpen(uid)
			}
		}
		packed, err := s.envelope.Write(s.handshakeFrame(r, uid).AsWire(), "")
		if err == nil {
			sch.Send(packed, true)
		}
		s.fan.StartKeepAlive()
		return cc
	}

	// Ajax GET: handshake bootstrap vs. an open long-poll.
	forceHandshake := r.URL.Query().Get("handshake?") == "true"
	_, existed := s.reg.EntryUDT(registry.Ajax, uid, cid)
	if forceHandshake || !existed {
		if !existed {
			// Record the client (with no channel) so its next GET is
			// treated as a long-poll rather than another handshake.
			s.reg.Attach(registry.Ajax, uid, cid, registry.Any, nil)
		}
		packed, err := s.envelope.Write(s.handshakeFrame(r, uid).AsWire(), "")
		if err == nil {
			sch.Send(packed, false)
		}
		return cc
	}

	newlyConnected := s.reg.Attach(registry.Ajax, uid, cid, registry.Any, sch)
	cc.Attached = true
	if newlyConnected {
		s.dispatch(event.Msg{ClientID: cid, UID: uid, Event: event.Event{ID: event.UIDPortOpen, Data: uid}})
		if s.Mirror != nil {
			s.Mirror.OnUIDOpen(uid)
		}
	}
	udt, ok := s.reg.EntryUDT(registry.Ajax, uid, cid)
	if ok {
		time.AfterFunc(s.cfg.LPTimeoutDuration(), func() {
			if !s.reg.StillAttached(registry.Ajax, uid, cid, sch, udt) {
				return
			}
			packed, err := s.envelope.Write(event.Event{ID: event.Timeout}.AsWire(), "")
			if err != nil {
				return
			}
			if sch.Send(packed, false) {
				s.reg.ClearSch(registry.Ajax, uid, cid, sch)
			}
		})
	}
	return cc
}

// onMessage implements the onMessage branch of spec.md §4.F, covering both
// frames received over an open WebSocket and the single packed event in an
// Ajax POST body.
func (s *Server) onMessage(sch adapter.ServerChannel, isWebSocket bool, packed string, ctx interface{}) {
	cc, ok := ctx.(*connCtx)
	if !ok || cc == nil {
		sch.Close()
		return
	}
	if isWebSocket {
		s.reg.Touch(registry.WS, cc.UID, cc.CID)
	}

	raw, cbUUID, ok := s.envelope.Read(packed)
	if !ok {
		logger.Security().Warn().Str("uid", cc.UID).Msg("chsk: failed to unpack payload")
		badPackage := event.Event{ID: event.BadPackage, Data: s.Sanitize(packed)}
		if !isWebSocket {
			// The HTTP response must still complete.
			if wire, err := s.envelope.Write(badPackage.AsWire(), ""); err == nil {
				sch.Send(wire, false)
			}
		}
		s.dispatch(event.Msg{ClientID: cc.CID, UID: cc.UID, Event: badPackage})
		return
	}

	ev := event.FromReceived(raw)

	if isWebSocket && ev.ID == event.WSPing {
		if cbUUID != "" {
			if wire, err := s.envelope.Write(event.CbPong, cbUUID); err == nil {
				sch.Send(wire, true)
			}
		}
		return
	}

	var reply event.ReplyFunc
	switch {
	case isWebSocket && cbUUID != "":
		reply = fanout.NewReplyFunc(sch, true, cbUUID, s.envelope)
	case !isWebSocket && cbUUID != "":
		// Ajax correlates by the HTTP response itself; the wire reply
		// carries no cb-uuid of its own.
		reply = fanout.NewReplyFunc(sch, false, "", s.envelope)
		timeoutReply := reply
		time.AfterFunc(s.cfg.LPTimeoutDuration(), func() { timeoutReply(event.CbTimeout) })
	case !isWebSocket:
		if wire, err := s.envelope.Write(event.Event{ID: event.CbDummyOK}.AsWire(), ""); err == nil {
			sch.Send(wire, false)
		}
	}

	s.dispatch(event.Msg{Request: nil, ClientID: cc.CID, UID: cc.UID, Event: ev, Reply: reply})
}

// onClose implements the onClose branch of spec.md §4.F: detach the sch
// and schedule the grace-close removal.
func (s *Server) onClose(sch adapter.ServerChannel, isWebSocket bool, status int, ctx interface{}) {
	cc, ok := ctx.(*connCtx)
	if !ok || cc == nil || !cc.Attached {
		return
	}
	transport := registry.Ajax
	grace := s.cfg.GraceAjaxDuration()
	if isWebSocket {
		transport = registry.WS
		grace = s.cfg.GraceWSDuration()
	}

	s.reg.Attach(transport, cc.UID, cc.CID, sch, nil)
	udt, ok := s.reg.EntryUDT(transport, cc.UID, cc.CID)
	if !ok {
		return
	}
	uid, cid := cc.UID, cc.CID
	time.AfterFunc(grace, func() {
		removed, leftAny := s.reg.Detach(transport, uid, cid, udt)
		if removed && leftAny {
			s.dispatch(event.Msg{ClientID: cid, UID: uid, Event: event.Event{ID: event.UIDPortClose, Data: uid}})
			if s.Mirror != nil {
				s.Mirror.OnUIDClose(uid)
			}
		}
	})
}

// onError logs; the subsequent onClose drives state per spec.md §4.F.
func (s *Server) onError(sch adapter.ServerChannel, isWebSocket bool, err error, ctx interface{}) {
	logger.WebSocket().Warn().Err(err).Bool("ws", isWebSocket).Msg("chsk: connection error")
}

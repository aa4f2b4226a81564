// Package ctlserver implements the control-plane transport a running
// daemon exposes for mrpctl-style clients: a unixgram socket carrying
// ctlproto-framed request/response datagrams, one per operation.
//
// Grounded on original_source/mrp.c's client_init/client_send_message
// (a SOCK_DGRAM AF_UNIX socket, the client bound to a private address so
// the server's reply can find it, abstract-namespace addressed via
// MRP_SERVER_SOCK_NAME) and server_cmds.c's CTL_init/CTL_cleanup
// lifecycle, adapted to the teacher's functional-options server
// constructor (internal/api.NewApiServer/Option) since this protocol is
// framed, as spec.md is explicit about, rather than HTTP.
package ctlserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/ringmrp/mrpd/internal/mrp/ctlproto"
)

// DefaultSockAddr is the abstract-namespace unixgram address the daemon
// listens on: the name "mrp_server" in the abstract namespace, with no
// filesystem entry, modeled on the original daemon's abstract
// MRP_SERVER_SOCK_NAME (".mrp_server") but without its leading dot. Go
// spells an abstract address with a leading "@".
const DefaultSockAddr = "@mrp_server"

// Handlers is the control-plane operation set a Server dispatches
// incoming requests to — satisfied by whatever owns the instance
// registry (CTL_addmrp/CTL_delmrp/CTL_getmrp in the original).
type Handlers interface {
	AddMRP(ctlproto.AddMRPRequest) error
	DelMRP(ctlproto.DelMRPRequest) error
	GetMRP() ctlproto.GetMRPResponse
}

// Option configures a Server, matching the teacher's ApiServer/Option
// convention.
type Option func(*Server)

func WithSockAddr(addr string) Option { return func(s *Server) { s.addr = addr } }
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// Server frames every request/response exchange as a ctlproto.Header
// plus a fixed-size payload over one unixgram socket.
type Server struct {
	addr string
	log  *slog.Logger
	h    Handlers

	conn *net.UnixConn
}

func New(h Handlers, opts ...Option) *Server {
	s := &Server{addr: DefaultSockAddr, log: slog.Default(), h: h}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Listen opens the unixgram socket. Callers must call Run afterwards to
// service requests and Close when done.
func (s *Server) Listen() error {
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: s.addr, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("ctlserver: listen %s: %w", s.addr, err)
	}
	s.conn = conn
	return nil
}

func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Run reads request datagrams and writes a reply datagram back to each
// sender until ctx is cancelled or the socket fails, mirroring
// client_send_message's one-request/one-reply-datagram exchange.
func (s *Server) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, ctlproto.HeaderLen+ctlproto.GetMRPResponseLen)
	for {
		n, addr, err := s.conn.ReadFromUnix(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("ctlserver: read: %w", err)
			}
		}
		resp := s.dispatch(buf[:n])
		if addr == nil {
			continue
		}
		if _, err := s.conn.WriteToUnix(resp, addr); err != nil {
			s.log.Warn("ctlserver: reply failed", "error", err)
		}
	}
}

func (s *Server) dispatch(in []byte) []byte {
	hdr, err := ctlproto.DecodeHeader(in)
	if err != nil {
		return ctlproto.EncodeHeader(ctlproto.Header{Res: -1})
	}
	body := in[ctlproto.HeaderLen:]
	if len(body) < int(hdr.Lin) {
		return s.errReply(hdr.Cmd)
	}
	body = body[:hdr.Lin]

	switch hdr.Cmd {
	case ctlproto.CmdAddMRP:
		req, err := ctlproto.DecodeAddMRPRequest(body)
		if err != nil {
			return s.errReply(hdr.Cmd)
		}
		res := int32(0)
		if err := s.h.AddMRP(req); err != nil {
			s.log.Warn("ctlserver: addmrp failed", "error", err)
			res = -1
		}
		return ctlproto.EncodeHeader(ctlproto.Header{Cmd: hdr.Cmd, Res: res})

	case ctlproto.CmdDelMRP:
		req, err := ctlproto.DecodeDelMRPRequest(body)
		if err != nil {
			return s.errReply(hdr.Cmd)
		}
		res := int32(0)
		if err := s.h.DelMRP(req); err != nil {
			s.log.Warn("ctlserver: delmrp failed", "error", err)
			res = -1
		}
		return ctlproto.EncodeHeader(ctlproto.Header{Cmd: hdr.Cmd, Res: res})

	case ctlproto.CmdGetMRP:
		out := ctlproto.EncodeGetMRPResponse(s.h.GetMRP())
		hdrOut := ctlproto.EncodeHeader(ctlproto.Header{Cmd: hdr.Cmd, Lout: int32(len(out))})
		return append(hdrOut, out...)

	default:
		return s.errReply(hdr.Cmd)
	}
}

func (s *Server) errReply(cmd int32) []byte {
	return ctlproto.EncodeHeader(ctlproto.Header{Cmd: cmd, Res: -1})
}

// Package ctlclient implements the client side of ctlserver's control
// socket protocol, used by mrpctl to add, remove, and list MRP instances
// on a running daemon.
//
// Grounded on original_source/mrp.c's client_init (an unbound SOCK_DGRAM
// AF_UNIX socket connect()ed to the server's abstract address, relying
// on Linux autobind to give the client its own reply address) and
// client_send_message (send the request datagram, then block on a
// single recvmsg for the reply).
package ctlclient

import (
	"fmt"
	"net"
	"time"

	"github.com/ringmrp/mrpd/internal/mrp/ctlproto"
)

// DefaultTimeout bounds how long a request waits for a reply datagram
// before giving up, matching mrp.c's client behavior of never hanging
// forever against a wedged or absent daemon.
const DefaultTimeout = 2 * time.Second

// Client is a connected handle to a running daemon's control socket.
type Client struct {
	conn    *net.UnixConn
	timeout time.Duration
}

// Dial connects to the daemon's control socket at addr (an abstract
// address such as ctlserver.DefaultSockAddr, spelled with a leading "@").
// The local socket is left unbound so the kernel autobinds it, exactly as
// the original CLI's client_init does.
func Dial(addr string) (*Client, error) {
	raddr := &net.UnixAddr{Name: addr, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("ctlclient: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// SetTimeout overrides DefaultTimeout for subsequent requests.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

func (c *Client) roundTrip(cmd int32, body []byte, replyCap int) (ctlproto.Header, []byte, error) {
	req := append(ctlproto.EncodeHeader(ctlproto.Header{Cmd: cmd, Lin: int32(len(body))}), body...)
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return ctlproto.Header{}, nil, fmt.Errorf("ctlclient: set deadline: %w", err)
	}
	if _, err := c.conn.Write(req); err != nil {
		return ctlproto.Header{}, nil, fmt.Errorf("ctlclient: send: %w", err)
	}

	buf := make([]byte, ctlproto.HeaderLen+replyCap)
	n, err := c.conn.Read(buf)
	if err != nil {
		return ctlproto.Header{}, nil, fmt.Errorf("ctlclient: recv: %w", err)
	}
	hdr, err := ctlproto.DecodeHeader(buf[:n])
	if err != nil {
		return ctlproto.Header{}, nil, fmt.Errorf("ctlclient: decode reply: %w", err)
	}
	return hdr, buf[ctlproto.HeaderLen:n], nil
}

// AddMRP configures a new MRP ring instance on the daemon.
func (c *Client) AddMRP(req ctlproto.AddMRPRequest) error {
	hdr, _, err := c.roundTrip(ctlproto.CmdAddMRP, ctlproto.EncodeAddMRPRequest(req), 0)
	if err != nil {
		return err
	}
	if hdr.Res != 0 {
		return fmt.Errorf("ctlclient: addmrp rejected by daemon")
	}
	return nil
}

// DelMRP removes an existing MRP ring instance from the daemon.
func (c *Client) DelMRP(req ctlproto.DelMRPRequest) error {
	hdr, _, err := c.roundTrip(ctlproto.CmdDelMRP, ctlproto.EncodeDelMRPRequest(req), 0)
	if err != nil {
		return err
	}
	if hdr.Res != 0 {
		return fmt.Errorf("ctlclient: delmrp rejected by daemon")
	}
	return nil
}

// GetMRP retrieves the status of every MRP instance the daemon currently
// has configured.
func (c *Client) GetMRP() (ctlproto.GetMRPResponse, error) {
	hdr, body, err := c.roundTrip(ctlproto.CmdGetMRP, nil, ctlproto.GetMRPResponseLen)
	if err != nil {
		return ctlproto.GetMRPResponse{}, err
	}
	if hdr.Res != 0 {
		return ctlproto.GetMRPResponse{}, fmt.Errorf("ctlclient: getmrp rejected by daemon")
	}
	if int(hdr.Lout) > len(body) {
		return ctlproto.GetMRPResponse{}, fmt.Errorf("ctlclient: truncated getmrp reply: want %d, got %d", hdr.Lout, len(body))
	}
	return ctlproto.DecodeGetMRPResponse(body[:hdr.Lout])
}

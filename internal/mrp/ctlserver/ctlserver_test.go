package ctlserver

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ringmrp/mrpd/internal/mrp/ctlproto"
)

type fakeHandlers struct {
	added   []ctlproto.AddMRPRequest
	deleted []ctlproto.DelMRPRequest
	getResp ctlproto.GetMRPResponse
	failAdd bool
}

func (f *fakeHandlers) AddMRP(r ctlproto.AddMRPRequest) error {
	if f.failAdd {
		return fmt.Errorf("boom")
	}
	f.added = append(f.added, r)
	return nil
}

func (f *fakeHandlers) DelMRP(r ctlproto.DelMRPRequest) error {
	f.deleted = append(f.deleted, r)
	return nil
}

func (f *fakeHandlers) GetMRP() ctlproto.GetMRPResponse { return f.getResp }

func startTestServer(t *testing.T, h Handlers) (*Server, func()) {
	t.Helper()
	addr := fmt.Sprintf("@mrpd-test-%d", time.Now().UnixNano())
	s := New(h, WithSockAddr(addr))
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	return s, func() {
		cancel()
		<-done
		s.Close()
	}
}

func dialTestClient(t *testing.T, serverAddr string) *net.UnixConn {
	t.Helper()
	clientAddr := fmt.Sprintf("@mrpd-test-client-%d", time.Now().UnixNano())
	conn, err := net.DialUnix("unixgram",
		&net.UnixAddr{Name: clientAddr, Net: "unixgram"},
		&net.UnixAddr{Name: serverAddr, Net: "unixgram"})
	require.NoError(t, err)
	return conn
}

func TestServerHandlesAddMRP(t *testing.T) {
	h := &fakeHandlers{}
	s, stop := startTestServer(t, h)
	defer stop()

	conn := dialTestClient(t, s.addr)
	defer conn.Close()

	req := ctlproto.AddMRPRequest{Bridge: 2, RingNr: 1, PPort: 3, SPort: 4, RingRole: 2, Prio: 0x8000}
	body := ctlproto.EncodeAddMRPRequest(req)
	msg := append(ctlproto.EncodeHeader(ctlproto.Header{Cmd: ctlproto.CmdAddMRP, Lin: int32(len(body))}), body...)

	_, err := conn.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	hdr, err := ctlproto.DecodeHeader(buf[:n])
	require.NoError(t, err)
	require.Equal(t, ctlproto.CmdAddMRP, hdr.Cmd)
	require.EqualValues(t, 0, hdr.Res)

	require.Len(t, h.added, 1)
	require.Equal(t, req, h.added[0])
}

func TestServerHandlesAddMRPFailure(t *testing.T) {
	h := &fakeHandlers{failAdd: true}
	s, stop := startTestServer(t, h)
	defer stop()

	conn := dialTestClient(t, s.addr)
	defer conn.Close()

	body := ctlproto.EncodeAddMRPRequest(ctlproto.AddMRPRequest{Bridge: 2, RingNr: 1})
	msg := append(ctlproto.EncodeHeader(ctlproto.Header{Cmd: ctlproto.CmdAddMRP, Lin: int32(len(body))}), body...)
	_, err := conn.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	hdr, err := ctlproto.DecodeHeader(buf[:n])
	require.NoError(t, err)
	require.EqualValues(t, -1, hdr.Res)
}

func TestServerHandlesDelMRP(t *testing.T) {
	h := &fakeHandlers{}
	s, stop := startTestServer(t, h)
	defer stop()

	conn := dialTestClient(t, s.addr)
	defer conn.Close()

	body := ctlproto.EncodeDelMRPRequest(ctlproto.DelMRPRequest{Bridge: 2, RingNr: 1})
	msg := append(ctlproto.EncodeHeader(ctlproto.Header{Cmd: ctlproto.CmdDelMRP, Lin: int32(len(body))}), body...)
	_, err := conn.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	hdr, err := ctlproto.DecodeHeader(buf[:n])
	require.NoError(t, err)
	require.EqualValues(t, 0, hdr.Res)
	require.Len(t, h.deleted, 1)
	require.Equal(t, ctlproto.DelMRPRequest{Bridge: 2, RingNr: 1}, h.deleted[0])
}

func TestServerHandlesGetMRP(t *testing.T) {
	want := ctlproto.GetMRPResponse{Count: 1}
	want.Status[0] = ctlproto.InstanceStatus{Bridge: 2, RingNr: 1, RingRole: 2, Prio: 0x8000}

	h := &fakeHandlers{getResp: want}
	s, stop := startTestServer(t, h)
	defer stop()

	conn := dialTestClient(t, s.addr)
	defer conn.Close()

	msg := ctlproto.EncodeHeader(ctlproto.Header{Cmd: ctlproto.CmdGetMRP})
	_, err := conn.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, ctlproto.HeaderLen+ctlproto.GetMRPResponseLen)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	hdr, err := ctlproto.DecodeHeader(buf[:n])
	require.NoError(t, err)
	require.EqualValues(t, ctlproto.GetMRPResponseLen, hdr.Lout)

	got, err := ctlproto.DecodeGetMRPResponse(buf[ctlproto.HeaderLen:n])
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestServerRejectsUnknownCommand(t *testing.T) {
	h := &fakeHandlers{}
	s, stop := startTestServer(t, h)
	defer stop()

	conn := dialTestClient(t, s.addr)
	defer conn.Close()

	msg := ctlproto.EncodeHeader(ctlproto.Header{Cmd: 999})
	_, err := conn.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	hdr, err := ctlproto.DecodeHeader(buf[:n])
	require.NoError(t, err)
	require.EqualValues(t, -1, hdr.Res)
}

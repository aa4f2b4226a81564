package ctlclient

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ringmrp/mrpd/internal/mrp/ctlproto"
	"github.com/ringmrp/mrpd/internal/mrp/ctlserver"
)

type fakeHandlers struct {
	added   []ctlproto.AddMRPRequest
	deleted []ctlproto.DelMRPRequest
	getResp ctlproto.GetMRPResponse
	failAdd bool
	failDel bool
}

func (f *fakeHandlers) AddMRP(r ctlproto.AddMRPRequest) error {
	if f.failAdd {
		return fmt.Errorf("boom")
	}
	f.added = append(f.added, r)
	return nil
}

func (f *fakeHandlers) DelMRP(r ctlproto.DelMRPRequest) error {
	if f.failDel {
		return fmt.Errorf("boom")
	}
	f.deleted = append(f.deleted, r)
	return nil
}

func (f *fakeHandlers) GetMRP() ctlproto.GetMRPResponse { return f.getResp }

func startServer(t *testing.T, h ctlserver.Handlers) string {
	t.Helper()
	addr := fmt.Sprintf("@mrpd-ctlclient-test-%d", time.Now().UnixNano())
	s := ctlserver.New(h, ctlserver.WithSockAddr(addr))
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-done
		s.Close()
	})
	return addr
}

func TestClientAddMRPRoundTrip(t *testing.T) {
	h := &fakeHandlers{}
	addr := startServer(t, h)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	req := ctlproto.AddMRPRequest{Bridge: 2, RingNr: 1, PPort: 3, SPort: 4, RingRole: 2, Prio: 0x8000}
	require.NoError(t, c.AddMRP(req))
	require.Len(t, h.added, 1)
	require.Equal(t, req, h.added[0])
}

func TestClientAddMRPReturnsErrorOnRejection(t *testing.T) {
	h := &fakeHandlers{failAdd: true}
	addr := startServer(t, h)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	err = c.AddMRP(ctlproto.AddMRPRequest{Bridge: 2, RingNr: 1})
	require.Error(t, err)
}

func TestClientDelMRPRoundTrip(t *testing.T) {
	h := &fakeHandlers{}
	addr := startServer(t, h)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	req := ctlproto.DelMRPRequest{Bridge: 2, RingNr: 1}
	require.NoError(t, c.DelMRP(req))
	require.Len(t, h.deleted, 1)
	require.Equal(t, req, h.deleted[0])
}

func TestClientDelMRPReturnsErrorOnRejection(t *testing.T) {
	h := &fakeHandlers{failDel: true}
	addr := startServer(t, h)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	err = c.DelMRP(ctlproto.DelMRPRequest{Bridge: 2, RingNr: 1})
	require.Error(t, err)
}

func TestClientGetMRPRoundTrip(t *testing.T) {
	want := ctlproto.GetMRPResponse{Count: 2}
	want.Status[0] = ctlproto.InstanceStatus{Bridge: 2, RingNr: 1, RingRole: 2, Prio: 0x8000}
	want.Status[1] = ctlproto.InstanceStatus{Bridge: 2, RingNr: 2, RingRole: 1, Prio: 0x7000}

	h := &fakeHandlers{getResp: want}
	addr := startServer(t, h)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.GetMRP()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDialFailsAgainstAbsentServer(t *testing.T) {
	addr := fmt.Sprintf("@mrpd-ctlclient-test-noserver-%d", time.Now().UnixNano())
	_, err := Dial(addr)
	require.Error(t, err)
}

func TestClientRequestTimesOutAgainstSilentServer(t *testing.T) {
	addr := fmt.Sprintf("@mrpd-ctlclient-test-silent-%d", time.Now().UnixNano())
	raddr := &net.UnixAddr{Name: addr, Net: "unixgram"}
	listener, err := net.ListenUnixgram("unixgram", raddr)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()
	c.SetTimeout(50 * time.Millisecond)

	_, err = c.GetMRP()
	require.Error(t, err)
}

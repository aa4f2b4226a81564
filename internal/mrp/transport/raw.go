// Package transport implements the Ethernet transport the MRP core sends
// and receives its PDUs over: one AF_PACKET raw socket bound to the MRP
// ethertype across every interface, exactly the model
// original_source/state_machine.c's mrp_recv(buf, buf_len, sockaddr_ll,
// salen) assumes (frames are demultiplexed to an instance by the
// sockaddr_ll's ifindex, not by a per-port socket).
//
// Grounded on the teacher's client/doublezerod/internal/pim package for
// registering a protocol as a gopacket.LayerType and driving a raw
// socket loop in a goroutine with a done channel, adapted from PIM's
// IP/ipv4.PacketConn transport to a link-layer AF_PACKET one since MRP
// rides directly on Ethernet (ethertype 0x88E3), not on IP.
package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/sys/unix"

	"github.com/ringmrp/mrpd/internal/mrp/frame"
	"github.com/ringmrp/mrpd/internal/mrp/instance"
	"github.com/ringmrp/mrpd/internal/mrp/mrperr"
)

// MRPLayerType registers the MRP payload as a gopacket layer the same
// way the teacher's PIM package registers PIMMessageType, so a capture
// or a future decode pipeline can treat an MRP PDU as a first-class
// gopacket layer rather than an opaque payload.
var MRPLayerType = gopacket.RegisterLayerType(1667, gopacket.LayerTypeMetadata{
	Name:    "MRP",
	Decoder: gopacket.DecodeFunc(decodeMRP),
})

// MRPLayer adapts frame.Frame to gopacket.Layer.
type MRPLayer struct {
	layers.BaseLayer
	Frame *frame.Frame
}

func (m *MRPLayer) LayerType() gopacket.LayerType { return MRPLayerType }

func decodeMRP(data []byte, p gopacket.PacketBuilder) error {
	f, err := frame.Decode(data)
	if err != nil {
		return err
	}
	p.AddLayer(&MRPLayer{BaseLayer: layers.BaseLayer{Contents: data}, Frame: f})
	return nil
}

func init() {
	layers.EthernetTypeMetadata[layers.EthernetType(frame.EtherType)] = layers.EnumMetadata{
		DecodeWith: gopacket.DecodeFunc(decodeMRP),
		Name:       "MRP",
		LayerType:  MRPLayerType,
	}
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }

// RawTransport is an instance.Transport backed by a single AF_PACKET
// socket shared by every instance; frames addressed to different
// ports/instances are told apart by the sockaddr_ll ifindex on send and
// receive, matching the original daemon's single mrp_recv dispatcher.
type RawTransport struct {
	fd int
}

// NewRawTransport opens the shared raw socket, bound to the MRP
// ethertype so the kernel only ever delivers MRP frames to it.
func NewRawTransport() (*RawTransport, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(htons(frame.EtherType)))
	if err != nil {
		return nil, mrperr.Transport("transport.NewRawTransport", err)
	}
	return &RawTransport{fd: fd}, nil
}

func (t *RawTransport) Close() error { return unix.Close(t.fd) }

// buildEthernetFrame serializes dst/src/payload into a wire-ready
// Ethernet frame, padded to frame.MinFrameLen. Split out from Send so
// the framing logic is testable without a live socket.
func buildEthernetFrame(dst, src net.HardwareAddr, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		DstMAC:       dst,
		SrcMAC:       src,
		EthernetType: layers.EthernetType(frame.EtherType),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, gopacket.Payload(payload)); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	if len(out) < frame.MinFrameLen {
		padded := make([]byte, frame.MinFrameLen)
		copy(padded, out)
		out = padded
	}
	return out, nil
}

// Send serializes an Ethernet frame carrying payload and writes it out
// ifindex, padding to frame.MinFrameLen as every MRP frame must be.
func (t *RawTransport) Send(ifindex int, dst, src net.HardwareAddr, payload []byte) error {
	out, err := buildEthernetFrame(dst, src, payload)
	if err != nil {
		return mrperr.Transport("transport.Send", err)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(frame.EtherType),
		Ifindex:  ifindex,
	}
	if err := unix.Sendto(t.fd, out, 0, addr); err != nil {
		return mrperr.Transport("transport.Send", err)
	}
	return nil
}

// Handler is invoked once per received MRP frame, with the ifindex it
// arrived on (the instance lookup key) and the decoded frame.
type Handler func(ifindex int, f *frame.Frame)

// parseIncoming decodes a raw Ethernet capture into an MRP frame,
// reporting ok=false for anything that isn't an MRP-ethertype frame or
// fails to decode as one. Split out from Run so the parse logic is
// testable without a live socket.
func parseIncoming(raw []byte) (f *frame.Frame, ok bool) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ethLayer, isEth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !isEth || uint16(ethLayer.EthernetType) != frame.EtherType {
		return nil, false
	}
	f, err := frame.Decode(ethLayer.Payload)
	if err != nil {
		return nil, false
	}
	return f, true
}

// Run reads frames until ctx is cancelled, dispatching each to handle.
// A one-second receive timeout gives the loop a chance to notice
// cancellation without spinning; recoverable read errors (a truncated or
// undecodable frame) are dropped, never fatal to the loop.
func (t *RawTransport) Run(ctx context.Context, handle Handler) error {
	tv := unix.Timeval{Sec: 1}
	if err := unix.SetsockoptTimeval(t.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return mrperr.Transport("transport.Run", err)
	}

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, from, err := unix.Recvfrom(t.fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				continue
			}
			return mrperr.Transport("transport.Run", err)
		}

		ll, ok := from.(*unix.SockaddrLinklayer)
		if !ok {
			continue
		}

		f, ok := parseIncoming(buf[:n])
		if !ok {
			continue
		}
		handle(ll.Ifindex, f)
	}
}

func (t *RawTransport) String() string { return fmt.Sprintf("rawtransport(fd=%d)", t.fd) }

var _ instance.Transport = (*RawTransport)(nil)

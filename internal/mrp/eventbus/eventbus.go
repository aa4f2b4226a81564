// Package eventbus publishes MRP port lifecycle notifications onto the
// D-Bus system bus, for anything on the host that wants to react to a
// ring transition without polling the control socket.
//
// Grounded on original_source/dbus.c's dbus_port_state_changed/dbus_send:
// a "PortEvent" signal carrying one DBUS_TYPE_STRING argument built as
// "ifname:StateChanged:state:", and on dbus.h's MRP_HAVE_DBUS compile-time
// switch, which stubs every call out to a no-op when D-Bus support isn't
// built in — reproduced here as the Noop implementation of the same
// Publisher interface, rather than a build tag, so the choice is made at
// runtime depending on whether the system bus is reachable.
//
// The exact MRP_DBUS_PATH/MRP_DBUS_IFACE string constants aren't present
// in the retrieved reference source (defined in a header outside the
// retrieval pack); ObjectPath/Interface below are this project's own
// names, following the same reverse-DNS convention the original's
// constants clearly follow.
package eventbus

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/ringmrp/mrpd/internal/mrp/port"
)

const (
	ObjectPath = dbus.ObjectPath("/org/ringmrp/mrpd")
	Interface  = "org.ringmrp.mrpd"

	SignalPortEvent = "PortEvent"
)

// Publisher is the narrow notification sink the daemon depends on;
// DBusPublisher and Noop both satisfy it.
type Publisher interface {
	PortStateChanged(ifname string, state port.ForwardingState) error
	Close() error
}

// stateLabel mirrors dbus.c's port_states[] table, whose wording doesn't
// match port.ForwardingState.String() exactly ("Blocking" not "blocked",
// "Unconnected" not "not_connected") because that table is dbus.c's own
// human-facing vocabulary, independent of this package's internal enum
// stringer.
func stateLabel(s port.ForwardingState) string {
	switch s {
	case port.StateDisabled:
		return "Disabled"
	case port.StateBlocked:
		return "Blocking"
	case port.StateForwarding:
		return "Forwarding"
	case port.StateNotConnected:
		return "Unconnected"
	}
	return "Unknown"
}

// DBusPublisher emits PortEvent signals on the system bus.
type DBusPublisher struct {
	conn *dbus.Conn
}

// NewDBusPublisher connects to the system bus and claims Interface,
// grounded on dbus_init's dbus_bus_get/dbus_bus_request_name pair.
func NewDBusPublisher() (*DBusPublisher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect system bus: %w", err)
	}
	reply, err := conn.RequestName(Interface, dbus.NameFlagReplaceExisting)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventbus: request name %q: %w", Interface, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("eventbus: name %q already owned on the bus", Interface)
	}
	return &DBusPublisher{conn: conn}, nil
}

// PortStateChanged emits a PortEvent signal, grounded on
// dbus_port_state_changed/dbus_message_valist's colon-joined body.
func (p *DBusPublisher) PortStateChanged(ifname string, state port.ForwardingState) error {
	text := strings.Join([]string{ifname, "StateChanged", stateLabel(state), ""}, ":")
	return p.conn.Emit(ObjectPath, Interface+"."+SignalPortEvent, text)
}

func (p *DBusPublisher) Close() error { return p.conn.Close() }

var _ Publisher = (*DBusPublisher)(nil)

// Noop discards every event, used when no system bus connection is
// available at startup — the runtime counterpart of dbus.h's
// MRP_HAVE_DBUS=0 compile-time stubs.
type Noop struct{}

func (Noop) PortStateChanged(string, port.ForwardingState) error { return nil }
func (Noop) Close() error                                        { return nil }

var _ Publisher = Noop{}

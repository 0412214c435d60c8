package rasp

import (
	"context"

	"github.com/golang/glog"
)

// Handler processes a dispatched message.
type Handler interface {
	HandleMessage(context.Context, *Message)
}

// HandleMessageFunc is func type of Handler.
type HandleMessageFunc func(context.Context, *Message)

// HandleMessage implements Handler.
func (f HandleMessageFunc) HandleMessage(ctx context.Context, msg *Message) {
	f(ctx, msg)
}

// AnyLength disables the payload length check of a command.
const AnyLength = -1

// CommandSpec validates one command of an interface.
type CommandSpec struct {
	// Length is the expected payload length or AnyLength.
	Length int
	// Validate is called after the length check; the handler only
	// runs if it returns true.
	Validate func(*Message) bool
}

// Interface is one entry of the dispatch table.
type Interface struct {
	ID         uint16
	Handler    Handler
	Valid      func() bool
	Commands   []CommandSpec
	MaxCommand byte
}

// DropReason explains why a message was not handled.
type DropReason int

// Drop reasons, in the order they are checked.
const (
	Dispatched DropReason = iota
	DropUnknownInterface
	DropInterfaceInvalid
	DropBadCommand
	DropBadLength
	DropValidator
)

var dropReasonNames = [...]string{
	"dispatched",
	"unknown interface",
	"interface not valid",
	"command out of range",
	"payload length mismatch",
	"validator rejected",
}

// String implements fmt.Stringer.
func (r DropReason) String() string {
	if int(r) < len(dropReasonNames) {
		return dropReasonNames[r]
	}
	return "unknown"
}

// Dispatcher routes messages to interface handlers.
type Dispatcher struct {
	ifaces map[uint16]*Interface
}

// NewDispatcher creates a Dispatcher with the given interfaces.
func NewDispatcher(ifaces ...*Interface) *Dispatcher {
	d := &Dispatcher{ifaces: make(map[uint16]*Interface)}
	d.Register(ifaces...)
	return d
}

// Register adds or replaces interfaces.
func (d *Dispatcher) Register(ifaces ...*Interface) {
	for _, iface := range ifaces {
		d.ifaces[iface.ID] = iface
	}
}

// Lookup finds the interface entry by ID.
func (d *Dispatcher) Lookup(id uint16) *Interface {
	return d.ifaces[id]
}

// Check applies the validation chain without invoking the handler.
func (d *Dispatcher) Check(msg *Message) (*Interface, DropReason) {
	iface := d.ifaces[msg.Header.Interface]
	if iface == nil || iface.Handler == nil {
		return nil, DropUnknownInterface
	}
	if iface.Valid != nil && !iface.Valid() {
		return iface, DropInterfaceInvalid
	}
	cmd := msg.Header.Command
	if cmd > iface.MaxCommand {
		return iface, DropBadCommand
	}
	if int(cmd) < len(iface.Commands) {
		spec := &iface.Commands[cmd]
		if spec.Length != AnyLength && len(msg.Data) != spec.Length {
			return iface, DropBadLength
		}
		if spec.Validate != nil && !spec.Validate(msg) {
			return iface, DropValidator
		}
	}
	return iface, Dispatched
}

// Dispatch invokes at most one handler for msg and reports the outcome.
// Rejected messages are dropped without any reply.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) DropReason {
	iface, reason := d.Check(msg)
	if reason != Dispatched {
		glog.V(2).Infof("rasp drop %04x:%02x len=%d: %s",
			msg.Header.Interface, msg.Header.Command, len(msg.Data), reason)
		return reason
	}
	iface.Handler.HandleMessage(ctx, msg)
	return Dispatched
}

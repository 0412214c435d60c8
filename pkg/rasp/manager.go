package rasp

import (
	"context"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/mwd.go/pkg/framework"
)

// SendCallback is invoked by the port once a chunk has been sent.
type SendCallback func()

// Port is the serial driver side of a RASP link. SendMessage must not
// touch buf after calling done; it returns false if it cannot accept
// the chunk now.
type Port interface {
	SendMessage(client int, buf []byte, done SendCallback, final bool) bool
}

// ProcessFunc takes over message processing from the default processor.
type ProcessFunc func(fx.ControlContext, *Manager)

// Stats counts link activity.
type Stats struct {
	Received uint32
	Dropped  uint32
	Sent     uint32
}

// Manager is one RASP session: it owns the receive and transmit state
// machines of a link and is advanced by the loop.
type Manager struct {
	Name       string
	Client     int
	Port       Port
	Dispatcher *Dispatcher
	Stats      Stats

	rx        Receiver
	tx        Transmitter
	txBuf     [TxChunkLen]byte
	txLen     int
	txPending bool
	txSending bool
	txFinal   bool

	processor ProcessFunc
	timeout   time.Duration
	deadline  time.Time
}

// NewManager creates a Manager for the link.
func NewManager(name string, client int, port Port, d *Dispatcher) *Manager {
	return &Manager{Name: name, Client: client, Port: port, Dispatcher: d}
}

// ServiceRx feeds one received byte into the receive state machine.
func (m *Manager) ServiceRx(b byte) {
	m.rx.ServiceRx(b)
}

// Receiver exposes the receive state machine.
func (m *Manager) Receiver() *Receiver {
	return &m.rx
}

// Busy reports whether a reply or request is still being sent.
func (m *Manager) Busy() bool {
	return m.tx.InProgress()
}

// Send starts sending a frame. Only one frame may be in flight.
func (m *Manager) Send(h *Header, data []byte) bool {
	return m.tx.Start(h, data)
}

// Reply sends a status-prefixed reply using the request header.
func (m *Manager) Reply(h Header, status Status, data []byte) bool {
	if len(data)+1 >= MsgBufLen {
		return false
	}
	payload := make([]byte, 0, len(data)+1)
	payload = append(payload, byte(status))
	payload = append(payload, data...)
	return m.Send(&h, payload)
}

// Request sends a request frame.
func (m *Manager) Request(h Header, data []byte) bool {
	return m.Send(&h, data)
}

// SetProcessor replaces the default processor. A non-zero timeout
// restores the default processor if fn has not done so in time.
func (m *Manager) SetProcessor(fn ProcessFunc, timeout time.Duration) {
	m.processor, m.timeout, m.deadline = fn, timeout, time.Time{}
}

// RestoreProcessor reinstates the default processor.
func (m *Manager) RestoreProcessor() {
	m.processor, m.timeout, m.deadline = nil, 0, time.Time{}
}

// Overridden reports whether a substitute processor is installed.
func (m *Manager) Overridden() bool {
	return m.processor != nil
}

// TakeMessage returns the received message, if any, and re-arms the receiver.
func (m *Manager) TakeMessage() *Message {
	msg := m.rx.Message()
	if msg != nil {
		m.Stats.Received++
		m.rx.Rearm()
	}
	return msg
}

type sessionKey struct{}

// SessionFrom returns the Manager which dispatched the message handled
// with ctx, nil outside of a dispatch.
func SessionFrom(ctx context.Context) *Manager {
	m, _ := ctx.Value(sessionKey{}).(*Manager)
	return m
}

// Process is the default processor: dispatch a completed message. A
// message received while a frame is still being sent stays in the
// receiver until the link is idle, so its reply can be sent.
func (m *Manager) Process(cc fx.ControlContext) {
	if m.Busy() {
		return
	}
	if msg := m.TakeMessage(); msg != nil {
		m.Dispatch(cc, msg)
	}
}

// Dispatch routes msg through the dispatcher of the session.
func (m *Manager) Dispatch(cc fx.ControlContext, msg *Message) {
	ctx := context.WithValue(cc.Context(), sessionKey{}, m)
	if m.Dispatcher == nil || m.Dispatcher.Dispatch(ctx, msg) != Dispatched {
		m.Stats.Dropped++
	}
}

// Control implements Controller.
func (m *Manager) Control(cc fx.ControlContext) error {
	if m.processor != nil && m.timeout > 0 {
		now := cc.Time()
		if m.deadline.IsZero() {
			m.deadline = now.Add(m.timeout)
		} else if !now.Before(m.deadline) {
			glog.Warningf("rasp %s: processor override timed out", m.Name)
			m.RestoreProcessor()
		}
	}
	if fn := m.processor; fn != nil {
		fn(cc, m)
	} else {
		m.Process(cc)
	}
	m.pumpTx()
	return nil
}

// AddToLoop implements LoopAdder.
func (m *Manager) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvRASP, m)
}

func (m *Manager) pumpTx() {
	for m.tx.InProgress() && !m.txSending {
		if !m.txPending {
			m.txLen = m.tx.Fill(m.txBuf[:])
			m.txFinal = m.tx.Done()
			m.txPending = true
		}
		m.txPending, m.txSending = false, true
		if !m.Port.SendMessage(m.Client, m.txBuf[:m.txLen], m.chunkSent, m.txFinal) {
			m.txPending, m.txSending = true, false
			return
		}
	}
}

func (m *Manager) chunkSent() {
	m.txSending = false
	if m.txFinal {
		m.txFinal = false
		m.tx.Release()
		m.Stats.Sent++
	}
}

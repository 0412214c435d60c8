// Package iface implements the RASP interface handlers of a node.
package iface

import (
	"context"
	"encoding"
	"encoding/binary"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/mwd.go/pkg/nvdb"
	"github.com/robotalks/mwd.go/pkg/rasp"
	"github.com/robotalks/mwd.go/pkg/record"
)

// Interface IDs.
const (
	IfaceIdentity    uint16 = 0x0001
	IfaceRTC         uint16 = 0x0002
	IfaceSensor      uint16 = 0x0003
	IfaceHole        uint16 = 0x0004
	IfaceDiagnostics uint16 = 0x0005
	IfacePC          uint16 = 0x0006
)

var le = binary.LittleEndian

// Clock is the real time clock of the node.
type Clock interface {
	Now() time.Time
	Set(time.Time)
}

// SystemClock follows the host clock with a settable offset.
type SystemClock struct {
	offset time.Duration
	lock   sync.Mutex
}

// Now implements Clock.
func (c *SystemClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return time.Now().Add(c.offset)
}

// Set implements Clock.
func (c *SystemClock) Set(t time.Time) {
	c.lock.Lock()
	c.offset = time.Until(t)
	c.lock.Unlock()
}

// Services are the node facilities used by handlers. Nil members
// disable the interfaces depending on them.
type Services struct {
	NVDB    *nvdb.Manager
	Records *record.Manager
	Clock   Clock
	// Sensor is the local sensor of a probe.
	Sensor Sensor
	// Probe forwards sensor requests to the probe of an uphole node.
	Probe *SensorRequest
	// Links are reported by diagnostics.
	Links []*rasp.Manager
	// Upload bounds how long a bulk record upload may take.
	UploadTimeout time.Duration
}

// Interfaces builds the dispatch table entries served by s.
func (s *Services) Interfaces() []*rasp.Interface {
	return []*rasp.Interface{
		s.IdentityInterface(),
		s.RTCInterface(),
		s.SensorInterface(),
		s.HoleInterface(),
		s.DiagnosticsInterface(),
		s.PCInterface(),
	}
}

// Dispatcher creates a Dispatcher with all interfaces.
func (s *Services) Dispatcher() *rasp.Dispatcher {
	return rasp.NewDispatcher(s.Interfaces()...)
}

func (s *Services) now() uint32 {
	if s.Clock == nil {
		return uint32(time.Now().Unix())
	}
	return uint32(s.Clock.Now().Unix())
}

func (s *Services) nvdbReady() bool {
	return s.NVDB != nil && s.NVDB.Initialized()
}

func (s *Services) hasRecords() bool {
	return s.Records != nil
}

func reply(ctx context.Context, msg *rasp.Message, st rasp.Status, data []byte) {
	replyTo(rasp.SessionFrom(ctx), msg.Header, st, data)
}

func replyTo(session *rasp.Manager, h rasp.Header, st rasp.Status, data []byte) {
	if session == nil {
		return
	}
	if !session.Reply(h, st, data) {
		glog.Warningf("rasp %s: reply %04x/%02x dropped, link busy",
			session.Name, h.Interface, h.Command)
	}
}

// replyEncoded replies v as the accepted payload, or Rejected when v
// cannot be encoded.
func replyEncoded(session *rasp.Manager, h rasp.Header, v encoding.BinaryMarshaler) {
	data, err := v.MarshalBinary()
	if err != nil {
		glog.Errorf("iface: encode reply %04x/%02x: %v", h.Interface, h.Command, err)
		replyTo(session, h, rasp.Rejected, nil)
		return
	}
	replyTo(session, h, rasp.Accepted, data)
}

func u32(v uint32) []byte {
	buf := make([]byte, 4)
	le.PutUint32(buf, v)
	return buf
}

// handlerTable maps command ids to handler funcs.
type handlerTable map[byte]func(context.Context, *rasp.Message)

// HandleMessage implements rasp.Handler.
func (t handlerTable) HandleMessage(ctx context.Context, msg *rasp.Message) {
	if fn := t[msg.Header.Command]; fn != nil {
		fn(ctx, msg)
		return
	}
	reply(ctx, msg, rasp.InvalidCmd, nil)
}

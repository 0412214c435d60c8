// Package serial connects RASP sessions to byte streams: UARTs,
// websockets and in-process pipes.
package serial

import (
	"io"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.bug.st/serial"
	"golang.org/x/net/websocket"

	fx "github.com/robotalks/mwd.go/pkg/framework"
	"github.com/robotalks/mwd.go/pkg/rasp"
)

// RxBufferSize is the capacity of the receive channel.
const RxBufferSize = 64

// Port delivers bytes of a stream to a RASP session one at a time on
// the loop tick, and sends the session chunks in the background,
// completing them on a later tick.
type Port struct {
	Name    string
	Session *rasp.Manager

	rxCh    chan []byte
	rxBuf   []byte
	conn    io.ReadWriteCloser
	connGen int
	lock    sync.Mutex

	txDone  rasp.SendCallback
	txBusy  bool
	txSent  bool
	txError error
	txLock  sync.Mutex
}

// NewPort creates a Port with no stream attached. Chunks sent while
// detached are dropped.
func NewPort(name string) *Port {
	return &Port{Name: name, rxCh: make(chan []byte, RxBufferSize)}
}

// Open opens a UART.
func Open(device string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", device)
	}
	return p, nil
}

// Websocket prepares a websocket connection to carry RASP frames.
func Websocket(conn *websocket.Conn) io.ReadWriteCloser {
	conn.PayloadType = websocket.BinaryFrame
	return conn
}

// Attach replaces the stream and starts reading it. The returned
// channel is closed when the stream fails.
func (p *Port) Attach(conn io.ReadWriteCloser) <-chan struct{} {
	p.lock.Lock()
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = conn
	p.connGen++
	gen := p.connGen
	p.lock.Unlock()
	glog.Infof("serial %s: attached", p.Name)

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		p.readLoop(conn, gen)
	}()
	return doneCh
}

// Detach closes the current stream.
func (p *Port) Detach() {
	p.lock.Lock()
	conn := p.conn
	p.conn = nil
	p.connGen++
	p.lock.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (p *Port) readLoop(conn io.Reader, gen int) {
	for {
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if n > 0 {
			p.rxCh <- buf[:n]
		}
		if err != nil {
			p.lock.Lock()
			if p.connGen == gen {
				p.conn = nil
			}
			p.lock.Unlock()
			if err != io.EOF {
				glog.Warningf("serial %s: read error: %v", p.Name, err)
			}
			return
		}
	}
}

// SendMessage implements rasp.Port.
func (p *Port) SendMessage(client int, buf []byte, done rasp.SendCallback, final bool) bool {
	p.txLock.Lock()
	defer p.txLock.Unlock()
	if p.txBusy {
		return false
	}
	p.lock.Lock()
	conn := p.conn
	p.lock.Unlock()
	p.txBusy, p.txSent, p.txDone = true, false, done
	if conn == nil {
		p.txSent = true
		return true
	}
	chunk := append([]byte(nil), buf...)
	go func() {
		_, err := conn.Write(chunk)
		p.txLock.Lock()
		p.txSent, p.txError = true, err
		p.txLock.Unlock()
	}()
	return true
}

// ServiceRx feeds buffered bytes to the session until it holds a
// complete message.
func (p *Port) ServiceRx(fx.ControlContext) error {
	for {
		for len(p.rxBuf) > 0 {
			if p.Session.Receiver().Complete() {
				return nil
			}
			p.Session.ServiceRx(p.rxBuf[0])
			p.rxBuf = p.rxBuf[1:]
		}
		select {
		case p.rxBuf = <-p.rxCh:
		default:
			return nil
		}
	}
}

// ServiceTx completes a sent chunk.
func (p *Port) ServiceTx(fx.ControlContext) error {
	p.txLock.Lock()
	if !p.txBusy || !p.txSent {
		p.txLock.Unlock()
		return nil
	}
	done, err := p.txDone, p.txError
	p.txBusy, p.txDone, p.txError = false, nil, nil
	p.txLock.Unlock()
	done()
	if err != nil {
		return errors.Wrapf(err, "serial %s: write", p.Name)
	}
	return nil
}

// AddToLoop implements LoopAdder.
func (p *Port) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvSerialRx, fx.ControlFunc(p.ServiceRx))
	l.AddController(fx.PrLvSerialTx, fx.ControlFunc(p.ServiceTx))
}

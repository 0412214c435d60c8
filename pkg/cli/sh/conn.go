package sh

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/robotalks/mwd.go/pkg/iface"
	"github.com/robotalks/mwd.go/pkg/rasp"
	"github.com/robotalks/mwd.go/pkg/record"
	"github.com/robotalks/mwd.go/pkg/serial"
)

// CallTimeout bounds a request.
const CallTimeout = 3 * time.Second

// Conn is an open RASP link to a node.
type Conn struct {
	Target string
	Client *rasp.Client

	stream io.ReadWriteCloser
	cancel func()
}

// Dial opens a websocket (ws:// or wss://) or serial target.
func Dial(target string, baud int) (*Conn, error) {
	if strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://") {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		origin := "http://" + u.Host + "/"
		ws, err := websocket.Dial(target, "", origin)
		if err != nil {
			return nil, err
		}
		return NewConn(target, serial.Websocket(ws)), nil
	}
	stream, err := serial.Open(target, baud)
	if err != nil {
		return nil, err
	}
	return NewConn(target, stream), nil
}

// NewConn starts a client over stream.
func NewConn(target string, stream io.ReadWriteCloser) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{Target: target, Client: rasp.NewClient(stream), stream: stream, cancel: cancel}
	go c.Client.Run(ctx)
	return c
}

// Close implements io.Closer.
func (c *Conn) Close() error {
	c.cancel()
	return c.stream.Close()
}

// Call sends a request and returns the accepted reply data.
func (c *Conn) Call(iface uint16, cmd byte, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), CallTimeout)
	defer cancel()
	return c.Client.Call(ctx, rasp.Header{Interface: iface, Command: cmd}, data)
}

// Upload receives records [start, start+count) from the node, invoking
// fn for each. It returns the number of records the node sent.
func (c *Conn) Upload(start, count uint32, fn func(record.Record)) (uint32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), iface.DefaultUploadTimeout)
	defer cancel()
	req := make([]byte, 8)
	binary.LittleEndian.PutUint32(req[0:], start)
	binary.LittleEndian.PutUint32(req[4:], count)
	if _, err := c.Client.Call(ctx, rasp.Header{Interface: iface.IfacePC, Command: iface.CmdUpload}, req); err != nil {
		return 0, err
	}
	for {
		msg, err := c.Client.Receive(ctx)
		if err != nil {
			return 0, err
		}
		if msg.Header.Interface != iface.IfacePC {
			continue
		}
		data, err := rasp.ReplyData(msg)
		if err != nil {
			return 0, err
		}
		switch msg.Header.Command {
		case iface.CmdUploadRecord:
			r, err := record.DecodeRecord(data)
			if err != nil {
				return 0, err
			}
			fn(r)
		case iface.CmdUploadDone:
			if len(data) < 4 {
				return 0, fmt.Errorf("upload done: short reply")
			}
			return binary.LittleEndian.Uint32(data), nil
		}
	}
}

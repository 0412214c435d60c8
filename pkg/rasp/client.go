package rasp

import (
	"context"
	"io"
	"sync"
	"time"
)

// DefaultTimeout is how long a Client waits for a reply.
const DefaultTimeout = time.Second

// Client is the host side of a RASP link (PC or test harness). Unlike
// the node side it blocks waiting for replies.
type Client struct {
	ReadWriter io.ReadWriter
	Timeout    time.Duration

	rx      Receiver
	msgCh   chan *Message
	reqLock sync.Mutex
}

// NewClient creates a Client over a byte stream.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{
		ReadWriter: rw,
		Timeout:    DefaultTimeout,
		msgCh:      make(chan *Message, 16),
	}
}

// Run decodes received bytes until the stream fails or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	buf := make([]byte, 256)
	for {
		n, err := c.ReadWriter.Read(buf)
		for _, b := range buf[:n] {
			c.rx.ServiceRx(b)
			if msg := c.rx.Message(); msg != nil {
				c.rx.Rearm()
				select {
				case c.msgCh <- msg:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Do sends a request and waits for the frame replying to it.
func (c *Client) Do(ctx context.Context, h Header, data []byte) (*Message, error) {
	if len(data) >= MsgBufLen {
		return nil, ErrTooLong
	}
	c.reqLock.Lock()
	defer c.reqLock.Unlock()
	c.drain()
	if _, err := c.ReadWriter.Write(Encode(&h, data)); err != nil {
		return nil, err
	}
	for {
		msg, err := c.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if msg.Header == h {
			return msg, nil
		}
	}
}

// Call sends a request and decodes the status-prefixed reply. A status
// other than Accepted is returned as *StatusError.
func (c *Client) Call(ctx context.Context, h Header, data []byte) ([]byte, error) {
	msg, err := c.Do(ctx, h, data)
	if err != nil {
		return nil, err
	}
	return ReplyData(msg)
}

// Receive waits for the next frame, used for multi-frame transfers.
func (c *Client) Receive(ctx context.Context) (*Message, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-c.msgCh:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) drain() {
	for {
		select {
		case <-c.msgCh:
		default:
			return
		}
	}
}

// ReplyData splits the status byte from a reply.
func ReplyData(msg *Message) ([]byte, error) {
	if len(msg.Data) == 0 {
		return nil, ErrEmptyReply
	}
	if st := Status(msg.Data[0]); st != Accepted {
		return nil, &StatusError{Status: st}
	}
	return msg.Data[1:], nil
}

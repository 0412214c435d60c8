package rasp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type callCounter struct {
	calls []*Message
}

func (c *callCounter) HandleMessage(_ context.Context, msg *Message) {
	c.calls = append(c.calls, msg)
}

func TestDispatchFailClosed(t *testing.T) {
	var counter callCounter
	valid := true
	d := NewDispatcher(&Interface{
		ID:      0x0004,
		Handler: &counter,
		Valid:   func() bool { return valid },
		Commands: []CommandSpec{
			{Length: 0},
			{Length: 4},
			{Length: AnyLength, Validate: func(m *Message) bool { return len(m.Data) > 0 && m.Data[0] < 16 }},
		},
		MaxCommand: 3,
	})
	ctx := context.Background()
	msg := func(cmd byte, n int) *Message {
		return &Message{Header: Header{Interface: 0x0004, Command: cmd}, Data: make([]byte, n)}
	}

	for n := 0; n < 16; n++ {
		expect := DropBadLength
		if n == 4 {
			expect = Dispatched
		}
		require.Equal(t, expect, d.Dispatch(ctx, msg(1, n)), "length %d", n)
	}
	require.Len(t, counter.calls, 1)

	require.Equal(t, DropUnknownInterface, d.Dispatch(ctx, &Message{Header: Header{Interface: 0x0099}}))
	require.Equal(t, DropBadCommand, d.Dispatch(ctx, msg(4, 0)))
	require.Equal(t, Dispatched, d.Dispatch(ctx, msg(3, 9)), "commands past the table skip checks")
	require.Equal(t, DropValidator, d.Dispatch(ctx, msg(2, 0)))
	m := msg(2, 1)
	m.Data[0] = 20
	require.Equal(t, DropValidator, d.Dispatch(ctx, m))
	m.Data[0] = 2
	require.Equal(t, Dispatched, d.Dispatch(ctx, m))
	require.Len(t, counter.calls, 3)

	valid = false
	require.Equal(t, DropInterfaceInvalid, d.Dispatch(ctx, msg(1, 4)))
	require.Len(t, counter.calls, 3)
}

func TestDispatchCheckOrder(t *testing.T) {
	var validated int
	d := NewDispatcher(&Interface{
		ID:      1,
		Handler: HandleMessageFunc(func(context.Context, *Message) {}),
		Valid:   func() bool { return false },
		Commands: []CommandSpec{
			{Length: 1, Validate: func(*Message) bool { validated++; return true }},
		},
	})
	_, reason := d.Check(&Message{Header: Header{Interface: 1, Command: 5}})
	require.Equal(t, DropInterfaceInvalid, reason, "validity is checked before the command bound")
	d.Lookup(1).Valid = nil
	_, reason = d.Check(&Message{Header: Header{Interface: 1, Command: 0}, Data: []byte{1, 2}})
	require.Equal(t, DropBadLength, reason)
	require.Zero(t, validated, "validator is not called on length mismatch")
	_, reason = d.Check(&Message{Header: Header{Interface: 1, Command: 0}, Data: []byte{1}})
	require.Equal(t, Dispatched, reason)
	require.Equal(t, 1, validated)
	require.Equal(t, "payload length mismatch", DropBadLength.String())
}

package sh

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/mwd.go/pkg/config"
	"github.com/robotalks/mwd.go/pkg/iface"
	"github.com/robotalks/mwd.go/pkg/node"
	"github.com/robotalks/mwd.go/pkg/rasp"
	"github.com/robotalks/mwd.go/pkg/record"
)

func startNode(t *testing.T) (*Conn, func()) {
	cfg := config.Config{Role: config.RoleProbe, Links: []config.LinkConfig{{Name: "pc"}}}
	require.NoError(t, config.Validate(&cfg))
	config.Normalize(&cfg)
	n, err := node.New(&cfg)
	require.NoError(t, err)
	a, b := net.Pipe()
	_, err = n.Attach("pc", a)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go n.Loop.Run(ctx)
	conn := NewConn("pipe", b)
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := conn.Call(iface.IfaceHole, iface.CmdRecordCount, nil)
		if err == nil {
			break
		}
		require.True(t, time.Now().Before(deadline), "node not ready: %v", err)
	}
	return conn, func() {
		conn.Close()
		cancel()
	}
}

func TestConnCall(t *testing.T) {
	conn, stop := startNode(t)
	defer stop()
	data, err := conn.Call(iface.IfaceDiagnostics, iface.CmdPing, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), data)

	_, err = conn.Call(iface.IfaceHole, iface.CmdCloseHole, nil)
	require.Error(t, err)
	require.IsType(t, &rasp.StatusError{}, err)
}

func TestConnUpload(t *testing.T) {
	conn, stop := startNode(t)
	defer stop()
	_, err := conn.Call(iface.IfaceHole, iface.CmdStartHole, iface.EncodeStartHole(record.HoleSettings{Name: "U"}))
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		_, err = conn.Call(iface.IfaceSensor, iface.CmdTakeSurvey, nil)
		require.NoError(t, err)
	}
	var got []uint32
	n, err := conn.Upload(2, 20, func(r record.Record) { got = append(got, r.Number) })
	require.NoError(t, err)
	require.EqualValues(t, 10, n)
	require.Len(t, got, 10)
	require.EqualValues(t, 2, got[0])
	require.EqualValues(t, 11, got[9])
}

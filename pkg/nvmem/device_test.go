package nvmem

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/mwd.go/pkg/framework"
)

func step(d *Device) {
	l := fx.NewLoop()
	l.Add(d)
	l.Step(context.Background(), time.Now())
}

func TestErased(t *testing.T) {
	d := New("img", 8)
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, d.Bytes())
	require.Equal(t, 8, d.Size())
}

func TestCompleteOnPoll(t *testing.T) {
	d := New("img", 16)
	got := -1
	require.True(t, d.WriteNVData(4, []byte{1, 2, 3}, func(n int) { got = n }))
	require.Equal(t, -1, got)
	require.False(t, d.ReadNVData(0, make([]byte, 1), func(int) {}), "busy")
	step(d)
	require.Equal(t, 3, got)
	buf := make([]byte, 3)
	require.True(t, d.ReadNVData(4, buf, func(n int) { got = n }))
	step(d)
	require.Equal(t, []byte{1, 2, 3}, buf)
}

func TestChunkAndImmediate(t *testing.T) {
	d := New("img", 16)
	d.Chunk, d.Immediate = 2, true
	got := 0
	require.True(t, d.WriteNVData(0, []byte{1, 2, 3, 4}, func(n int) { got = n }))
	require.Equal(t, 2, got)
	require.Equal(t, []byte{1, 2, 0xff}, d.Bytes()[:3])
}

func TestRejectBadRequests(t *testing.T) {
	d := New("img", 4)
	cb := func(int) {}
	require.False(t, d.ReadNVData(0, nil, cb))
	require.False(t, d.ReadNVData(0, []byte{}, cb))
	require.False(t, d.WriteNVData(0, []byte{1}, nil))
	require.False(t, d.WriteNVData(4, []byte{1}, cb))
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, d.Bytes())
}

func TestStalled(t *testing.T) {
	d := New("img", 4)
	d.Stalled = true
	called := false
	require.True(t, d.WriteNVData(0, []byte{1}, func(int) { called = true }))
	step(d)
	require.False(t, called)
	require.Equal(t, byte(0xff), d.Bytes()[0])
}

func TestFilePersistence(t *testing.T) {
	dir, err := ioutil.TempDir("", "nvmem")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	fn := filepath.Join(dir, "img1.bin")

	d, err := Open("img", fn, 8)
	require.NoError(t, err)
	d.Immediate = true
	require.True(t, d.WriteNVData(2, []byte{9, 8}, func(int) {}))
	require.NoError(t, d.Save())

	d, err = Open("img", fn, 8)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xff, 9, 8, 0xff, 0xff, 0xff, 0xff}, d.Bytes())
}

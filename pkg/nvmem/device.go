// Package nvmem provides in-memory non-volatile byte regions which
// complete transfers asynchronously on the loop tick, optionally
// persisted to a file.
package nvmem

import (
	"io/ioutil"
	"os"
	"sync"

	"github.com/pkg/errors"

	fx "github.com/robotalks/mwd.go/pkg/framework"
)

// Callback receives the number of bytes moved.
type Callback = func(n int)

type request struct {
	write bool
	addr  uint32
	buf   []byte
	cb    Callback
}

// Device is one NV memory region.
type Device struct {
	Name string
	// Chunk limits the bytes moved per request, 0 means unlimited.
	Chunk int
	// Immediate completes requests inside the call.
	Immediate bool
	// Stalled accepts requests but never completes them.
	Stalled bool

	mem     []byte
	path    string
	dirty   bool
	pending *request
	lock    sync.Mutex
}

// New creates an erased region of size bytes.
func New(name string, size int) *Device {
	d := &Device{Name: name, mem: make([]byte, size)}
	for i := range d.mem {
		d.mem[i] = 0xff
	}
	return d
}

// Open creates a region backed by the file at path, loading existing
// content if the file exists.
func Open(name, path string, size int) (*Device, error) {
	d := New(name, size)
	d.path = path
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return d, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	copy(d.mem, data)
	return d, nil
}

// Size returns the size of the region.
func (d *Device) Size() int {
	return len(d.mem)
}

// Bytes returns a copy of the region content.
func (d *Device) Bytes() []byte {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]byte(nil), d.mem...)
}

// Poke writes data directly, bypassing the request path.
func (d *Device) Poke(addr uint32, data []byte) {
	d.lock.Lock()
	copy(d.mem[addr:], data)
	d.dirty = true
	d.lock.Unlock()
}

// ReadNVData implements nvdb.Driver.
func (d *Device) ReadNVData(addr uint32, buf []byte, cb Callback) bool {
	return d.submit(&request{addr: addr, buf: buf, cb: cb})
}

// WriteNVData implements nvdb.Driver.
func (d *Device) WriteNVData(addr uint32, buf []byte, cb Callback) bool {
	return d.submit(&request{write: true, addr: addr, buf: buf, cb: cb})
}

func (d *Device) submit(r *request) bool {
	if len(r.buf) == 0 || r.cb == nil || int(r.addr) >= len(d.mem) {
		return false
	}
	d.lock.Lock()
	if d.pending != nil {
		d.lock.Unlock()
		return false
	}
	if d.Stalled {
		d.lock.Unlock()
		return true
	}
	if !d.Immediate {
		d.pending = r
		d.lock.Unlock()
		return true
	}
	n := d.transfer(r)
	d.lock.Unlock()
	r.cb(n)
	return true
}

// transfer must be called with lock held.
func (d *Device) transfer(r *request) int {
	buf := r.buf
	if d.Chunk > 0 && len(buf) > d.Chunk {
		buf = buf[:d.Chunk]
	}
	if r.write {
		d.dirty = true
		return copy(d.mem[r.addr:], buf)
	}
	return copy(buf, d.mem[r.addr:])
}

// Control completes the pending request and saves written content.
func (d *Device) Control(fx.ControlContext) error {
	d.lock.Lock()
	r := d.pending
	d.pending = nil
	var n int
	if r != nil {
		n = d.transfer(r)
	}
	d.lock.Unlock()
	if r != nil {
		r.cb(n)
	}
	return d.Save()
}

// AddToLoop implements LoopAdder.
func (d *Device) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvDevice, d)
}

// Save writes the content to the backing file if it changed.
func (d *Device) Save() error {
	if d.path == "" {
		return nil
	}
	d.lock.Lock()
	if !d.dirty {
		d.lock.Unlock()
		return nil
	}
	data := append([]byte(nil), d.mem...)
	d.dirty = false
	d.lock.Unlock()
	return errors.Wrapf(ioutil.WriteFile(d.path, data, 0644), "nvmem %s: write %s", d.Name, d.path)
}

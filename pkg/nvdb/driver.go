package nvdb

// Callback reports the number of bytes a transfer actually moved.
// It is invoked from the loop goroutine, possibly before the
// ReadNVData/WriteNVData call returns.
type Callback = func(n int)

// Driver is the low level NV byte transfer interface of one memory
// region. Both calls return false, without invoking cb, if the request
// is not accepted. A transfer may move fewer bytes than requested.
type Driver interface {
	ReadNVData(addr uint32, buf []byte, cb Callback) bool
	WriteNVData(addr uint32, buf []byte, cb Callback) bool
}

// Transfer limits.
const (
	// MaxWaitPolls is how many polls a transfer waits for its callback.
	MaxWaitPolls = 50
	// MaxRetries is how many times a stalled transfer is reissued
	// before the manager latches the error state.
	MaxRetries = 3
)

type xferState int

const (
	xferIdle xferState = iota
	xferBusy
	xferFailed
)

// transfer moves one buffer through a Driver, looping until every byte
// is transferred.
type transfer struct {
	state       xferState
	drv         Driver
	write       bool
	addr        uint32
	buf         []byte
	offset      int
	outstanding bool
	waited      int
	retries     int
	gen         uint32
}

func (x *transfer) start(drv Driver, write bool, addr uint32, buf []byte) {
	x.state, x.drv, x.write, x.addr, x.buf = xferBusy, drv, write, addr, buf
	x.offset, x.retries = 0, 0
	x.issue()
}

func (x *transfer) issue() {
	x.gen++
	gen := x.gen
	x.outstanding, x.waited = true, 0
	cb := func(n int) {
		if gen != x.gen || !x.outstanding {
			return
		}
		x.outstanding = false
		if n > 0 {
			x.offset += n
		}
	}
	addr, chunk := x.addr+uint32(x.offset), x.buf[x.offset:]
	var ok bool
	if x.write {
		ok = x.drv.WriteNVData(addr, chunk, cb)
	} else {
		ok = x.drv.ReadNVData(addr, chunk, cb)
	}
	if !ok {
		x.outstanding = false
		x.retry()
	}
}

func (x *transfer) retry() {
	if x.retries++; x.retries > MaxRetries {
		x.state = xferFailed
	}
}

// poll advances the transfer and reports whether it is finished.
func (x *transfer) poll() bool {
	switch x.state {
	case xferIdle:
		return true
	case xferFailed:
		return false
	}
	if x.outstanding {
		if x.waited++; x.waited > MaxWaitPolls {
			x.outstanding = false
			x.gen++
			x.retry()
		}
		return false
	}
	if x.offset >= len(x.buf) {
		x.state = xferIdle
		return true
	}
	x.issue()
	return false
}

package rasp

import (
	"github.com/robotalks/mwd.go/pkg/crc"
)

type txState int

const (
	txIdle txState = iota
	txStartHeader
	txHeader
	txStartData
	txData
	txEndData
	txCRC
)

// Transmitter produces the wire bytes of one frame on demand. The frame
// is copied in on Start so callers may reuse their buffers while the
// serial driver is still sending.
type Transmitter struct {
	inProgress bool
	state      txState
	header     [HeaderLen]byte
	data       [MsgBufLen]byte
	dataLen    int
	index      int
	marker     bool // ESC of a marker already emitted
	stuff      bool // ESC of a stuffed byte already emitted
	crc        uint32
}

// Start begins a new frame. It fails if a frame is already in progress,
// h is nil or data does not fit the body buffer.
func (t *Transmitter) Start(h *Header, data []byte) bool {
	if t.inProgress || h == nil || len(data) >= MsgBufLen {
		return false
	}
	t.header = h.Bytes()
	t.dataLen = copy(t.data[:], data)
	t.state, t.index = txStartHeader, 0
	t.marker, t.stuff = false, false
	t.crc = crc.Init
	t.inProgress = true
	return true
}

// InProgress reports whether a frame has been started and not released.
func (t *Transmitter) InProgress() bool {
	return t.inProgress
}

// Done reports whether all bytes of the current frame were produced.
func (t *Transmitter) Done() bool {
	return t.inProgress && t.state == txIdle
}

// Release ends the frame once the transport has sent every byte.
func (t *Transmitter) Release() {
	t.inProgress = false
	t.state = txIdle
}

// Fill writes the next bytes of the frame into buf and returns the count.
func (t *Transmitter) Fill(buf []byte) int {
	n := 0
	for n < len(buf) {
		b, ok := t.next()
		if !ok {
			break
		}
		buf[n] = b
		n++
	}
	return n
}

func (t *Transmitter) next() (byte, bool) {
	switch t.state {
	case txStartHeader:
		return t.emitMarker(SOH, txHeader), true
	case txHeader:
		b := t.emitStuffed(t.header[t.index])
		if !t.stuff {
			if t.index++; t.index == HeaderLen {
				t.state, t.index = txStartData, 0
			}
		}
		return b, true
	case txStartData:
		next := txData
		if t.dataLen == 0 {
			next = txEndData
		}
		return t.emitMarker(STX, next), true
	case txData:
		b := t.emitStuffed(t.data[t.index])
		if !t.stuff {
			if t.index++; t.index == t.dataLen {
				t.state = txEndData
			}
		}
		return b, true
	case txEndData:
		return t.emitMarker(ETX, txCRC), true
	case txCRC:
		b := byte(t.crc >> (8 * uint(t.index)))
		if t.index++; t.index == CRCLen {
			t.state = txIdle
		}
		return b, true
	}
	return 0, false
}

func (t *Transmitter) emitMarker(m byte, next txState) byte {
	if !t.marker {
		t.marker = true
		return ESC
	}
	t.marker = false
	t.state, t.index = next, 0
	return m
}

// emitStuffed returns ESC first for an ESC data byte; t.stuff stays set
// until the real byte is emitted and folded into the CRC.
func (t *Transmitter) emitStuffed(b byte) byte {
	if b == ESC && !t.stuff {
		t.stuff = true
		return ESC
	}
	t.stuff = false
	t.crc = crc.UpdateByte(t.crc, b)
	return b
}

// Encode returns the complete wire bytes of a frame.
func Encode(h *Header, data []byte) []byte {
	var t Transmitter
	if !t.Start(h, data) {
		return nil
	}
	out := make([]byte, 0, 2*(HeaderLen+len(data))+6+CRCLen)
	var chunk [TxChunkLen]byte
	for !t.Done() {
		out = append(out, chunk[:t.Fill(chunk[:])]...)
	}
	return out
}

package rasp

import (
	"github.com/golang/glog"

	"github.com/robotalks/mwd.go/pkg/crc"
)

type rxState int

const (
	rxLookingForStart rxState = iota // waiting for ESC SOH
	rxInHeader                       // header bytes until ESC STX
	rxInBody                         // body bytes until ESC ETX
	rxInCRC                          // 4 raw CRC bytes
)

// Receiver decodes frames one byte at a time. It never dispatches;
// the owner polls Complete and calls Rearm once the message is consumed.
type Receiver struct {
	state    rxState
	escaped  bool
	crc      uint32
	header   [HeaderLen]byte
	hdrLen   int
	body     [MsgBufLen]byte
	bodyLen  int
	crcIndex int
	complete bool

	// Resets counts frames abandoned after a start marker.
	Resets uint32
}

// Complete reports whether a verified message is waiting.
func (r *Receiver) Complete() bool {
	return r.complete
}

// Message returns the completed message, or nil. Data is copied so the
// message stays valid after Rearm.
func (r *Receiver) Message() *Message {
	if !r.complete {
		return nil
	}
	data := make([]byte, r.bodyLen)
	copy(data, r.body[:r.bodyLen])
	return &Message{Header: HeaderFrom(r.header), Data: data, CRC: r.crc}
}

// Rearm allows the next frame to be received.
func (r *Receiver) Rearm() {
	r.complete = false
}

// Reset abandons any partial frame and looks for a new start marker.
func (r *Receiver) Reset() {
	r.state, r.escaped = rxLookingForStart, false
}

// ServiceRx consumes one received byte.
func (r *Receiver) ServiceRx(b byte) {
	if r.complete {
		return
	}
	switch r.state {
	case rxLookingForStart:
		if r.escaped {
			r.escaped = false
			if b == SOH {
				r.startHeader()
			}
			return
		}
		r.escaped = b == ESC
	case rxInHeader:
		if r.escaped {
			r.escaped = false
			switch b {
			case ESC:
				r.headerByte(b)
			case STX:
				if r.hdrLen < HeaderLen {
					r.abort("short header")
					return
				}
				r.state = rxInBody
			case SOH:
				r.startHeader()
			default:
				r.abort("bad escape in header")
			}
			return
		}
		if b == ESC {
			r.escaped = true
			return
		}
		r.headerByte(b)
	case rxInBody:
		if r.escaped {
			r.escaped = false
			switch b {
			case ESC:
				r.bodyByte(b)
			case ETX:
				r.state, r.crcIndex = rxInCRC, 0
			case SOH:
				r.startHeader()
			default:
				r.abort("bad escape in body")
			}
			return
		}
		if b == ESC {
			r.escaped = true
			return
		}
		r.bodyByte(b)
	case rxInCRC:
		if b != byte(r.crc>>(8*uint(r.crcIndex))) {
			r.abort("crc mismatch")
			// the mismatching byte may begin the next frame.
			r.escaped = b == ESC
			return
		}
		if r.crcIndex++; r.crcIndex == CRCLen {
			r.state = rxLookingForStart
			r.complete = true
		}
	}
}

func (r *Receiver) startHeader() {
	r.state = rxInHeader
	r.crc = crc.Init
	r.hdrLen, r.bodyLen = 0, 0
}

func (r *Receiver) headerByte(b byte) {
	if r.hdrLen+r.bodyLen >= MaxFrameLen {
		r.abort("frame too long")
		return
	}
	r.crc = crc.UpdateByte(r.crc, b)
	if r.hdrLen < HeaderLen {
		r.header[r.hdrLen] = b
	}
	r.hdrLen++
}

func (r *Receiver) bodyByte(b byte) {
	if r.bodyLen >= MsgBufLen || r.hdrLen+r.bodyLen >= MaxFrameLen {
		r.abort("body too long")
		return
	}
	r.crc = crc.UpdateByte(r.crc, b)
	r.body[r.bodyLen] = b
	r.bodyLen++
}

func (r *Receiver) abort(reason string) {
	glog.V(4).Infof("rasp rx reset: %s", reason)
	r.Resets++
	r.Reset()
}

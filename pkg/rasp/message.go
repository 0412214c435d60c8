package rasp

// Framing bytes.
const (
	ESC byte = 0x10
	SOH byte = 0x01
	STX byte = 0x02
	ETX byte = 0x03
)

// Frame limits.
const (
	// HeaderLen is the number of header bytes stored.
	HeaderLen = 3
	// MsgBufLen is the body buffer size.
	MsgBufLen = 256
	// MaxFrameLen limits header+body length before stuffing.
	MaxFrameLen = HeaderLen + MsgBufLen + 13
	// CRCLen is the number of trailing CRC bytes.
	CRCLen = 4
	// TxChunkLen is the size of each burst handed to the serial driver.
	TxChunkLen = 64
)

// Header identifies the interface and command of a message.
type Header struct {
	Interface uint16
	Command   byte
}

// Bytes encodes the header.
func (h Header) Bytes() [HeaderLen]byte {
	return [HeaderLen]byte{byte(h.Interface >> 8), byte(h.Interface), h.Command}
}

// HeaderFrom decodes a header.
func HeaderFrom(b [HeaderLen]byte) Header {
	return Header{Interface: uint16(b[0])<<8 | uint16(b[1]), Command: b[2]}
}

// Message is a decoded frame.
type Message struct {
	Header Header
	Data   []byte
	CRC    uint32
}

// Status is the first byte of a reply payload.
type Status byte

// Reply status codes.
const (
	Accepted      Status = 0x00
	Rejected      Status = 0x01
	InvalidCmd    Status = 0x02
	NotAvailable  Status = 0x03
	NAInThisMode  Status = 0x04
	NotApplicable Status = 0x05
	MediaRemoved  Status = 0x06
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Accepted:
		return "ACCEPTED"
	case Rejected:
		return "REJECTED"
	case InvalidCmd:
		return "INVALID COMMAND"
	case NotAvailable:
		return "NOT AVAILABLE"
	case NAInThisMode:
		return "NOT AVAILABLE IN THIS MODE"
	case NotApplicable:
		return "NOT APPLICABLE"
	case MediaRemoved:
		return "MEDIA REMOVED"
	}
	return "UNKNOWN STATUS"
}

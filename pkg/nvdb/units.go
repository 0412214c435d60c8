package nvdb

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/lunixbochs/struc"

	"github.com/robotalks/mwd.go/pkg/crc"
)

// UnitID identifies a storage unit.
type UnitID int

// Storage units.
const (
	UnitIdentity UnitID = iota
	UnitConfig
	UnitOpState
	UnitMeters
	UnitUserText
	NumUnits
)

var unitNames = [NumUnits]string{"identity", "config", "opstate", "meters", "usertext"}

// String implements fmt.Stringer.
func (id UnitID) String() string {
	if id >= 0 && id < NumUnits {
		return unitNames[id]
	}
	return "invalid"
}

// Payload sizes, padded to even lengths.
const (
	IdentitySize = 44
	ConfigSize   = 14
	OpStateSize  = 22
	MetersSize   = 16
	UserTextSize = 64
)

var payloadSizes = [NumUnits]int{IdentitySize, ConfigSize, OpStateSize, MetersSize, UserTextSize}

// UnitSize is the on-media size of a unit including its checksum.
func UnitSize(id UnitID) int {
	return payloadSizes[id] + crc.Size
}

// RegionSize is the number of bytes one image region needs.
func RegionSize() int {
	var n int
	for id := UnitID(0); id < NumUnits; id++ {
		n += UnitSize(id)
	}
	return n
}

// UnitAddr is the offset of a unit within each image region.
func UnitAddr(id UnitID) uint32 {
	var addr uint32
	for i := UnitID(0); i < id; i++ {
		addr += uint32(UnitSize(i))
	}
	return addr
}

var packOpts = &struc.Options{Order: binary.LittleEndian}

// ErrShortPayload is returned when decoding too few bytes.
var ErrShortPayload = errors.New("payload too short")

func pack(v interface{}, dst []byte) {
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, v, packOpts); err != nil {
		panic(err)
	}
	copy(dst, buf.Bytes())
}

func unpack(src []byte, v interface{}) {
	if err := struc.UnpackWithOptions(bytes.NewReader(src), v, packOpts); err != nil {
		panic(err)
	}
}

// IdentityInfo is the device identity unit.
type IdentityInfo struct {
	SerialNumber    [16]byte
	BoardID         [16]byte
	Model           uint16
	HardwareRev     uint16
	FirmwareRev     uint16
	NodeType        uint8
	Reserved        uint8
	ManufactureDate uint32
}

// Node types.
const (
	NodeProbe  uint8 = 1
	NodeUphole uint8 = 2
)

// ConfigFlags are the boolean configuration options. On media they are
// one byte, bit 0 first in declaration order.
type ConfigFlags struct {
	MetricUnits    bool
	GammaEnabled   bool
	AutoSurvey     bool
	BeepOnSurvey   bool
	Backlight      bool
	ProbePowerSave bool
}

// Byte encodes the flags.
func (f ConfigFlags) Byte() byte {
	var b byte
	for i, v := range []bool{f.MetricUnits, f.GammaEnabled, f.AutoSurvey, f.BeepOnSurvey, f.Backlight, f.ProbePowerSave} {
		if v {
			b |= 1 << uint(i)
		}
	}
	return b
}

// ConfigFlagsFrom decodes the flags byte.
func ConfigFlagsFrom(b byte) ConfigFlags {
	return ConfigFlags{
		MetricUnits:    b&0x01 != 0,
		GammaEnabled:   b&0x02 != 0,
		AutoSurvey:     b&0x04 != 0,
		BeepOnSurvey:   b&0x08 != 0,
		Backlight:      b&0x10 != 0,
		ProbePowerSave: b&0x20 != 0,
	}
}

// Settings is the configuration unit. Lengths are in tenths of a unit,
// angles in tenths of a degree.
type Settings struct {
	Flags             ConfigFlags
	DefaultPipeLength uint16
	Declination       int16
	DesiredAzimuth    int16
	Toolface          int16
	SurveyInterval    uint16
	BacklightLevel    uint8
	ModemChannel      uint8
}

func (s *Settings) marshal(dst []byte) {
	dst[0], dst[1] = s.Flags.Byte(), 0
	le := binary.LittleEndian
	le.PutUint16(dst[2:], s.DefaultPipeLength)
	le.PutUint16(dst[4:], uint16(s.Declination))
	le.PutUint16(dst[6:], uint16(s.DesiredAzimuth))
	le.PutUint16(dst[8:], uint16(s.Toolface))
	le.PutUint16(dst[10:], s.SurveyInterval)
	dst[12], dst[13] = s.BacklightLevel, s.ModemChannel
}

func (s *Settings) unmarshal(src []byte) {
	le := binary.LittleEndian
	s.Flags = ConfigFlagsFrom(src[0])
	s.DefaultPipeLength = le.Uint16(src[2:])
	s.Declination = int16(le.Uint16(src[4:]))
	s.DesiredAzimuth = int16(le.Uint16(src[6:]))
	s.Toolface = int16(le.Uint16(src[8:]))
	s.SurveyInterval = le.Uint16(src[10:])
	s.BacklightLevel, s.ModemChannel = src[12], src[13]
}

// OpState is the operational state unit, mirroring the record manager.
type OpState struct {
	HoleNumber      uint32
	HoleOpen        uint8
	Reserved        uint8
	RecordCount     uint32
	HoleStartRecord uint32
	MarkerCount     uint32
	LastSurveyTime  uint32
}

// Meters is the usage counters unit.
type Meters struct {
	PowerOnSeconds uint32
	SurveyCount    uint32
	BootCount      uint32
	MaxTemperature int16
	MinBattery     uint16
}

// DefaultIdentity is the compiled-in identity.
var DefaultIdentity = IdentityInfo{
	Model:       1,
	HardwareRev: 1,
	FirmwareRev: 0x0100,
}

// DefaultSettings is the compiled-in configuration.
var DefaultSettings = Settings{
	Flags:             ConfigFlags{GammaEnabled: true, Backlight: true},
	DefaultPipeLength: 30,
	SurveyInterval:    30,
	BacklightLevel:    8,
}

// marshalDefault fills payload with the compiled-in defaults of the unit.
func (m *Manager) marshalDefault(id UnitID, payload []byte) {
	for i := range payload {
		payload[i] = 0
	}
	switch id {
	case UnitIdentity:
		pack(&m.defaultIdentity, payload)
	case UnitConfig:
		m.defaultSettings.marshal(payload)
	}
}

// CopyString copies s into a fixed NUL padded field.
func CopyString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// String returns a NUL terminated string from a fixed field.
func String(src []byte) string {
	if n := bytes.IndexByte(src, 0); n >= 0 {
		src = src[:n]
	}
	return string(src)
}

func marshalStruc(v interface{}, size int) ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, v, packOpts); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, buf.Bytes())
	return out, nil
}

func unmarshalStruc(data []byte, v interface{}, size int) error {
	if len(data) < size {
		return ErrShortPayload
	}
	return struc.UnpackWithOptions(bytes.NewReader(data), v, packOpts)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (info *IdentityInfo) MarshalBinary() ([]byte, error) {
	return marshalStruc(info, IdentitySize)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (info *IdentityInfo) UnmarshalBinary(data []byte) error {
	return unmarshalStruc(data, info, IdentitySize)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Settings) MarshalBinary() ([]byte, error) {
	out := make([]byte, ConfigSize)
	s.marshal(out)
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *Settings) UnmarshalBinary(data []byte) error {
	if len(data) < ConfigSize {
		return ErrShortPayload
	}
	s.unmarshal(data)
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (st *OpState) MarshalBinary() ([]byte, error) {
	return marshalStruc(st, OpStateSize)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (st *OpState) UnmarshalBinary(data []byte) error {
	return unmarshalStruc(data, st, OpStateSize)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (mt *Meters) MarshalBinary() ([]byte, error) {
	return marshalStruc(mt, MetersSize)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (mt *Meters) UnmarshalBinary(data []byte) error {
	return unmarshalStruc(data, mt, MetersSize)
}

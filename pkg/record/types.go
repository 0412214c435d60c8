package record

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/lunixbochs/struc"

	"github.com/robotalks/mwd.go/pkg/survey"
)

// Layout of the log media.
const (
	PageSize       = 512
	PageHeaderSize = 4
	RecordSize     = 48
	MarkerSize     = 38

	RecordsPerPage = (PageSize - PageHeaderSize) / RecordSize
	MarkersPerPage = (PageSize - PageHeaderSize) / MarkerSize

	DefaultRecordBase uint32 = 0
	DefaultMarkerBase uint32 = 0x8000
)

// NoRecord is the null record number in branch links.
const NoRecord uint32 = 0xffffffff

// Record status bits.
const (
	StatusHoleStart    uint16 = 0x0001
	StatusBranchPoint  uint16 = 0x0002
	StatusBranchChild  uint16 = 0x0004
	StatusManualLength uint16 = 0x0008
)

// Record is one survey record as stored on media. Angles are in tenths
// of a degree, lengths and positions in tenths of a unit.
type Record struct {
	Number      uint32
	Timestamp   uint32
	Length      int32
	Azimuth     int16
	Pitch       int16
	Roll        int16
	Temperature int16
	X           int32
	Y           int32
	Z           int32
	Gamma       uint16
	Status      uint16
	BranchCount uint16
	Reserved    uint16
	PrevBranch  uint32
	NextBranch  uint32
}

// Station returns the orientation of the record.
func (r *Record) Station() survey.Station {
	return survey.Station{
		Azimuth: survey.AngleFromTenths(int32(r.Azimuth)),
		Pitch:   survey.AngleFromTenths(int32(r.Pitch)),
	}
}

// Marker kinds.
const (
	MarkerNewHole uint8 = 1
	MarkerClosed  uint8 = 2
	MarkerBranch  uint8 = 3
)

// HoleMarker delimits the record range [StartRecord, EndRecord) of one hole.
type HoleMarker struct {
	HoleNumber        uint32
	Kind              uint8
	Reserved          uint8
	Name              [8]byte
	StartRecord       uint32
	EndRecord         uint32
	StartTime         uint32
	DefaultPipeLength uint16
	Declination       int16
	DesiredAzimuth    int16
	Toolface          int16
	BranchRecord      uint32
}

// HoleName returns the name of the hole.
func (h *HoleMarker) HoleName() string {
	if n := bytes.IndexByte(h.Name[:], 0); n >= 0 {
		return string(h.Name[:n])
	}
	return string(h.Name[:])
}

// HoleSettings are the per-hole parameters captured in markers.
type HoleSettings struct {
	Name              string
	DefaultPipeLength uint16
	Declination       int16
	DesiredAzimuth    int16
	Toolface          int16
}

// Survey is one measurement to log. Length overrides the default pipe
// length when positive.
type Survey struct {
	Time        uint32
	Azimuth     int16
	Pitch       int16
	Roll        int16
	Temperature int16
	Gamma       uint16
	Length      int32
}

// Totals are the running accumulators of the current hole.
type Totals struct {
	North  float64
	East   float64
	Depth  float64
	Length int32
}

// Position returns the totals in stored fixed point.
func (t Totals) Position() (x, y, z int32) {
	return RoundTenths(t.North), RoundTenths(t.East), RoundTenths(t.Depth)
}

func (t Totals) add(d survey.Delta) Totals {
	t.North, t.East, t.Depth = t.North+d.North, t.East+d.East, t.Depth+d.Depth
	return t
}

func (t Totals) sub(d survey.Delta) Totals {
	t.North, t.East, t.Depth = t.North-d.North, t.East-d.East, t.Depth-d.Depth
	return t
}

func totalsOf(r *Record) Totals {
	return Totals{
		North:  float64(r.X) / 10,
		East:   float64(r.Y) / 10,
		Depth:  float64(r.Z) / 10,
		Length: r.Length,
	}
}

// RoundTenths converts v to tenths rounding half away from zero.
func RoundTenths(v float64) int32 {
	return int32(math.Round(v * 10))
}

var packOpts = &struc.Options{Order: binary.LittleEndian}

func encode(v interface{}, dst []byte) error {
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, v, packOpts); err != nil {
		return err
	}
	copy(dst, buf.Bytes())
	return nil
}

func decode(src []byte, v interface{}) error {
	return struc.UnpackWithOptions(bytes.NewReader(src), v, packOpts)
}

// EncodeRecord returns the media encoding of r.
func EncodeRecord(r *Record) []byte {
	buf := make([]byte, RecordSize)
	if err := encode(r, buf); err != nil {
		panic(err)
	}
	return buf
}

// DecodeRecord parses a media encoded record.
func DecodeRecord(src []byte) (r Record, err error) {
	err = decode(src, &r)
	return
}

// EncodeMarker returns the media encoding of h.
func EncodeMarker(h *HoleMarker) []byte {
	buf := make([]byte, MarkerSize)
	if err := encode(h, buf); err != nil {
		panic(err)
	}
	return buf
}

// DecodeMarker parses a media encoded marker.
func DecodeMarker(src []byte) (h HoleMarker, err error) {
	err = decode(src, &h)
	return
}

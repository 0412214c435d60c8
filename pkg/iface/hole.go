package iface

import (
	"bytes"
	"context"

	"github.com/golang/glog"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/robotalks/mwd.go/pkg/rasp"
	"github.com/robotalks/mwd.go/pkg/record"
)

// Hole commands.
const (
	CmdHoleInfo byte = iota
	CmdStartHole
	CmdCloseHole
	CmdGetRecord
	CmdRecordCount
	CmdRemoveLast
	CmdDeleteRecord
	CmdBranch
	CmdGetMarker
	CmdCancelBranch
)

// Start hole payload limits: pipe length, declination, desired
// azimuth and toolface, then up to 8 name bytes.
const (
	startHoleMin = 8
	startHoleMax = startHoleMin + 8
)

// HoleInfoSize is the encoded size of HoleInfo.
const HoleInfoSize = 29

// HoleInfo is the reply of CmdHoleInfo.
type HoleInfo struct {
	HoleNumber  uint32
	Open        uint8
	RecordCount uint32
	HoleStart   uint32
	North       int32
	East        int32
	Depth       int32
	Length      int32
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h *HoleInfo) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, h, packOpts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *HoleInfo) UnmarshalBinary(data []byte) error {
	if len(data) < HoleInfoSize {
		return errors.Errorf("hole info too short: %d", len(data))
	}
	return struc.UnpackWithOptions(bytes.NewReader(data), h, packOpts)
}

// EncodeStartHole builds the CmdStartHole payload.
func EncodeStartHole(hole record.HoleSettings) []byte {
	data := make([]byte, startHoleMin, startHoleMax)
	le.PutUint16(data[0:], hole.DefaultPipeLength)
	le.PutUint16(data[2:], uint16(hole.Declination))
	le.PutUint16(data[4:], uint16(hole.DesiredAzimuth))
	le.PutUint16(data[6:], uint16(hole.Toolface))
	name := hole.Name
	if len(name) > 8 {
		name = name[:8]
	}
	return append(data, name...)
}

// HoleInterface serves the survey log.
func (s *Services) HoleInterface() *rasp.Interface {
	return &rasp.Interface{
		ID:    IfaceHole,
		Valid: s.hasRecords,
		Commands: []rasp.CommandSpec{
			CmdHoleInfo: {Length: 0},
			CmdStartHole: {Length: rasp.AnyLength, Validate: func(msg *rasp.Message) bool {
				return len(msg.Data) >= startHoleMin && len(msg.Data) <= startHoleMax
			}},
			CmdCloseHole:    {Length: 0},
			CmdGetRecord:    {Length: 4},
			CmdRecordCount:  {Length: 0},
			CmdRemoveLast:   {Length: 0},
			CmdDeleteRecord: {Length: 4},
			CmdBranch:       {Length: 4},
			CmdGetMarker:    {Length: 4},
			CmdCancelBranch: {Length: 0},
		},
		MaxCommand: CmdCancelBranch,
		Handler: handlerTable{
			CmdHoleInfo:     s.holeInfo,
			CmdStartHole:    s.startHole,
			CmdCloseHole:    s.closeHole,
			CmdGetRecord:    s.getRecord,
			CmdRecordCount:  s.recordCount,
			CmdRemoveLast:   s.removeLast,
			CmdDeleteRecord: s.deleteRecord,
			CmdBranch:       s.branch,
			CmdGetMarker:    s.getMarker,
			CmdCancelBranch: s.cancelBranch,
		},
	}
}

// statusOf maps log errors to reply status.
func statusOf(err error) rasp.Status {
	switch errors.Cause(err) {
	case nil:
		return rasp.Accepted
	case record.ErrNotFound, record.ErrEmpty:
		return rasp.NotAvailable
	case record.ErrHoleClosed, record.ErrBranchPending, record.ErrNoBranch:
		return rasp.NAInThisMode
	}
	glog.Errorf("iface: record log: %v", err)
	return rasp.Rejected
}

func (s *Services) holeInfo(ctx context.Context, msg *rasp.Message) {
	st, totals := s.Records.State(), s.Records.Totals()
	info := HoleInfo{
		HoleNumber:  st.HoleNumber,
		RecordCount: st.RecordCount,
		HoleStart:   st.HoleStart,
		Length:      totals.Length,
	}
	if st.HoleOpen {
		info.Open = 1
	}
	info.North, info.East, info.Depth = totals.Position()
	replyEncoded(rasp.SessionFrom(ctx), msg.Header, &info)
}

func (s *Services) startHole(ctx context.Context, msg *rasp.Message) {
	hole := record.HoleSettings{
		DefaultPipeLength: le.Uint16(msg.Data[0:]),
		Declination:       int16(le.Uint16(msg.Data[2:])),
		DesiredAzimuth:    int16(le.Uint16(msg.Data[4:])),
		Toolface:          int16(le.Uint16(msg.Data[6:])),
		Name:              string(bytes.TrimRight(msg.Data[startHoleMin:], "\x00")),
	}
	if hole.DefaultPipeLength == 0 && s.NVDB != nil {
		if settings, ok := s.NVDB.Settings(); ok {
			hole.DefaultPipeLength = settings.DefaultPipeLength
			hole.Declination = settings.Declination
			hole.DesiredAzimuth = settings.DesiredAzimuth
			hole.Toolface = settings.Toolface
		}
	}
	err := s.Records.StartHole(hole, s.now())
	if err != nil {
		reply(ctx, msg, statusOf(err), nil)
		return
	}
	num, _ := s.Records.HoleNumber()
	reply(ctx, msg, rasp.Accepted, u32(num))
}

func (s *Services) closeHole(ctx context.Context, msg *rasp.Message) {
	reply(ctx, msg, statusOf(s.Records.CloseHole()), nil)
}

func (s *Services) getRecord(ctx context.Context, msg *rasp.Message) {
	data, err := s.Records.GetRecordBytes(le.Uint32(msg.Data))
	if err != nil {
		reply(ctx, msg, statusOf(err), nil)
		return
	}
	reply(ctx, msg, rasp.Accepted, data)
}

func (s *Services) recordCount(ctx context.Context, msg *rasp.Message) {
	reply(ctx, msg, rasp.Accepted, u32(s.Records.GetRecordCount()))
}

func (s *Services) removeLast(ctx context.Context, msg *rasp.Message) {
	rec, err := s.Records.RemoveLastRecord()
	if err != nil {
		reply(ctx, msg, statusOf(err), nil)
		return
	}
	reply(ctx, msg, rasp.Accepted, u32(rec.Number))
}

func (s *Services) deleteRecord(ctx context.Context, msg *rasp.Message) {
	reply(ctx, msg, statusOf(s.Records.DeleteRecord(le.Uint32(msg.Data))), nil)
}

func (s *Services) branch(ctx context.Context, msg *rasp.Message) {
	reply(ctx, msg, statusOf(s.Records.RecordBranch(le.Uint32(msg.Data))), nil)
}

func (s *Services) cancelBranch(ctx context.Context, msg *rasp.Message) {
	reply(ctx, msg, statusOf(s.Records.CancelBranch()), nil)
}

func (s *Services) getMarker(ctx context.Context, msg *rasp.Message) {
	h, err := s.Records.GetHole(le.Uint32(msg.Data))
	if err != nil {
		reply(ctx, msg, statusOf(err), nil)
		return
	}
	reply(ctx, msg, rasp.Accepted, record.EncodeMarker(&h))
}

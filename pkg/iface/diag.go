package iface

import (
	"context"

	"github.com/robotalks/mwd.go/pkg/nvdb"
	"github.com/robotalks/mwd.go/pkg/rasp"
)

// Diagnostics commands.
const (
	CmdPing byte = iota
	CmdLinkStats
	CmdUnitStatus
	CmdReadUnit
	CmdWriteUnit
	CmdRepairUnits
	CmdRestoreDefaults
	CmdClearError
	CmdMeters
)

// Unit status flag bits.
const (
	UnitDirty byte = 1 << iota
	UnitCorrupt
	UnitInitialized
	UnitImage1Empty
	UnitImage2Empty
)

// LinkStatsSize is the size of the stats of one link.
const LinkStatsSize = 12

func validUnit(msg *rasp.Message) bool {
	return len(msg.Data) > 0 && nvdb.UnitID(msg.Data[0]) < nvdb.NumUnits
}

// DiagnosticsInterface serves link and storage diagnostics.
func (s *Services) DiagnosticsInterface() *rasp.Interface {
	return &rasp.Interface{
		ID: IfaceDiagnostics,
		Commands: []rasp.CommandSpec{
			CmdPing:       {Length: rasp.AnyLength},
			CmdLinkStats:  {Length: 0},
			CmdUnitStatus: {Length: 1, Validate: validUnit},
			CmdReadUnit:   {Length: 1, Validate: validUnit},
			CmdWriteUnit: {Length: rasp.AnyLength, Validate: func(msg *rasp.Message) bool {
				return validUnit(msg) && len(msg.Data) == 1+nvdb.UnitSize(nvdb.UnitID(msg.Data[0]))
			}},
			CmdRepairUnits:     {Length: 0},
			CmdRestoreDefaults: {Length: 1, Validate: validUnit},
			CmdClearError:      {Length: 0},
			CmdMeters:          {Length: 0},
		},
		MaxCommand: CmdMeters,
		Handler: handlerTable{
			CmdPing:            s.ping,
			CmdLinkStats:       s.linkStats,
			CmdUnitStatus:      s.withNVDB(s.unitStatus),
			CmdReadUnit:        s.withNVDB(s.readUnit),
			CmdWriteUnit:       s.withNVDB(s.writeUnit),
			CmdRepairUnits:     s.withNVDB(s.repairUnits),
			CmdRestoreDefaults: s.withNVDB(s.restoreDefaults),
			CmdClearError:      s.withNVDB(s.clearError),
			CmdMeters:          s.withNVDB(s.meters),
		},
	}
}

func (s *Services) withNVDB(fn func(context.Context, *rasp.Message)) func(context.Context, *rasp.Message) {
	return func(ctx context.Context, msg *rasp.Message) {
		if s.NVDB == nil {
			reply(ctx, msg, rasp.NotApplicable, nil)
			return
		}
		fn(ctx, msg)
	}
}

func (s *Services) ping(ctx context.Context, msg *rasp.Message) {
	reply(ctx, msg, rasp.Accepted, msg.Data)
}

func (s *Services) linkStats(ctx context.Context, msg *rasp.Message) {
	data := make([]byte, 0, len(s.Links)*LinkStatsSize)
	for _, link := range s.Links {
		data = append(data, u32(link.Stats.Received)...)
		data = append(data, u32(link.Stats.Dropped)...)
		data = append(data, u32(link.Stats.Sent)...)
	}
	reply(ctx, msg, rasp.Accepted, data)
}

// EncodeUnitStatus packs st into flag bits.
func EncodeUnitStatus(st nvdb.UnitStatus) []byte {
	var b byte
	for _, f := range []struct {
		set bool
		bit byte
	}{
		{st.Dirty, UnitDirty},
		{st.Corrupt, UnitCorrupt},
		{st.Initialized, UnitInitialized},
		{st.Empty[nvdb.Image1], UnitImage1Empty},
		{st.Empty[nvdb.Image2], UnitImage2Empty},
	} {
		if f.set {
			b |= f.bit
		}
	}
	return []byte{b}
}

func (s *Services) unitStatus(ctx context.Context, msg *rasp.Message) {
	reply(ctx, msg, rasp.Accepted, EncodeUnitStatus(s.NVDB.Status(nvdb.UnitID(msg.Data[0]))))
}

func (s *Services) readUnit(ctx context.Context, msg *rasp.Message) {
	id := nvdb.UnitID(msg.Data[0])
	buf := make([]byte, nvdb.UnitSize(id))
	if n := s.NVDB.ReadUnit(id, buf); n == 0 {
		reply(ctx, msg, rasp.NotAvailable, nil)
		return
	}
	reply(ctx, msg, rasp.Accepted, buf)
}

func (s *Services) writeUnit(ctx context.Context, msg *rasp.Message) {
	if !s.NVDB.WriteUnit(nvdb.UnitID(msg.Data[0]), msg.Data[1:]) {
		reply(ctx, msg, rasp.Rejected, nil)
		return
	}
	reply(ctx, msg, rasp.Accepted, nil)
}

func (s *Services) repairUnits(ctx context.Context, msg *rasp.Message) {
	reply(ctx, msg, rasp.Accepted, []byte{byte(s.NVDB.RepairCorruptSU())})
}

func (s *Services) restoreDefaults(ctx context.Context, msg *rasp.Message) {
	if !s.NVDB.RestoreDefaults(nvdb.UnitID(msg.Data[0])) {
		reply(ctx, msg, rasp.NAInThisMode, nil)
		return
	}
	reply(ctx, msg, rasp.Accepted, nil)
}

func (s *Services) clearError(ctx context.Context, msg *rasp.Message) {
	if !s.NVDB.TransferFailed() {
		reply(ctx, msg, rasp.NotApplicable, nil)
		return
	}
	s.NVDB.ClearError()
	reply(ctx, msg, rasp.Accepted, nil)
}

func (s *Services) meters(ctx context.Context, msg *rasp.Message) {
	mt, ok := s.NVDB.Meters()
	if !ok {
		reply(ctx, msg, rasp.NotAvailable, nil)
		return
	}
	replyEncoded(rasp.SessionFrom(ctx), msg.Header, &mt)
}

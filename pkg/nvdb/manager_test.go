package nvdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/mwd.go/pkg/crc"
	fx "github.com/robotalks/mwd.go/pkg/framework"
	"github.com/robotalks/mwd.go/pkg/nvmem"
)

type recDriver struct {
	Driver
	writes [][]byte
}

func (d *recDriver) WriteNVData(addr uint32, buf []byte, cb Callback) bool {
	ok := d.Driver.WriteNVData(addr, buf, cb)
	if ok && addr == UnitAddr(UnitConfig) {
		d.writes = append(d.writes, append([]byte(nil), buf...))
	}
	return ok
}

type rig struct {
	img  [2]*nvmem.Device
	rec  [2]*recDriver
	m    *Manager
	loop *fx.Loop
}

func newRig(opts ...Option) *rig {
	r := &rig{loop: fx.NewLoop()}
	for i := range r.img {
		r.img[i] = nvmem.New("img", RegionSize())
		r.rec[i] = &recDriver{Driver: r.img[i]}
		r.loop.Add(r.img[i])
	}
	r.m = NewManager(r.rec[0], r.rec[1], opts...)
	r.loop.Add(r.m)
	return r
}

func (r *rig) run(t *testing.T, cond func() bool) {
	for i := 0; i < 2000; i++ {
		if cond() {
			return
		}
		r.loop.Step(context.Background(), time.Now())
	}
	t.Fatal("condition not reached")
}

func (r *rig) unitImage(img int, id UnitID) []byte {
	addr := UnitAddr(id)
	return r.img[img].Bytes()[addr : addr+uint32(UnitSize(id))]
}

func settingsUnit(s Settings) []byte {
	buf := make([]byte, UnitSize(UnitConfig))
	s.marshal(buf)
	crc.Stamp(buf)
	return buf
}

func fill(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestUnitLayout(t *testing.T) {
	require.Equal(t, 48, UnitSize(UnitIdentity))
	require.Equal(t, 18, UnitSize(UnitConfig))
	require.Equal(t, uint32(48), UnitAddr(UnitConfig))
	for id := UnitID(0); id < NumUnits; id++ {
		require.Zero(t, UnitSize(id)%2, id.String())
	}
	require.Equal(t, int(UnitAddr(UnitUserText))+UnitSize(UnitUserText), RegionSize())
}

func TestConfigFlagsBits(t *testing.T) {
	require.Equal(t, byte(0x05), ConfigFlags{MetricUnits: true, AutoSurvey: true}.Byte())
	require.Equal(t, byte(0x20), ConfigFlags{ProbePowerSave: true}.Byte())
	f := ConfigFlagsFrom(0x3f)
	require.Equal(t, ConfigFlags{true, true, true, true, true, true}, f)
	require.Equal(t, byte(0x3f), f.Byte())
}

func TestInitBothEmpty(t *testing.T) {
	info := DefaultIdentity
	CopyString(info.SerialNumber[:], "SN-0042")
	r := newRig(WithIdentityDefaults(info))
	r.run(t, r.m.Initialized)

	for id := UnitID(0); id < NumUnits; id++ {
		st := r.m.Status(id)
		require.True(t, st.Initialized, id.String())
		require.False(t, st.Corrupt, id.String())
		require.Equal(t, [2]bool{true, true}, st.Empty)
		require.True(t, crc.Valid(r.unitImage(Image1, id)), id.String())
		// first boot only writes image 1.
		require.Equal(t, fill(UnitSize(id), 0xff), r.unitImage(Image2, id))
	}
	s, ok := r.m.Settings()
	require.True(t, ok)
	require.Equal(t, DefaultSettings, s)
	got, ok := r.m.Identity()
	require.True(t, ok)
	require.Equal(t, "SN-0042", String(got.SerialNumber[:]))
}

func TestInitImage1Valid(t *testing.T) {
	r := newRig()
	want := DefaultSettings
	want.Declination = -123
	unit := settingsUnit(want)
	r.img[Image1].Poke(UnitAddr(UnitConfig), unit)
	r.run(t, r.m.Initialized)
	s, ok := r.m.Settings()
	require.True(t, ok)
	require.Equal(t, want, s)
	require.Equal(t, [2]bool{}, r.m.Status(UnitConfig).Empty)
}

func TestInitRepairImage1FromImage2(t *testing.T) {
	r := newRig()
	want := DefaultSettings
	want.DesiredAzimuth = 2705
	want.Flags.MetricUnits = true
	unit := settingsUnit(want)
	r.img[Image1].Poke(UnitAddr(UnitConfig), fill(len(unit), 0x55))
	r.img[Image2].Poke(UnitAddr(UnitConfig), unit)
	r.run(t, r.m.Initialized)

	s, ok := r.m.Settings()
	require.True(t, ok)
	require.Equal(t, want, s)
	require.Equal(t, unit, r.unitImage(Image1, UnitConfig))
	require.False(t, r.m.Status(UnitConfig).Corrupt)
}

func TestInitBothCorrupt(t *testing.T) {
	r := newRig()
	size := UnitSize(UnitConfig)
	garbage := fill(size, 0xab)
	copy(r.m.units[UnitConfig].ram, garbage)
	r.img[Image1].Poke(UnitAddr(UnitConfig), fill(size, 0x55))
	r.img[Image2].Poke(UnitAddr(UnitConfig), fill(size, 0x66))
	r.run(t, r.m.Initialized)

	st := r.m.Status(UnitConfig)
	require.True(t, st.Corrupt)
	require.True(t, st.Initialized)
	require.Equal(t, [2]bool{false, false}, st.Empty)
	require.Equal(t, garbage, r.m.units[UnitConfig].ram)
	_, ok := r.m.Settings()
	require.False(t, ok)
	require.False(t, r.m.SetSettings(DefaultSettings))
	require.Zero(t, r.m.ReadUnit(UnitConfig, make([]byte, size)))

	// a dirty corrupt unit is skipped and its flag cleared.
	r.m.units[UnitConfig].dirty = true
	require.Nil(t, r.m.nextDirty())
	require.False(t, r.m.Status(UnitConfig).Dirty)
	require.Equal(t, fill(size, 0x55), r.unitImage(Image1, UnitConfig))

	require.Equal(t, 1, r.m.RepairCorruptSU())
	require.True(t, r.m.Status(UnitConfig).Dirty)
	r.run(t, r.m.Flushed)
	s, ok := r.m.Settings()
	require.True(t, ok)
	require.Equal(t, DefaultSettings, s)
	require.Equal(t, settingsUnit(DefaultSettings), r.unitImage(Image1, UnitConfig))
	require.Equal(t, settingsUnit(DefaultSettings), r.unitImage(Image2, UnitConfig))
}

func TestSteadyStateWritesBothImages(t *testing.T) {
	r := newRig()
	r.run(t, r.m.Initialized)
	want := DefaultSettings
	want.DefaultPipeLength = 96
	require.True(t, r.m.SetSettings(want))
	require.True(t, r.m.SetMeters(Meters{BootCount: 3, MaxTemperature: -40}))
	require.True(t, r.m.SetUserText("rig 7"))
	r.run(t, r.m.Flushed)

	for _, id := range []UnitID{UnitConfig, UnitMeters, UnitUserText} {
		require.True(t, crc.Valid(r.unitImage(Image1, id)), id.String())
		require.Equal(t, r.unitImage(Image1, id), r.unitImage(Image2, id), id.String())
	}
	require.Equal(t, settingsUnit(want), r.unitImage(Image2, UnitConfig))
	mt, ok := r.m.Meters()
	require.True(t, ok)
	require.Equal(t, uint32(3), mt.BootCount)
	require.Equal(t, int16(-40), mt.MaxTemperature)
	txt, _ := r.m.UserText()
	require.Equal(t, "rig 7", txt)
}

func TestRedirtySkipsImage2(t *testing.T) {
	r := newRig()
	r.run(t, r.m.Initialized)
	r.rec[0].writes, r.rec[1].writes = nil, nil

	a, b := DefaultSettings, DefaultSettings
	a.Toolface, b.Toolface = 100, 200
	require.True(t, r.m.SetSettings(a))
	r.run(t, func() bool { return r.m.phase == phaseImage1 })
	require.True(t, r.m.SetSettings(b))
	r.run(t, r.m.Flushed)

	require.Equal(t, [][]byte{settingsUnit(a), settingsUnit(b)}, r.rec[0].writes)
	require.Equal(t, [][]byte{settingsUnit(b)}, r.rec[1].writes)
}

func TestRoundRobin(t *testing.T) {
	r := newRig()
	r.run(t, r.m.Initialized)
	require.True(t, r.m.SetUserText("x"))
	require.True(t, r.m.SetSettings(DefaultSettings))
	u := r.m.nextDirty()
	require.Equal(t, UnitConfig, u.id)
	u = r.m.nextDirty()
	require.Equal(t, UnitUserText, u.id)
}

func TestTransferErrorLatch(t *testing.T) {
	r := newRig()
	r.img[Image1].Stalled = true
	r.run(t, r.m.TransferFailed)
	require.False(t, r.m.Initialized())

	r.img[Image1].Stalled = false
	r.m.ClearError()
	require.False(t, r.m.TransferFailed())
	r.run(t, r.m.Initialized)
	require.False(t, r.m.Status(UnitIdentity).Corrupt)
}

func TestChunkedTransfers(t *testing.T) {
	r := newRig()
	r.img[Image1].Chunk, r.img[Image2].Chunk = 5, 5
	r.run(t, r.m.Initialized)
	require.True(t, r.m.SetOpState(OpState{HoleNumber: 4, RecordCount: 77}))
	r.run(t, r.m.Flushed)
	require.True(t, crc.Valid(r.unitImage(Image2, UnitOpState)))
	st, ok := r.m.OpState()
	require.True(t, ok)
	require.Equal(t, uint32(77), st.RecordCount)
}

func TestRawUnitAccess(t *testing.T) {
	r := newRig()
	require.Zero(t, r.m.ReadUnit(UnitConfig, make([]byte, 32)), "not initialized")
	r.run(t, r.m.Initialized)

	require.Zero(t, r.m.ReadUnit(UnitConfig, nil))
	require.Zero(t, r.m.ReadUnit(NumUnits, make([]byte, 32)))
	buf := make([]byte, 32)
	require.Equal(t, UnitSize(UnitConfig), r.m.ReadUnit(UnitConfig, buf))
	require.Equal(t, settingsUnit(DefaultSettings), buf[:UnitSize(UnitConfig)])

	want := DefaultSettings
	want.ModemChannel = 9
	unit := settingsUnit(want)
	require.False(t, r.m.WriteUnit(UnitConfig, nil))
	require.False(t, r.m.WriteUnit(UnitConfig, unit[:4]))
	bad := append([]byte(nil), unit...)
	bad[0] ^= 1
	require.False(t, r.m.WriteUnit(UnitConfig, bad))
	require.False(t, r.m.Status(UnitConfig).Dirty)

	require.True(t, r.m.WriteUnit(UnitConfig, unit))
	r.run(t, r.m.Flushed)
	require.Equal(t, unit, r.unitImage(Image2, UnitConfig))
}

func TestRestoreDefaults(t *testing.T) {
	r := newRig()
	require.False(t, r.m.RestoreDefaults(UnitConfig))
	r.run(t, r.m.Initialized)
	s := DefaultSettings
	s.BacklightLevel = 1
	require.True(t, r.m.SetSettings(s))
	require.True(t, r.m.RestoreDefaults(UnitConfig))
	got, _ := r.m.Settings()
	require.Equal(t, DefaultSettings, got)
	require.True(t, r.m.UpdateMeters(func(mt *Meters) { mt.SurveyCount++ }))
	mt, _ := r.m.Meters()
	require.Equal(t, uint32(1), mt.SurveyCount)
	require.False(t, r.m.RestoreDefaults(NumUnits))
}

func TestDefaultsOptions(t *testing.T) {
	settings := DefaultSettings
	settings.DefaultPipeLength = 60
	info := DefaultIdentity
	CopyString(info.BoardID[:], "board-7")
	r := newRig(WithSettingsDefaults(settings), WithIdentityDefaults(info))
	r.run(t, r.m.Initialized)
	got, ok := r.m.Settings()
	require.True(t, ok)
	require.EqualValues(t, 60, got.DefaultPipeLength)
	id, ok := r.m.Identity()
	require.True(t, ok)
	require.Equal(t, "board-7", String(id.BoardID[:]))
}

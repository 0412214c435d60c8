package record

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/mwd.go/pkg/framework"
	"github.com/robotalks/mwd.go/pkg/pagestore"
	"github.com/robotalks/mwd.go/pkg/survey"
)

var testHole = HoleSettings{
	Name:              "H-1",
	DefaultPipeLength: 30,
	Declination:       -85,
	DesiredAzimuth:    450,
	Toolface:          12,
}

func surveyAt(i int) Survey {
	s := Survey{
		Time:        uint32(1000 + i),
		Azimuth:     int16((i * 371) % 3600),
		Pitch:       int16(-600 - (i*53)%300),
		Roll:        int16(i * 10),
		Temperature: 215,
		Gamma:       uint16(40 + i),
	}
	if i%3 == 2 {
		s.Length = 27
	}
	return s
}

func newTestManager(t *testing.T, store pagestore.Driver) *Manager {
	m, err := NewManager(store)
	require.NoError(t, err)
	require.NoError(t, m.StartHole(testHole, 500))
	return m
}

func storeN(t *testing.T, m *Manager, from, n int) []Record {
	var recs []Record
	for i := from; i < from+n; i++ {
		r, err := m.StoreSurvey(surveyAt(i))
		require.NoError(t, err)
		recs = append(recs, r)
	}
	return recs
}

func requireTotals(t *testing.T, want, got Totals) {
	require.InDelta(t, want.North, got.North, 1e-9)
	require.InDelta(t, want.East, got.East, 1e-9)
	require.InDelta(t, want.Depth, got.Depth, 1e-9)
	require.Equal(t, want.Length, got.Length)
}

func TestLayout(t *testing.T) {
	require.Equal(t, 10, RecordsPerPage)
	require.Equal(t, 13, MarkersPerPage)
	r := Record{Number: 0x04030201, X: -1, NextBranch: NoRecord}
	buf := EncodeRecord(&r)
	require.Len(t, buf, RecordSize)
	require.Equal(t, []byte{1, 2, 3, 4}, buf[:4])
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, buf[20:24])
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, buf[44:48])
	got, err := DecodeRecord(buf)
	require.NoError(t, err)
	require.Equal(t, r, got)

	h := HoleMarker{HoleNumber: 7, Kind: MarkerClosed, BranchRecord: NoRecord}
	copy(h.Name[:], "north")
	mbuf := EncodeMarker(&h)
	require.Len(t, mbuf, MarkerSize)
	require.Equal(t, byte(MarkerClosed), mbuf[4])
	hm, err := DecodeMarker(mbuf)
	require.NoError(t, err)
	require.Equal(t, "north", hm.HoleName())
}

func TestNewManagerPageSize(t *testing.T) {
	_, err := NewManager(pagestore.NewMem(256))
	require.Equal(t, ErrPageSize, err)
}

func TestAppendMonotonic(t *testing.T) {
	store := pagestore.NewMem(PageSize)
	m := newTestManager(t, store)
	var stored [][]byte
	for i := 0; i < 25; i++ {
		r, err := m.StoreSurvey(surveyAt(i))
		require.NoError(t, err)
		require.Equal(t, uint32(i+1), m.GetRecordCount())
		require.Equal(t, uint32(i), r.Number)
		stored = append(stored, EncodeRecord(&r))
	}
	require.Equal(t, 2, store.Pages())
	for i, want := range stored {
		got, err := m.GetRecordBytes(uint32(i))
		require.NoError(t, err)
		require.Equal(t, want, got, "record %d", i)
	}
	_, err := m.GetRecord(25)
	require.Equal(t, ErrNotFound, err)

	r, err := m.GetRecord(0)
	require.NoError(t, err)
	require.Equal(t, StatusHoleStart, r.Status)
	r, err = m.GetRecord(2)
	require.NoError(t, err)
	require.Equal(t, StatusManualLength, r.Status)
	require.Equal(t, int32(30+30+27), r.Length)
}

func TestRoundTenths(t *testing.T) {
	tests := []struct {
		v    float64
		want int32
	}{
		{12.35, 124},
		{-12.35, -124},
		{0.25, 3},
		{-0.25, -3},
		{0.04, 0},
		{0.05, 1},
		{-0.04, 0},
	}
	for _, test := range tests {
		require.Equal(t, test.want, RoundTenths(test.v), "%v", test.v)
	}
}

func TestPositionAccumulation(t *testing.T) {
	ref := func(v float64) int32 {
		if v < 0 {
			return -int32(math.Floor(-v*10 + 0.5))
		}
		return int32(math.Floor(v*10 + 0.5))
	}
	m := newTestManager(t, pagestore.NewMem(PageSize))
	var north, east, depth float64
	var prev *survey.Station
	for i := 0; i < 15; i++ {
		s := surveyAt(i)
		cur := survey.Station{
			Azimuth: survey.AngleFromTenths(int32(s.Azimuth)),
			Pitch:   survey.AngleFromTenths(int32(s.Pitch)),
		}
		from := cur
		if prev != nil {
			from = *prev
		}
		course := s.Length
		if course == 0 {
			course = 30
		}
		d := survey.AverageAngle(from, cur, float64(course)/10)
		north, east, depth = north+d.North, east+d.East, depth+d.Depth
		prev = &cur

		r, err := m.StoreSurvey(s)
		require.NoError(t, err)
		require.Equal(t, ref(north), r.X, "record %d", i)
		require.Equal(t, ref(east), r.Y, "record %d", i)
		require.Equal(t, ref(depth), r.Z, "record %d", i)
	}
}

func TestBranchRewind(t *testing.T) {
	store := pagestore.NewMem(PageSize)
	m := newTestManager(t, store)
	recs := storeN(t, m, 0, 10)
	k := recs[9]
	before := m.Totals()

	// record K sits on a flushed page, so the branch patch goes to the store.
	require.NoError(t, m.RecordBranch(9))
	requireTotals(t, totalsOf(&k), m.Totals())
	require.Equal(t, ErrBranchPending, m.RecordBranch(8))

	children := storeN(t, m, 20, 3)
	require.Equal(t, uint32(9), children[0].PrevBranch)
	require.Equal(t, StatusBranchChild, children[0].Status&StatusBranchChild)
	require.Equal(t, NoRecord, children[1].PrevBranch)
	parent, err := m.GetRecord(9)
	require.NoError(t, err)
	require.Equal(t, uint16(1), parent.BranchCount)
	require.Equal(t, uint32(10), parent.NextBranch)
	require.NotZero(t, parent.Status&StatusBranchPoint)

	for i := 0; i < 3; i++ {
		_, err := m.RemoveLastRecord()
		require.NoError(t, err)
	}
	require.Equal(t, uint32(10), m.GetRecordCount())
	got := m.Totals()
	requireTotals(t, totalsOf(&k), got)
	x, y, z := got.Position()
	require.Equal(t, []int32{k.X, k.Y, k.Z}, []int32{x, y, z})
	require.InDelta(t, before.North, got.North, 0.051)

	parent, err = m.GetRecord(9)
	require.NoError(t, err)
	require.Equal(t, uint16(0), parent.BranchCount)
	require.Equal(t, NoRecord, parent.NextBranch)
	require.Zero(t, parent.Status&StatusBranchPoint)
	require.Equal(t, k, parent)
}

func TestBranchFromEarlierRecord(t *testing.T) {
	m := newTestManager(t, pagestore.NewMem(PageSize))
	recs := storeN(t, m, 0, 6)
	require.NoError(t, m.RecordBranch(2))
	child := storeN(t, m, 10, 1)[0]
	require.Equal(t, uint32(2), child.PrevBranch)

	removed, err := m.RemoveLastRecord()
	require.NoError(t, err)
	require.Equal(t, child, removed)
	requireTotals(t, totalsOf(&recs[5]), m.Totals())

	next := storeN(t, m, 6, 1)[0]
	require.Equal(t, recs[5].Length+30, next.Length)
	require.Equal(t, NoRecord, next.PrevBranch)
}

func TestCancelBranch(t *testing.T) {
	m := newTestManager(t, pagestore.NewMem(PageSize))
	storeN(t, m, 0, 4)
	before := m.Totals()
	require.Equal(t, ErrNoBranch, m.CancelBranch())
	require.Equal(t, ErrNotFound, m.RecordBranch(4))
	require.NoError(t, m.RecordBranch(1))
	_, err := m.RemoveLastRecord()
	require.Equal(t, ErrBranchPending, err)
	require.Equal(t, ErrBranchPending, m.DeleteRecord(0))
	require.NoError(t, m.CancelBranch())
	require.Equal(t, before, m.Totals())
	r, err := m.GetRecord(1)
	require.NoError(t, err)
	require.Equal(t, uint16(0), r.BranchCount)
	require.Equal(t, NoRecord, r.NextBranch)
	// branch markers stay logged.
	require.Equal(t, uint32(1), m.HoleCount())
	h, err := m.GetHole(0)
	require.NoError(t, err)
	require.Equal(t, MarkerBranch, h.Kind)
	require.Equal(t, uint32(1), h.BranchRecord)
}

func TestUndoPathsDiverge(t *testing.T) {
	build := func() (*Manager, Totals) {
		m := newTestManager(t, pagestore.NewMem(PageSize))
		storeN(t, m, 0, 5)
		at4 := m.Totals()
		storeN(t, m, 5, 1)
		return m, at4
	}

	removeM, at4 := build()
	_, err := removeM.RemoveLastRecord()
	require.NoError(t, err)
	require.Equal(t, uint32(5), removeM.GetRecordCount())
	requireTotals(t, at4, removeM.Totals())

	deleteM, _ := build()
	before := deleteM.Totals()
	require.NoError(t, deleteM.DeleteRecord(5))
	require.Equal(t, uint32(5), deleteM.GetRecordCount())
	require.Equal(t, before, deleteM.Totals())

	require.NotEqual(t, removeM.Totals().Length, deleteM.Totals().Length)
}

func TestDeleteRecordShifts(t *testing.T) {
	store := pagestore.NewMem(PageSize)
	m := newTestManager(t, store)
	recs := storeN(t, m, 0, 25)
	before := m.Totals()

	require.NoError(t, m.DeleteRecord(3))
	require.Equal(t, uint32(24), m.GetRecordCount())
	require.Equal(t, before, m.Totals())
	for i := uint32(0); i < 24; i++ {
		want := recs[i]
		if i >= 3 {
			want = recs[i+1]
			want.Number = i
		}
		got, err := m.GetRecord(i)
		require.NoError(t, err)
		require.Equal(t, want, got, "record %d", i)
	}
	_, err := m.GetRecord(24)
	require.Equal(t, ErrNotFound, err)

	r := storeN(t, m, 30, 1)[0]
	require.Equal(t, uint32(24), r.Number)
	require.Equal(t, ErrNotFound, m.DeleteRecord(25))
}

func TestRemoveAcrossPageBoundary(t *testing.T) {
	m := newTestManager(t, pagestore.NewMem(PageSize))
	recs := storeN(t, m, 0, 18)
	at17 := m.Totals()
	recs = append(recs, storeN(t, m, 18, 3)...)
	for i := 20; i >= 18; i-- {
		r, err := m.RemoveLastRecord()
		require.NoError(t, err)
		require.Equal(t, recs[i], r)
	}
	requireTotals(t, at17, m.Totals())
	r := storeN(t, m, 18, 1)[0]
	require.Equal(t, recs[18], r)
	got, err := m.GetRecord(18)
	require.NoError(t, err)
	require.Equal(t, recs[18], got)
}

func TestHoleMarkers(t *testing.T) {
	store := pagestore.NewMem(PageSize)
	m := newTestManager(t, store)
	storeN(t, m, 0, 3)
	require.NoError(t, m.CloseHole())
	require.Equal(t, ErrHoleClosed, m.CloseHole())
	_, err := m.StoreSurvey(surveyAt(3))
	require.Equal(t, ErrHoleClosed, err)

	// the partial page is zero filled on media.
	page := make([]byte, PageSize)
	require.NoError(t, store.ReadPage(DefaultRecordBase, page))
	require.Equal(t, make([]byte, PageSize-PageHeaderSize-3*RecordSize), page[PageHeaderSize+3*RecordSize:])

	h, err := m.GetHole(0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), h.HoleNumber)
	require.Equal(t, MarkerClosed, h.Kind)
	require.Equal(t, []uint32{0, 3}, []uint32{h.StartRecord, h.EndRecord})
	require.Equal(t, "H-1", h.HoleName())
	require.Equal(t, uint32(500), h.StartTime)
	require.Equal(t, int16(450), h.DesiredAzimuth)

	hole2 := testHole
	hole2.Name = "H-2"
	require.NoError(t, m.StartHole(hole2, 600))
	recs := storeN(t, m, 3, 2)
	require.Equal(t, StatusHoleStart, recs[0].Status)
	require.NoError(t, m.StartHole(testHole, 700))
	h, err = m.GetHole(1)
	require.NoError(t, err)
	require.Equal(t, MarkerNewHole, h.Kind)
	require.Equal(t, uint32(2), h.HoleNumber)
	require.Equal(t, []uint32{3, 5}, []uint32{h.StartRecord, h.EndRecord})

	m.Clear()
	require.Zero(t, m.GetRecordCount())
	require.Equal(t, uint32(2), m.HoleCount())
	num, open := m.HoleNumber()
	require.Equal(t, uint32(3), num)
	require.False(t, open)
	h, err = m.FindHole(1)
	require.NoError(t, err)
	require.Equal(t, "H-1", h.HoleName())
	_, err = m.FindHole(3)
	require.Equal(t, ErrNotFound, err)
	_, err = m.GetHole(2)
	require.Equal(t, ErrNotFound, err)
}

func TestUndoRejectedAfterClose(t *testing.T) {
	m := newTestManager(t, pagestore.NewMem(PageSize))
	storeN(t, m, 0, 3)
	require.NoError(t, m.CloseHole())

	_, err := m.RemoveLastRecord()
	require.Equal(t, ErrHoleClosed, err)
	require.Equal(t, ErrHoleClosed, m.DeleteRecord(1))
	require.Equal(t, uint32(3), m.GetRecordCount())

	require.NoError(t, m.StartHole(testHole, 600))
	st := m.State()
	require.Equal(t, uint32(3), st.HoleStart)
	h, err := m.GetHole(0)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 3}, []uint32{h.StartRecord, h.EndRecord})
	_, err = m.RemoveLastRecord()
	require.Equal(t, ErrEmpty, err)
}

func TestMarkerPages(t *testing.T) {
	m := newTestManager(t, pagestore.NewMem(PageSize))
	for i := 0; i < 15; i++ {
		require.NoError(t, m.StartHole(testHole, uint32(i)))
	}
	require.Equal(t, uint32(15), m.HoleCount())
	for i := uint32(0); i < 15; i++ {
		h, err := m.GetHole(i)
		require.NoError(t, err)
		require.Equal(t, i+1, h.HoleNumber)
	}
}

func TestStateRestore(t *testing.T) {
	store := pagestore.NewMem(PageSize)
	m := newTestManager(t, store)
	recs := storeN(t, m, 0, 13)
	require.NoError(t, m.Sync())
	st := m.State()
	require.Equal(t, State{HoleNumber: 1, HoleOpen: true, RecordCount: 13, LastSurveyTime: 1012}, st)

	m2, err := NewManager(store)
	require.NoError(t, err)
	require.NoError(t, m2.Restore(st, testHole))
	require.Equal(t, uint32(13), m2.GetRecordCount())
	got, err := m2.GetRecord(12)
	require.NoError(t, err)
	require.Equal(t, recs[12], got)
	requireTotals(t, totalsOf(&recs[12]), m2.Totals())

	r := storeN(t, m2, 13, 1)[0]
	require.Equal(t, uint32(13), r.Number)
	require.Equal(t, recs[12].Length+30, r.Length)
}

func TestLogOnTick(t *testing.T) {
	m := newTestManager(t, pagestore.NewMem(PageSize))
	var events []Event
	m.OnStore = func(ev Event) { events = append(events, ev) }
	loop := fx.NewLoop()
	loop.Add(m)

	m.Log(surveyAt(0))
	m.Log(surveyAt(1))
	require.Zero(t, m.GetRecordCount())
	loop.Step(context.Background(), time.Now())
	require.Equal(t, uint32(2), m.GetRecordCount())
	require.Len(t, events, 2)
	require.Equal(t, EventSurvey, events[1].Kind)
	require.Equal(t, uint32(1), events[1].Record.Number)
	require.Equal(t, m.State().HoleNumber, events[1].Hole)

	require.NoError(t, m.CloseHole())
	require.Len(t, events, 3)
	require.Equal(t, EventMarker, events[2].Kind)
}

func TestStoreFailure(t *testing.T) {
	store := pagestore.NewMem(PageSize)
	m := newTestManager(t, store)
	storeN(t, m, 0, 12)
	store.Fail = errors.New("page status 1")
	_, err := m.GetRecord(3)
	require.Error(t, err)
	r, err := m.GetRecord(11)
	require.NoError(t, err)
	require.Equal(t, uint32(11), r.Number)
}

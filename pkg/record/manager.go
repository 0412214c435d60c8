// Package record implements the paged survey log with branch tracking
// and hole markers.
package record

import (
	"encoding/binary"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	fx "github.com/robotalks/mwd.go/pkg/framework"
	"github.com/robotalks/mwd.go/pkg/pagestore"
	"github.com/robotalks/mwd.go/pkg/survey"
)

// Errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrHoleClosed    = errors.New("no open hole")
	ErrEmpty         = errors.New("no record in hole")
	ErrBranchPending = errors.New("branch pending")
	ErrNoBranch      = errors.New("no branch pending")
	ErrPageSize      = errors.New("page size mismatch")
)

// EventKind identifies the change reported to OnStore.
type EventKind int

// Event kinds.
const (
	EventSurvey EventKind = iota
	EventMarker
)

// Event is a change of the log.
type Event struct {
	Kind   EventKind
	Hole   uint32
	Record Record
	Marker HoleMarker
}

// State is the persistent part of the manager, mirrored elsewhere so
// the log can be reopened.
type State struct {
	HoleNumber     uint32
	HoleOpen       bool
	RecordCount    uint32
	HoleStart      uint32
	MarkerCount    uint32
	LastSurveyTime uint32
}

// Option customizes a Manager.
type Option func(*Manager)

// WithCalculator replaces the position calculator.
func WithCalculator(calc survey.Calculator) Option {
	return func(m *Manager) { m.calc = calc }
}

// WithBases sets the first page of the records and markers arrays.
func WithBases(recordBase, markerBase uint32) Option {
	return func(m *Manager) { m.recordBase, m.markerBase = recordBase, markerBase }
}

// Manager owns the append cursor of the survey log.
type Manager struct {
	// OnStore is invoked, with the manager locked, after a record or
	// marker is logged.
	OnStore func(Event)

	store      pagestore.Driver
	calc       survey.Calculator
	recordBase uint32
	markerBase uint32

	count      uint32
	page       []byte
	pageIndex  uint32
	holeNumber uint32
	holeOpen   bool
	holeStart  uint32
	holeTime   uint32
	hole       HoleSettings
	totals     Totals
	branchFrom uint32
	preBranch  Totals
	lastTime   uint32

	markerCount uint32
	markerPage  []byte
	markerIndex uint32

	queue     []Survey
	queueLock sync.Mutex
	lock      sync.Mutex
}

// NewManager creates an empty log over store.
func NewManager(store pagestore.Driver, opts ...Option) (*Manager, error) {
	if store.PageSize() != PageSize {
		return nil, ErrPageSize
	}
	m := &Manager{
		store:      store,
		calc:       survey.AverageAngle,
		recordBase: DefaultRecordBase,
		markerBase: DefaultMarkerBase,
		page:       make([]byte, PageSize),
		markerPage: make([]byte, PageSize),
		branchFrom: NoRecord,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.resetPage(0)
	m.resetMarkerPage(0)
	return m, nil
}

// GetRecordCount returns the number of records.
func (m *Manager) GetRecordCount() uint32 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.count
}

// HoleCount returns the number of markers logged.
func (m *Manager) HoleCount() uint32 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.markerCount
}

// HoleNumber returns the current hole number and whether it is open.
func (m *Manager) HoleNumber() (uint32, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.holeNumber, m.holeOpen
}

// Totals returns the running totals.
func (m *Manager) Totals() Totals {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.totals
}

// Hole returns the settings of the current hole.
func (m *Manager) Hole() HoleSettings {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.hole
}

// State returns the persistent state.
func (m *Manager) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return State{
		HoleNumber:     m.holeNumber,
		HoleOpen:       m.holeOpen,
		RecordCount:    m.count,
		HoleStart:      m.holeStart,
		MarkerCount:    m.markerCount,
		LastSurveyTime: m.lastTime,
	}
}

// Restore reopens the log from a saved state. The running totals are
// taken from the last record of the hole.
func (m *Manager) Restore(st State, hole HoleSettings) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.count, m.holeNumber, m.holeOpen = st.RecordCount, st.HoleNumber, st.HoleOpen
	m.holeStart, m.markerCount, m.lastTime = st.HoleStart, st.MarkerCount, st.LastSurveyTime
	m.hole, m.branchFrom, m.totals = hole, NoRecord, Totals{}
	if err := m.loadPage(m.count / RecordsPerPage); err != nil {
		return err
	}
	if m.count > m.holeStart {
		r, err := m.readRecord(m.count - 1)
		if err != nil {
			return err
		}
		m.totals = totalsOf(&r)
	}
	if m.markerCount == 0 {
		m.resetMarkerPage(0)
		return nil
	}
	idx := (m.markerCount - 1) / MarkersPerPage
	if err := m.store.ReadPage(m.markerBase+idx, m.markerPage); err != nil {
		return errors.Wrapf(err, "read marker page %d", idx)
	}
	m.markerIndex = idx
	return nil
}

// StartHole closes the current hole, if open, and opens the next one.
func (m *Manager) StartHole(hole HoleSettings, now uint32) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.holeOpen {
		if err := m.closeHole(MarkerNewHole); err != nil {
			return err
		}
	}
	m.holeNumber++
	m.holeOpen, m.holeStart, m.holeTime = true, m.count, now
	m.hole, m.totals, m.branchFrom = hole, Totals{}, NoRecord
	glog.Infof("record: hole %d started at record %d", m.holeNumber, m.holeStart)
	return nil
}

// CloseHole flushes the partial page and logs the hole marker.
func (m *Manager) CloseHole() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.holeOpen {
		return ErrHoleClosed
	}
	return m.closeHole(MarkerClosed)
}

func (m *Manager) closeHole(kind uint8) error {
	if m.branchFrom != NoRecord {
		if err := m.cancelBranch(); err != nil {
			return err
		}
	}
	// unused slots of the RAM page are always zero.
	if m.count%RecordsPerPage != 0 {
		if err := m.flushPage(); err != nil {
			return err
		}
	}
	if err := m.logMarker(kind, NoRecord); err != nil {
		return err
	}
	m.holeOpen = false
	glog.Infof("record: hole %d closed, records %d-%d", m.holeNumber, m.holeStart, m.count)
	return nil
}

// Clear drops all survey records. Markers and the hole number are kept.
func (m *Manager) Clear() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.count, m.holeStart, m.holeOpen = 0, 0, false
	m.totals, m.branchFrom = Totals{}, NoRecord
	m.resetPage(0)
}

// StoreSurvey appends a record for s to the open hole.
func (m *Manager) StoreSurvey(s Survey) (Record, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.holeOpen {
		return Record{}, ErrHoleClosed
	}
	n := m.count
	rec := Record{
		Number:      n,
		Timestamp:   s.Time,
		Azimuth:     s.Azimuth,
		Pitch:       s.Pitch,
		Roll:        s.Roll,
		Temperature: s.Temperature,
		Gamma:       s.Gamma,
		PrevBranch:  NoRecord,
		NextBranch:  NoRecord,
	}
	course := s.Length
	if course > 0 {
		rec.Status |= StatusManualLength
	} else {
		course = int32(m.hole.DefaultPipeLength)
	}
	if n == m.holeStart {
		rec.Status |= StatusHoleStart
	}
	pred := NoRecord
	if m.branchFrom != NoRecord {
		pred = m.branchFrom
		rec.PrevBranch = pred
		rec.Status |= StatusBranchChild
	} else if n > m.holeStart {
		pred = n - 1
	}
	from := rec.Station()
	if pred != NoRecord {
		p, err := m.readRecord(pred)
		if err != nil {
			return Record{}, err
		}
		from = p.Station()
	}
	totals := m.totals.add(m.calc(from, rec.Station(), float64(course)/10))
	totals.Length += course
	rec.Length = totals.Length
	rec.X, rec.Y, rec.Z = totals.Position()

	if err := encode(&rec, m.slot(n)); err != nil {
		return Record{}, err
	}
	if (n+1)%RecordsPerPage == 0 {
		if err := m.flushPage(); err != nil {
			return Record{}, err
		}
		m.resetPage((n + 1) / RecordsPerPage)
	}
	m.count++
	m.totals, m.branchFrom, m.lastTime = totals, NoRecord, s.Time
	m.notify(Event{Kind: EventSurvey, Record: rec})
	return rec, nil
}

// GetRecord returns record n.
func (m *Manager) GetRecord(n uint32) (Record, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if n >= m.count {
		return Record{}, ErrNotFound
	}
	return m.readRecord(n)
}

// GetRecordBytes returns the media encoding of record n.
func (m *Manager) GetRecordBytes(n uint32) ([]byte, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if n >= m.count {
		return nil, ErrNotFound
	}
	if n/RecordsPerPage == m.pageIndex {
		return append([]byte(nil), m.slot(n)...), nil
	}
	buf := make([]byte, PageSize)
	if err := m.store.ReadPage(m.recordBase+n/RecordsPerPage, buf); err != nil {
		return nil, errors.Wrapf(err, "read page of record %d", n)
	}
	off := PageHeaderSize + (n%RecordsPerPage)*RecordSize
	return buf[off : off+RecordSize], nil
}

// RecordBranch marks record k of the open hole as a branch point. The
// next stored record continues from k with the totals captured at k.
func (m *Manager) RecordBranch(k uint32) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.holeOpen {
		return ErrHoleClosed
	}
	if m.branchFrom != NoRecord {
		return ErrBranchPending
	}
	if k >= m.count || k < m.holeStart {
		return ErrNotFound
	}
	var parent Record
	child := m.count
	err := m.patchRecord(k, func(r *Record) {
		r.BranchCount++
		r.NextBranch = child
		r.Status |= StatusBranchPoint
		parent = *r
	})
	if err != nil {
		return err
	}
	m.preBranch, m.totals, m.branchFrom = m.totals, totalsOf(&parent), k
	glog.V(1).Infof("record: branch at %d", k)
	return m.logMarker(MarkerBranch, k)
}

// CancelBranch reverts a branch point no record was stored after.
func (m *Manager) CancelBranch() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.branchFrom == NoRecord {
		return ErrNoBranch
	}
	return m.cancelBranch()
}

func (m *Manager) cancelBranch() error {
	if err := m.unlinkBranch(m.branchFrom, m.count); err != nil {
		return err
	}
	m.totals, m.branchFrom = m.preBranch, NoRecord
	return nil
}

func (m *Manager) unlinkBranch(parent, child uint32) error {
	return m.patchRecord(parent, func(r *Record) {
		if r.BranchCount > 0 {
			r.BranchCount--
		}
		if r.NextBranch == child {
			r.NextBranch = NoRecord
		}
		if r.BranchCount == 0 {
			r.Status &^= StatusBranchPoint
		}
	})
}

// RemoveLastRecord drops the last record of the open hole and rewinds
// the totals by the position change it contributed.
func (m *Manager) RemoveLastRecord() (Record, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.holeOpen {
		return Record{}, ErrHoleClosed
	}
	if m.branchFrom != NoRecord {
		return Record{}, ErrBranchPending
	}
	if m.count <= m.holeStart {
		return Record{}, ErrEmpty
	}
	n := m.count - 1
	r, err := m.readRecord(n)
	if err != nil {
		return Record{}, err
	}
	pred := r.PrevBranch
	if pred == NoRecord && n > m.holeStart {
		pred = n - 1
	}
	from, base := r.Station(), int32(0)
	if pred != NoRecord {
		p, err := m.readRecord(pred)
		if err != nil {
			return Record{}, err
		}
		from, base = p.Station(), p.Length
	}
	course := r.Length - base
	totals := m.totals.sub(m.calc(from, r.Station(), float64(course)/10))
	totals.Length -= course
	if r.PrevBranch != NoRecord {
		if err := m.unlinkBranch(r.PrevBranch, n); err != nil {
			return Record{}, err
		}
		if r.PrevBranch != n-1 {
			// continue from the main line end which is last again.
			last, err := m.readRecord(n - 1)
			if err != nil {
				return Record{}, err
			}
			totals = totalsOf(&last)
		}
	}
	if err := m.shrink(); err != nil {
		return Record{}, err
	}
	m.totals = totals
	return r, nil
}

// DeleteRecord removes record n of the open hole, shifting later records
// down and renumbering them. Totals and branch links are not adjusted.
func (m *Manager) DeleteRecord(n uint32) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.holeOpen {
		return ErrHoleClosed
	}
	if m.branchFrom != NoRecord {
		return ErrBranchPending
	}
	if n >= m.count || n < m.holeStart {
		return ErrNotFound
	}
	var moved []Record
	for i := n + 1; i < m.count; i++ {
		r, err := m.readRecord(i)
		if err != nil {
			return err
		}
		r.Number = i - 1
		moved = append(moved, r)
	}
	if err := m.writeRecords(n, moved); err != nil {
		return err
	}
	return m.shrink()
}

// Sync writes the partial RAM page to the store.
func (m *Manager) Sync() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.count%RecordsPerPage == 0 {
		return nil
	}
	return m.flushPage()
}

// GetHole returns marker i.
func (m *Manager) GetHole(i uint32) (HoleMarker, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if i >= m.markerCount {
		return HoleMarker{}, ErrNotFound
	}
	page := m.markerPage
	if idx := i / MarkersPerPage; idx != m.markerIndex {
		page = make([]byte, PageSize)
		if err := m.store.ReadPage(m.markerBase+idx, page); err != nil {
			return HoleMarker{}, errors.Wrapf(err, "read marker page %d", idx)
		}
	}
	off := PageHeaderSize + (i%MarkersPerPage)*MarkerSize
	return DecodeMarker(page[off : off+MarkerSize])
}

// FindHole returns the latest hole marker, not counting branch
// markers, logged for hole number.
func (m *Manager) FindHole(number uint32) (HoleMarker, error) {
	for i := m.HoleCount(); i > 0; i-- {
		h, err := m.GetHole(i - 1)
		if err != nil {
			return h, err
		}
		if h.HoleNumber == number && h.Kind != MarkerBranch {
			return h, nil
		}
	}
	return HoleMarker{}, ErrNotFound
}

// Log queues s to be stored on the next tick.
func (m *Manager) Log(s Survey) {
	m.queueLock.Lock()
	m.queue = append(m.queue, s)
	m.queueLock.Unlock()
}

// Control implements Controller.
func (m *Manager) Control(fx.ControlContext) error {
	m.queueLock.Lock()
	queue := m.queue
	m.queue = nil
	m.queueLock.Unlock()
	for _, s := range queue {
		if _, err := m.StoreSurvey(s); err != nil {
			glog.Warningf("record: survey dropped: %v", err)
		}
	}
	return nil
}

// AddToLoop implements LoopAdder.
func (m *Manager) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvRecord, m)
}

func (m *Manager) notify(ev Event) {
	if m.OnStore != nil {
		ev.Hole = m.holeNumber
		m.OnStore(ev)
	}
}

func (m *Manager) slot(n uint32) []byte {
	off := PageHeaderSize + (n%RecordsPerPage)*RecordSize
	return m.page[off : off+RecordSize]
}

func (m *Manager) resetPage(idx uint32) {
	for i := range m.page {
		m.page[i] = 0
	}
	binary.LittleEndian.PutUint32(m.page, m.recordBase+idx)
	m.pageIndex = idx
}

func (m *Manager) loadPage(idx uint32) error {
	if m.count%RecordsPerPage == 0 && idx == m.count/RecordsPerPage {
		m.resetPage(idx)
		return nil
	}
	if err := m.store.ReadPage(m.recordBase+idx, m.page); err != nil {
		return errors.Wrapf(err, "read page %d", idx)
	}
	m.pageIndex = idx
	return nil
}

func (m *Manager) flushPage() error {
	return errors.Wrapf(m.store.WritePage(m.recordBase+m.pageIndex, m.page), "write page %d", m.pageIndex)
}

func (m *Manager) readRecord(n uint32) (Record, error) {
	if n/RecordsPerPage == m.pageIndex {
		return DecodeRecord(m.slot(n))
	}
	buf := make([]byte, PageSize)
	if err := m.store.ReadPage(m.recordBase+n/RecordsPerPage, buf); err != nil {
		return Record{}, errors.Wrapf(err, "read page of record %d", n)
	}
	off := PageHeaderSize + (n%RecordsPerPage)*RecordSize
	return DecodeRecord(buf[off : off+RecordSize])
}

// patchRecord rewrites record n in place, through the RAM page if it
// holds n, otherwise by rewriting its page in the store.
func (m *Manager) patchRecord(n uint32, fn func(*Record)) error {
	r, err := m.readRecord(n)
	if err != nil {
		return err
	}
	fn(&r)
	return m.writeRecords(n, []Record{r})
}

func (m *Manager) writeRecords(start uint32, recs []Record) error {
	var buf []byte
	idx := NoRecord
	flush := func() error {
		if buf == nil {
			return nil
		}
		return errors.Wrapf(m.store.WritePage(m.recordBase+idx, buf), "write page %d", idx)
	}
	for i := range recs {
		n := start + uint32(i)
		if n/RecordsPerPage == m.pageIndex {
			if err := encode(&recs[i], m.slot(n)); err != nil {
				return err
			}
			continue
		}
		if p := n / RecordsPerPage; p != idx {
			if err := flush(); err != nil {
				return err
			}
			if buf == nil {
				buf = make([]byte, PageSize)
			}
			if err := m.store.ReadPage(m.recordBase+p, buf); err != nil {
				return errors.Wrapf(err, "read page %d", p)
			}
			idx = p
		}
		off := PageHeaderSize + (n%RecordsPerPage)*RecordSize
		if err := encode(&recs[i], buf[off:off+RecordSize]); err != nil {
			return err
		}
	}
	return flush()
}

// shrink pops the append cursor, keeping the RAM page on the page of
// the new cursor.
func (m *Manager) shrink() error {
	m.count--
	if idx := m.count / RecordsPerPage; idx != m.pageIndex {
		if err := m.loadPage(idx); err != nil {
			m.count++
			return err
		}
	}
	slot := m.slot(m.count)
	for i := range slot {
		slot[i] = 0
	}
	return nil
}

func (m *Manager) resetMarkerPage(idx uint32) {
	for i := range m.markerPage {
		m.markerPage[i] = 0
	}
	binary.LittleEndian.PutUint32(m.markerPage, m.markerBase+idx)
	m.markerIndex = idx
}

func (m *Manager) logMarker(kind uint8, branch uint32) error {
	h := HoleMarker{
		HoleNumber:        m.holeNumber,
		Kind:              kind,
		StartRecord:       m.holeStart,
		EndRecord:         m.count,
		StartTime:         m.holeTime,
		DefaultPipeLength: m.hole.DefaultPipeLength,
		Declination:       m.hole.Declination,
		DesiredAzimuth:    m.hole.DesiredAzimuth,
		Toolface:          m.hole.Toolface,
		BranchRecord:      branch,
	}
	copy(h.Name[:], m.hole.Name)
	n := m.markerCount
	if idx := n / MarkersPerPage; idx != m.markerIndex {
		m.resetMarkerPage(idx)
	}
	off := PageHeaderSize + (n%MarkersPerPage)*MarkerSize
	if err := encode(&h, m.markerPage[off:off+MarkerSize]); err != nil {
		return err
	}
	if err := m.store.WritePage(m.markerBase+m.markerIndex, m.markerPage); err != nil {
		return errors.Wrapf(err, "write marker page %d", m.markerIndex)
	}
	m.markerCount++
	m.notify(Event{Kind: EventMarker, Marker: h})
	return nil
}

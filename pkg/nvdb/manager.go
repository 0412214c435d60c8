package nvdb

import (
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/mwd.go/pkg/crc"
	fx "github.com/robotalks/mwd.go/pkg/framework"
)

// Image selects one of the two redundant regions.
const (
	Image1 = 0
	Image2 = 1
)

type initState int

const (
	stGetImage1 initState = iota
	stVerifyImage1
	stGetImage2
	stVerifyImage2
	stAcceptImage
	stSUEmpty
)

type writePhase int

const (
	phaseIdle writePhase = iota
	phaseImage1
	phaseImage2
)

// UnitStatus is a read-only snapshot of the state of a unit.
type UnitStatus struct {
	Dirty       bool
	Corrupt     bool
	Initialized bool
	Empty       [2]bool
}

type unit struct {
	id          UnitID
	addr        uint32
	ram         []byte
	dirty       bool
	corrupt     bool
	initialized bool
	empty       [2]bool
	state       initState
}

func (u *unit) payload() []byte {
	return u.ram[:len(u.ram)-crc.Size]
}

// Option customizes a Manager.
type Option func(*Manager)

// WithIdentityDefaults overrides the compiled-in identity.
func WithIdentityDefaults(info IdentityInfo) Option {
	return func(m *Manager) { m.defaultIdentity = info }
}

// WithSettingsDefaults overrides the compiled-in configuration.
func WithSettingsDefaults(settings Settings) Option {
	return func(m *Manager) { m.defaultSettings = settings }
}

// Manager keeps every storage unit in RAM and in two images, one per
// Driver. All transfers are advanced from Control, one step per tick.
type Manager struct {
	drivers   [2]Driver
	units     [NumUnits]*unit
	initIndex int
	rr        int
	xfer      transfer
	scratch   []byte
	phase     writePhase
	cur       *unit
	snap      []byte
	reported  bool

	defaultIdentity IdentityInfo
	defaultSettings Settings

	lock sync.Mutex
}

// NewManager creates a Manager over image drivers img1 and img2.
func NewManager(img1, img2 Driver, opts ...Option) *Manager {
	m := &Manager{
		drivers:         [2]Driver{img1, img2},
		defaultIdentity: DefaultIdentity,
		defaultSettings: DefaultSettings,
	}
	var maxSize int
	for id := UnitID(0); id < NumUnits; id++ {
		size := UnitSize(id)
		m.units[id] = &unit{id: id, addr: UnitAddr(id), ram: make([]byte, size)}
		if size > maxSize {
			maxSize = size
		}
	}
	m.scratch = make([]byte, maxSize)
	m.snap = make([]byte, maxSize)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialized reports whether every unit finished its init sequence.
func (m *Manager) Initialized() bool {
	return m.initIndex >= int(NumUnits)
}

// Flushed reports whether all units are initialized and persisted.
func (m *Manager) Flushed() bool {
	if !m.Initialized() || m.phase != phaseIdle {
		return false
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, u := range m.units {
		if u.dirty && !u.corrupt {
			return false
		}
	}
	return true
}

// TransferFailed reports whether the manager latched the transfer
// error state.
func (m *Manager) TransferFailed() bool {
	return m.xfer.state == xferFailed
}

// ClearError leaves the transfer error state and restarts the
// interrupted operation. It must be called from the loop goroutine.
func (m *Manager) ClearError() {
	if m.xfer.state != xferFailed {
		return
	}
	m.xfer.state = xferIdle
	m.xfer.gen++
	m.reported = false
	if !m.Initialized() {
		u := m.units[m.initIndex]
		u.state, u.empty = stGetImage1, [2]bool{}
		return
	}
	if m.phase != phaseIdle {
		m.lock.Lock()
		m.cur.dirty = true
		m.lock.Unlock()
		m.phase, m.cur = phaseIdle, nil
	}
}

// Status returns a snapshot of the unit state.
func (m *Manager) Status(id UnitID) (st UnitStatus) {
	if id < 0 || id >= NumUnits {
		return
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	u := m.units[id]
	return UnitStatus{Dirty: u.dirty, Corrupt: u.corrupt, Initialized: u.initialized, Empty: u.empty}
}

// RepairCorruptSU resets every corrupt unit to defaults and marks it
// dirty for write back. It returns the number of repaired units.
func (m *Manager) RepairCorruptSU() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	var n int
	for _, u := range m.units {
		if !u.corrupt {
			continue
		}
		m.loadDefaults(u)
		u.corrupt, u.dirty = false, true
		glog.Infof("nvdb: unit %s repaired with defaults", u.id)
		n++
	}
	return n
}

// RestoreDefaults resets one initialized unit to defaults, clearing
// the corrupt flag.
func (m *Manager) RestoreDefaults(id UnitID) bool {
	if id < 0 || id >= NumUnits {
		return false
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	u := m.units[id]
	if !u.initialized {
		return false
	}
	m.loadDefaults(u)
	u.corrupt, u.dirty = false, true
	return true
}

// ReadUnit copies the RAM image of a unit, checksum included, into buf.
func (m *Manager) ReadUnit(id UnitID, buf []byte) int {
	if id < 0 || id >= NumUnits || len(buf) == 0 {
		return 0
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	u := m.units[id]
	if !u.initialized || u.corrupt {
		return 0
	}
	crc.Stamp(u.ram)
	return copy(buf, u.ram)
}

// WriteUnit replaces the RAM image of a unit with data, which must be
// exactly UnitSize bytes and carry a valid checksum.
func (m *Manager) WriteUnit(id UnitID, data []byte) bool {
	if id < 0 || id >= NumUnits || len(data) != UnitSize(id) || !crc.Valid(data) {
		return false
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	u := m.units[id]
	if !u.initialized || u.corrupt {
		return false
	}
	copy(u.ram, data)
	u.dirty = true
	return true
}

// get runs fn on the payload of a readable unit.
func (m *Manager) get(id UnitID, fn func([]byte)) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	u := m.units[id]
	if !u.initialized || u.corrupt {
		return false
	}
	fn(u.payload())
	return true
}

// set runs fn on the payload of a writable unit and marks it dirty.
func (m *Manager) set(id UnitID, fn func([]byte)) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	u := m.units[id]
	if !u.initialized || u.corrupt {
		return false
	}
	fn(u.payload())
	crc.Stamp(u.ram)
	u.dirty = true
	return true
}

// Identity returns the identity unit.
func (m *Manager) Identity() (info IdentityInfo, ok bool) {
	ok = m.get(UnitIdentity, func(p []byte) { unpack(p, &info) })
	return
}

// SetIdentity updates the identity unit.
func (m *Manager) SetIdentity(info IdentityInfo) bool {
	return m.set(UnitIdentity, func(p []byte) { pack(&info, p) })
}

// Settings returns the configuration unit.
func (m *Manager) Settings() (s Settings, ok bool) {
	ok = m.get(UnitConfig, func(p []byte) { s.unmarshal(p) })
	return
}

// SetSettings updates the configuration unit.
func (m *Manager) SetSettings(s Settings) bool {
	return m.set(UnitConfig, func(p []byte) { s.marshal(p) })
}

// OpState returns the operational state unit.
func (m *Manager) OpState() (st OpState, ok bool) {
	ok = m.get(UnitOpState, func(p []byte) { unpack(p, &st) })
	return
}

// SetOpState updates the operational state unit.
func (m *Manager) SetOpState(st OpState) bool {
	return m.set(UnitOpState, func(p []byte) { pack(&st, p) })
}

// Meters returns the meters unit.
func (m *Manager) Meters() (mt Meters, ok bool) {
	ok = m.get(UnitMeters, func(p []byte) { unpack(p, &mt) })
	return
}

// SetMeters updates the meters unit.
func (m *Manager) SetMeters(mt Meters) bool {
	return m.set(UnitMeters, func(p []byte) { pack(&mt, p) })
}

// UpdateMeters applies fn to the meters unit.
func (m *Manager) UpdateMeters(fn func(*Meters)) bool {
	return m.set(UnitMeters, func(p []byte) {
		var mt Meters
		unpack(p, &mt)
		fn(&mt)
		pack(&mt, p)
	})
}

// UserText returns the user text unit.
func (m *Manager) UserText() (s string, ok bool) {
	ok = m.get(UnitUserText, func(p []byte) { s = String(p) })
	return
}

// SetUserText updates the user text unit, truncating s to fit.
func (m *Manager) SetUserText(s string) bool {
	return m.set(UnitUserText, func(p []byte) { CopyString(p, s) })
}

// Control implements Controller.
func (m *Manager) Control(fx.ControlContext) error {
	if !m.xfer.poll() {
		if m.xfer.state == xferFailed && !m.reported {
			m.reported = true
			glog.Warningf("nvdb: transfer at 0x%04x failed after %d retries", m.xfer.addr, MaxRetries)
		}
		return nil
	}
	if !m.Initialized() {
		m.stepInit()
	} else {
		m.stepWrite()
	}
	return nil
}

// AddToLoop implements LoopAdder.
func (m *Manager) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvNVRAM, m)
}

func (m *Manager) stepInit() {
	u := m.units[m.initIndex]
	img := m.scratch[:len(u.ram)]
	switch u.state {
	case stGetImage1:
		m.xfer.start(m.drivers[Image1], false, u.addr, img)
		u.state = stVerifyImage1
	case stVerifyImage1:
		if crc.Valid(img) {
			m.accept(u, img)
			u.state = stAcceptImage
			return
		}
		u.empty[Image1] = erased(img)
		u.state = stGetImage2
	case stGetImage2:
		m.xfer.start(m.drivers[Image2], false, u.addr, img)
		u.state = stVerifyImage2
	case stVerifyImage2:
		if crc.Valid(img) {
			m.accept(u, img)
			// img still holds image 2, write it back over image 1.
			m.xfer.start(m.drivers[Image1], true, u.addr, img)
			glog.Infof("nvdb: unit %s image 1 repaired from image 2", u.id)
			u.state = stAcceptImage
			return
		}
		u.empty[Image2] = erased(img)
		if u.empty[Image1] {
			u.state = stSUEmpty
			return
		}
		m.lock.Lock()
		u.corrupt, u.initialized = true, true
		m.lock.Unlock()
		glog.Warningf("nvdb: unit %s corrupt in both images", u.id)
		m.nextUnit()
	case stSUEmpty:
		m.lock.Lock()
		m.loadDefaults(u)
		copy(img, u.ram)
		m.lock.Unlock()
		m.xfer.start(m.drivers[Image1], true, u.addr, img)
		glog.Infof("nvdb: unit %s empty, defaults loaded", u.id)
		u.state = stAcceptImage
	case stAcceptImage:
		m.lock.Lock()
		u.initialized = true
		m.lock.Unlock()
		m.nextUnit()
	}
}

func (m *Manager) nextUnit() {
	if m.initIndex++; m.Initialized() {
		glog.Infof("nvdb: %d storage units initialized", NumUnits)
	}
}

func (m *Manager) accept(u *unit, img []byte) {
	m.lock.Lock()
	copy(u.ram, img)
	m.lock.Unlock()
}

func (m *Manager) stepWrite() {
	switch m.phase {
	case phaseIdle:
		u := m.nextDirty()
		if u == nil {
			return
		}
		snap := m.snap[:len(u.ram)]
		m.lock.Lock()
		u.dirty = false
		crc.Stamp(u.ram)
		copy(snap, u.ram)
		m.lock.Unlock()
		m.cur, m.phase = u, phaseImage1
		m.xfer.start(m.drivers[Image1], true, u.addr, snap)
	case phaseImage1:
		m.lock.Lock()
		redirty := m.cur.dirty
		m.lock.Unlock()
		if redirty {
			// image 2 keeps the previous consistent copy.
			m.phase, m.cur = phaseIdle, nil
			return
		}
		m.phase = phaseImage2
		m.xfer.start(m.drivers[Image2], true, m.cur.addr, m.snap[:len(m.cur.ram)])
	case phaseImage2:
		m.phase, m.cur = phaseIdle, nil
	}
}

func (m *Manager) nextDirty() *unit {
	m.lock.Lock()
	defer m.lock.Unlock()
	for i := 0; i < int(NumUnits); i++ {
		idx := (m.rr + i) % int(NumUnits)
		u := m.units[idx]
		if !u.dirty {
			continue
		}
		if u.corrupt {
			u.dirty = false
			continue
		}
		m.rr = (idx + 1) % int(NumUnits)
		return u
	}
	return nil
}

// loadDefaults must be called with lock held.
func (m *Manager) loadDefaults(u *unit) {
	m.marshalDefault(u.id, u.payload())
	crc.Stamp(u.ram)
}

func erased(p []byte) bool {
	for _, b := range p {
		if b != 0xff {
			return false
		}
	}
	return true
}

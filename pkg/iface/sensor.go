package iface

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/lunixbochs/struc"

	fx "github.com/robotalks/mwd.go/pkg/framework"
	"github.com/robotalks/mwd.go/pkg/nvdb"
	"github.com/robotalks/mwd.go/pkg/rasp"
	"github.com/robotalks/mwd.go/pkg/record"
)

// Sensor commands.
const (
	CmdReadSensor byte = iota
	CmdTakeSurvey
)

// SampleSize is the encoded size of a Sample.
const SampleSize = 10

// Sample is one sensor reading, angles in tenths of a degree and
// temperature in tenths of a degree Celsius.
type Sample struct {
	Azimuth     int16
	Pitch       int16
	Roll        int16
	Temperature int16
	Gamma       uint16
}

var packOpts = &struc.Options{Order: binary.LittleEndian}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Sample) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, s, packOpts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *Sample) UnmarshalBinary(data []byte) error {
	if len(data) < SampleSize {
		return ErrShortSample
	}
	return struc.UnpackWithOptions(bytes.NewReader(data), s, packOpts)
}

// Sensor reads the orientation sensor.
type Sensor interface {
	Sample() (Sample, error)
}

var (
	// ErrShortSample indicates a truncated sample.
	ErrShortSample = errors.New("sample too short")
	// ErrSensorTimeout indicates the probe did not answer in time.
	ErrSensorTimeout = errors.New("sensor request timeout")
)

// SimulatedSensor is a Sensor following a slowly curving hole.
type SimulatedSensor struct {
	Azimuth float64
	Pitch   float64
	// Drift is the maximum change in degrees between two samples.
	Drift float64

	rnd  *rand.Rand
	lock sync.Mutex
}

// NewSimulatedSensor creates a sensor starting at azimuth and pitch.
func NewSimulatedSensor(azimuth, pitch float64, seed int64) *SimulatedSensor {
	return &SimulatedSensor{Azimuth: azimuth, Pitch: pitch, Drift: 0.5, rnd: rand.New(rand.NewSource(seed))}
}

// Sample implements Sensor.
func (s *SimulatedSensor) Sample() (Sample, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.Azimuth = math.Mod(s.Azimuth+(s.rnd.Float64()*2-1)*s.Drift+360, 360)
	s.Pitch = math.Max(-90, math.Min(90, s.Pitch+(s.rnd.Float64()*2-1)*s.Drift))
	return Sample{
		Azimuth:     int16(math.Round(s.Azimuth * 10)),
		Pitch:       int16(math.Round(s.Pitch * 10)),
		Roll:        int16(s.rnd.Intn(3600)),
		Temperature: int16(200 + s.rnd.Intn(50)),
		Gamma:       uint16(30 + s.rnd.Intn(40)),
	}, nil
}

// SensorInterface serves sensor readings and surveys, from the local
// Sensor or forwarded to the probe.
func (s *Services) SensorInterface() *rasp.Interface {
	return &rasp.Interface{
		ID:    IfaceSensor,
		Valid: func() bool { return s.Sensor != nil || s.Probe != nil },
		Commands: []rasp.CommandSpec{
			CmdReadSensor: {Length: 0},
			CmdTakeSurvey: {Length: rasp.AnyLength, Validate: func(msg *rasp.Message) bool {
				return len(msg.Data) == 0 || len(msg.Data) == 4
			}},
		},
		MaxCommand: CmdTakeSurvey,
		Handler: handlerTable{
			CmdReadSensor: s.readSensor,
			CmdTakeSurvey: s.takeSurvey,
		},
	}
}

// sample gets a reading from the local sensor immediately, or from the
// probe via done. It returns false if the request can not start.
func (s *Services) sample(done func(Sample, error)) bool {
	if s.Sensor != nil {
		done(s.Sensor.Sample())
		return true
	}
	return s.Probe.Start(done)
}

func (s *Services) readSensor(ctx context.Context, msg *rasp.Message) {
	session, hdr := rasp.SessionFrom(ctx), msg.Header
	started := s.sample(func(smp Sample, err error) {
		if err != nil {
			replyTo(session, hdr, rasp.NotAvailable, nil)
			return
		}
		replyEncoded(session, hdr, &smp)
	})
	if !started {
		reply(ctx, msg, rasp.NAInThisMode, nil)
	}
}

func (s *Services) takeSurvey(ctx context.Context, msg *rasp.Message) {
	if s.Records == nil {
		reply(ctx, msg, rasp.NotApplicable, nil)
		return
	}
	var length int32
	if len(msg.Data) == 4 {
		length = int32(le.Uint32(msg.Data))
	}
	session, hdr := rasp.SessionFrom(ctx), msg.Header
	started := s.sample(func(smp Sample, err error) {
		if err != nil {
			replyTo(session, hdr, rasp.NotAvailable, nil)
			return
		}
		rec, err := s.Records.StoreSurvey(record.Survey{
			Time:        s.now(),
			Azimuth:     smp.Azimuth,
			Pitch:       smp.Pitch,
			Roll:        smp.Roll,
			Temperature: smp.Temperature,
			Gamma:       smp.Gamma,
			Length:      length,
		})
		if err != nil {
			replyTo(session, hdr, statusOf(err), nil)
			return
		}
		if s.NVDB != nil {
			s.NVDB.UpdateMeters(func(mt *nvdb.Meters) {
				mt.SurveyCount++
				if smp.Temperature > mt.MaxTemperature {
					mt.MaxTemperature = smp.Temperature
				}
			})
		}
		replyTo(session, hdr, rasp.Accepted, record.EncodeRecord(&rec))
	})
	if !started {
		reply(ctx, msg, rasp.NAInThisMode, nil)
	}
}

// DefaultSensorTimeout bounds a SensorRequest.
const DefaultSensorTimeout = 2 * time.Second

// SensorRequest reads the sensor of the probe over its link. A lock
// flag admits a single outstanding request, and the wait for the reply
// is bounded by Timeout.
type SensorRequest struct {
	Link    *rasp.Manager
	Timeout time.Duration

	locked   bool
	deadline time.Time
	done     func(Sample, error)
}

// Locked reports whether a request is outstanding.
func (r *SensorRequest) Locked() bool {
	return r.locked
}

// Start sends the request. done is invoked from the loop with the
// sample or an error. It returns false if a request is outstanding or
// the link is busy.
func (r *SensorRequest) Start(done func(Sample, error)) bool {
	if r.locked || !r.Link.Request(rasp.Header{Interface: IfaceSensor, Command: CmdReadSensor}, nil) {
		return false
	}
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultSensorTimeout
	}
	r.locked, r.deadline, r.done = true, time.Time{}, done
	r.Link.SetProcessor(r.process, 2*timeout)
	return true
}

func (r *SensorRequest) process(cc fx.ControlContext, m *rasp.Manager) {
	now := cc.Time()
	if r.deadline.IsZero() {
		timeout := r.Timeout
		if timeout == 0 {
			timeout = DefaultSensorTimeout
		}
		r.deadline = now.Add(timeout)
	}
	// a message stays in the receiver while a frame is going out.
	if msg := r.take(m); msg != nil {
		if msg.Header != (rasp.Header{Interface: IfaceSensor, Command: CmdReadSensor}) {
			m.Dispatch(cc, msg)
		} else {
			var smp Sample
			data, err := rasp.ReplyData(msg)
			if err == nil {
				err = smp.UnmarshalBinary(data)
			}
			r.finish(m, smp, err)
			return
		}
	}
	if !now.Before(r.deadline) {
		glog.Warningf("iface: probe sensor request timed out")
		r.finish(m, Sample{}, ErrSensorTimeout)
	}
}

func (r *SensorRequest) take(m *rasp.Manager) *rasp.Message {
	if m.Busy() {
		return nil
	}
	return m.TakeMessage()
}

func (r *SensorRequest) finish(m *rasp.Manager, smp Sample, err error) {
	done := r.done
	r.locked, r.done = false, nil
	m.RestoreProcessor()
	done(smp, err)
}

// Package telemetry publishes the survey log to MQTT.
package telemetry

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	fx "github.com/robotalks/mwd.go/pkg/framework"
	"github.com/robotalks/mwd.go/pkg/record"
	"github.com/robotalks/mwd.go/pkg/telemetry/pb"
)

// Type ids of published messages.
const (
	SurveyTypeID     uint32 = 0x80040001
	HoleMarkerTypeID uint32 = 0x80040002
)

// Topic suffixes under the node name.
const (
	SurveyTopic = "survey"
	HoleTopic   = "hole"
)

// ErrUnknownType indicates an unknown type id.
type ErrUnknownType struct {
	TypeID uint32
}

// Error implements error.
func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown type: %x", e.TypeID)
}

// SurveyMsg converts a stored record.
func SurveyMsg(node string, hole uint32, r *record.Record) *pb.Survey {
	return &pb.Survey{
		Node:        node,
		Hole:        hole,
		Number:      r.Number,
		Timestamp:   r.Timestamp,
		Length:      r.Length,
		Azimuth:     int32(r.Azimuth),
		Pitch:       int32(r.Pitch),
		Roll:        int32(r.Roll),
		Temperature: int32(r.Temperature),
		North:       r.X,
		East:        r.Y,
		Depth:       r.Z,
		Gamma:       uint32(r.Gamma),
		Status:      uint32(r.Status),
		PrevBranch:  r.PrevBranch,
	}
}

// HoleMarkerMsg converts a logged marker.
func HoleMarkerMsg(node string, h *record.HoleMarker) *pb.HoleMarker {
	return &pb.HoleMarker{
		Node:         node,
		Hole:         h.HoleNumber,
		Kind:         uint32(h.Kind),
		Name:         h.HoleName(),
		StartRecord:  h.StartRecord,
		EndRecord:    h.EndRecord,
		StartTime:    h.StartTime,
		BranchRecord: h.BranchRecord,
	}
}

// Encode wraps msg into a typed envelope.
func Encode(msg proto.Message) ([]byte, error) {
	var typeID uint32
	switch msg.(type) {
	case *pb.Survey:
		typeID = SurveyTypeID
	case *pb.HoleMarker:
		typeID = HoleMarkerTypeID
	default:
		return nil, fmt.Errorf("not a telemetry message: %T", msg)
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(&pb.Typed{TypeId: typeID, Message: data})
}

// Decode unwraps a typed envelope.
func Decode(payload []byte) (proto.Message, error) {
	var typed pb.Typed
	if err := proto.Unmarshal(payload, &typed); err != nil {
		return nil, err
	}
	var msg proto.Message
	switch typed.TypeId {
	case SurveyTypeID:
		msg = &pb.Survey{}
	case HoleMarkerTypeID:
		msg = &pb.HoleMarker{}
	default:
		return nil, &ErrUnknownType{TypeID: typed.TypeId}
	}
	if err := proto.Unmarshal(typed.Message, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Reporter publishes record events taken from the loop.
type Reporter struct {
	Node  string
	Queue Publisher
}

// Hook returns the record.Manager OnStore hook posting events to loop.
func Hook(loop fx.LoopControl) func(record.Event) {
	return func(ev record.Event) { loop.PostMessage(ev) }
}

// Report publishes one event.
func (r *Reporter) Report(ev record.Event) error {
	var (
		topic string
		msg   proto.Message
	)
	switch ev.Kind {
	case record.EventSurvey:
		topic, msg = SurveyTopic, SurveyMsg(r.Node, ev.Hole, &ev.Record)
	case record.EventMarker:
		topic, msg = HoleTopic, HoleMarkerMsg(r.Node, &ev.Marker)
	default:
		return nil
	}
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	token := r.Queue.Pub(r.Node+"/"+topic, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			glog.Warningf("telemetry: publish %s: %v", topic, token.Error())
		}
	}()
	return nil
}

// Control implements Controller.
func (r *Reporter) Control(cc fx.ControlContext) error {
	var errs fx.AggregatedError
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mc fx.MessageProcessingContext) {
		if ev, ok := mc.CurrentMessage().(record.Event); ok {
			mc.MessageTaken()
			errs.Add(r.Report(ev))
		}
	}))
	return errs.Aggregate()
}

// AddToLoop implements LoopAdder.
func (r *Reporter) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvPostProc, r)
}

// SplitTopic returns the node and kind of a telemetry topic.
func SplitTopic(topic string) (node, kind string) {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[:i], topic[i+1:]
	}
	return "", topic
}

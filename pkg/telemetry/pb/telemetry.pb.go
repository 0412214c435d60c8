// Package pb holds the protobuf messages published as telemetry.
package pb

import (
	proto "github.com/golang/protobuf/proto"
)

// Typed wraps a serialized message with its type id.
type Typed struct {
	TypeId  uint32 `protobuf:"varint,1,opt,name=type_id,json=typeId,proto3" json:"type_id,omitempty"`
	Message []byte `protobuf:"bytes,2,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *Typed) Reset()         { *m = Typed{} }
func (m *Typed) String() string { return proto.CompactTextString(m) }
func (*Typed) ProtoMessage()    {}

// Survey is one stored survey record. Angles are in tenths of a degree,
// lengths and positions in tenths of a meter.
type Survey struct {
	Node        string `protobuf:"bytes,1,opt,name=node,proto3" json:"node,omitempty"`
	Hole        uint32 `protobuf:"varint,2,opt,name=hole,proto3" json:"hole,omitempty"`
	Number      uint32 `protobuf:"varint,3,opt,name=number,proto3" json:"number,omitempty"`
	Timestamp   uint32 `protobuf:"varint,4,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
	Length      int32  `protobuf:"varint,5,opt,name=length,proto3" json:"length,omitempty"`
	Azimuth     int32  `protobuf:"varint,6,opt,name=azimuth,proto3" json:"azimuth,omitempty"`
	Pitch       int32  `protobuf:"varint,7,opt,name=pitch,proto3" json:"pitch,omitempty"`
	Roll        int32  `protobuf:"varint,8,opt,name=roll,proto3" json:"roll,omitempty"`
	Temperature int32  `protobuf:"varint,9,opt,name=temperature,proto3" json:"temperature,omitempty"`
	North       int32  `protobuf:"varint,10,opt,name=north,proto3" json:"north,omitempty"`
	East        int32  `protobuf:"varint,11,opt,name=east,proto3" json:"east,omitempty"`
	Depth       int32  `protobuf:"varint,12,opt,name=depth,proto3" json:"depth,omitempty"`
	Gamma       uint32 `protobuf:"varint,13,opt,name=gamma,proto3" json:"gamma,omitempty"`
	Status      uint32 `protobuf:"varint,14,opt,name=status,proto3" json:"status,omitempty"`
	PrevBranch  uint32 `protobuf:"varint,15,opt,name=prev_branch,json=prevBranch,proto3" json:"prev_branch,omitempty"`
}

func (m *Survey) Reset()         { *m = Survey{} }
func (m *Survey) String() string { return proto.CompactTextString(m) }
func (*Survey) ProtoMessage()    {}

// HoleMarker reports a hole being closed, replaced or branched.
type HoleMarker struct {
	Node         string `protobuf:"bytes,1,opt,name=node,proto3" json:"node,omitempty"`
	Hole         uint32 `protobuf:"varint,2,opt,name=hole,proto3" json:"hole,omitempty"`
	Kind         uint32 `protobuf:"varint,3,opt,name=kind,proto3" json:"kind,omitempty"`
	Name         string `protobuf:"bytes,4,opt,name=name,proto3" json:"name,omitempty"`
	StartRecord  uint32 `protobuf:"varint,5,opt,name=start_record,json=startRecord,proto3" json:"start_record,omitempty"`
	EndRecord    uint32 `protobuf:"varint,6,opt,name=end_record,json=endRecord,proto3" json:"end_record,omitempty"`
	StartTime    uint32 `protobuf:"varint,7,opt,name=start_time,json=startTime,proto3" json:"start_time,omitempty"`
	BranchRecord uint32 `protobuf:"varint,8,opt,name=branch_record,json=branchRecord,proto3" json:"branch_record,omitempty"`
}

func (m *HoleMarker) Reset()         { *m = HoleMarker{} }
func (m *HoleMarker) String() string { return proto.CompactTextString(m) }
func (*HoleMarker) ProtoMessage()    {}

package iface

import (
	"context"
	"time"

	"github.com/robotalks/mwd.go/pkg/nvdb"
	"github.com/robotalks/mwd.go/pkg/rasp"
)

// Identity commands.
const (
	CmdGetIdentity byte = iota
	CmdSetIdentity
	CmdGetUserText
	CmdSetUserText
)

// IdentityInterface serves the identity and user text units.
func (s *Services) IdentityInterface() *rasp.Interface {
	return &rasp.Interface{
		ID:    IfaceIdentity,
		Valid: s.nvdbReady,
		Commands: []rasp.CommandSpec{
			CmdGetIdentity: {Length: 0},
			CmdSetIdentity: {Length: nvdb.IdentitySize},
			CmdGetUserText: {Length: 0},
			CmdSetUserText: {Length: rasp.AnyLength, Validate: func(msg *rasp.Message) bool {
				return len(msg.Data) <= nvdb.UserTextSize
			}},
		},
		MaxCommand: CmdSetUserText,
		Handler: handlerTable{
			CmdGetIdentity: s.getIdentity,
			CmdSetIdentity: s.setIdentity,
			CmdGetUserText: s.getUserText,
			CmdSetUserText: s.setUserText,
		},
	}
}

func (s *Services) getIdentity(ctx context.Context, msg *rasp.Message) {
	info, ok := s.NVDB.Identity()
	if !ok {
		reply(ctx, msg, rasp.NotAvailable, nil)
		return
	}
	replyEncoded(rasp.SessionFrom(ctx), msg.Header, &info)
}

func (s *Services) setIdentity(ctx context.Context, msg *rasp.Message) {
	var info nvdb.IdentityInfo
	if err := info.UnmarshalBinary(msg.Data); err != nil || !s.NVDB.SetIdentity(info) {
		reply(ctx, msg, rasp.Rejected, nil)
		return
	}
	reply(ctx, msg, rasp.Accepted, nil)
}

func (s *Services) getUserText(ctx context.Context, msg *rasp.Message) {
	text, ok := s.NVDB.UserText()
	if !ok {
		reply(ctx, msg, rasp.NotAvailable, nil)
		return
	}
	reply(ctx, msg, rasp.Accepted, []byte(text))
}

func (s *Services) setUserText(ctx context.Context, msg *rasp.Message) {
	if !s.NVDB.SetUserText(string(msg.Data)) {
		reply(ctx, msg, rasp.Rejected, nil)
		return
	}
	reply(ctx, msg, rasp.Accepted, nil)
}

// RTC commands.
const (
	CmdGetTime byte = iota
	CmdSetTime
)

// RTCInterface serves the real time clock as unix seconds.
func (s *Services) RTCInterface() *rasp.Interface {
	return &rasp.Interface{
		ID:    IfaceRTC,
		Valid: func() bool { return s.Clock != nil },
		Commands: []rasp.CommandSpec{
			CmdGetTime: {Length: 0},
			CmdSetTime: {Length: 4, Validate: func(msg *rasp.Message) bool {
				return le.Uint32(msg.Data) != 0
			}},
		},
		MaxCommand: CmdSetTime,
		Handler: handlerTable{
			CmdGetTime: func(ctx context.Context, msg *rasp.Message) {
				reply(ctx, msg, rasp.Accepted, u32(uint32(s.Clock.Now().Unix())))
			},
			CmdSetTime: func(ctx context.Context, msg *rasp.Message) {
				s.Clock.Set(time.Unix(int64(le.Uint32(msg.Data)), 0))
				reply(ctx, msg, rasp.Accepted, nil)
			},
		},
	}
}

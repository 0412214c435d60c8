package iface

import (
	"context"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/mwd.go/pkg/framework"
	"github.com/robotalks/mwd.go/pkg/rasp"
)

// PC commands. CmdUploadRecord and CmdUploadDone are only sent by the
// node during an upload.
const (
	CmdUpload byte = iota
	CmdUploadRecord
	CmdUploadDone
	CmdAbortUpload
)

// DefaultUploadTimeout bounds an upload.
const DefaultUploadTimeout = time.Minute

// PCInterface serves bulk record uploads to a PC.
func (s *Services) PCInterface() *rasp.Interface {
	return &rasp.Interface{
		ID:    IfacePC,
		Valid: s.hasRecords,
		Commands: []rasp.CommandSpec{
			CmdUpload:      {Length: 8},
			CmdAbortUpload: {Length: 0},
		},
		MaxCommand: CmdAbortUpload,
		Handler: handlerTable{
			CmdUpload: s.upload,
			CmdAbortUpload: func(ctx context.Context, msg *rasp.Message) {
				reply(ctx, msg, rasp.NAInThisMode, nil)
			},
		},
	}
}

// upload streams records [start, start+count) one per message. While
// the upload runs other requests on the link are dropped, except
// CmdAbortUpload.
type upload struct {
	services *Services
	next     uint32
	end      uint32
	sent     uint32
}

func (s *Services) upload(ctx context.Context, msg *rasp.Message) {
	session := rasp.SessionFrom(ctx)
	if session == nil {
		return
	}
	start, count := le.Uint32(msg.Data[0:]), le.Uint32(msg.Data[4:])
	total := s.Records.GetRecordCount()
	if start > total {
		reply(ctx, msg, rasp.NotAvailable, nil)
		return
	}
	if count > total-start {
		count = total - start
	}
	if !session.Reply(msg.Header, rasp.Accepted, u32(count)) {
		return
	}
	timeout := s.UploadTimeout
	if timeout == 0 {
		timeout = DefaultUploadTimeout
	}
	u := &upload{services: s, next: start, end: start + count}
	session.SetProcessor(u.process, timeout)
	glog.Infof("iface: upload of %d records from %d on %s", count, start, session.Name)
}

func (u *upload) process(cc fx.ControlContext, m *rasp.Manager) {
	if msg := m.TakeMessage(); msg != nil {
		if msg.Header == (rasp.Header{Interface: IfacePC, Command: CmdAbortUpload}) {
			glog.Infof("iface: upload aborted after %d records", u.sent)
			u.end = u.next
		} else {
			m.Stats.Dropped++
		}
	}
	if m.Busy() {
		return
	}
	if u.next < u.end {
		data, err := u.services.Records.GetRecordBytes(u.next)
		if err != nil {
			glog.Errorf("iface: upload record %d: %v", u.next, err)
			u.end = u.next
		} else if m.Reply(rasp.Header{Interface: IfacePC, Command: CmdUploadRecord}, rasp.Accepted, data) {
			u.next++
			u.sent++
		}
		return
	}
	if m.Reply(rasp.Header{Interface: IfacePC, Command: CmdUploadDone}, rasp.Accepted, u32(u.sent)) {
		m.RestoreProcessor()
	}
}

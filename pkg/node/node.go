// Package node assembles a probe or uphole node from its config.
package node

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/websocket"

	"github.com/robotalks/mwd.go/pkg/config"
	"github.com/robotalks/mwd.go/pkg/env"
	fx "github.com/robotalks/mwd.go/pkg/framework"
	"github.com/robotalks/mwd.go/pkg/iface"
	"github.com/robotalks/mwd.go/pkg/nvdb"
	"github.com/robotalks/mwd.go/pkg/nvmem"
	"github.com/robotalks/mwd.go/pkg/pagestore"
	"github.com/robotalks/mwd.go/pkg/rasp"
	"github.com/robotalks/mwd.go/pkg/record"
	"github.com/robotalks/mwd.go/pkg/serial"
	"github.com/robotalks/mwd.go/pkg/telemetry"
)

// ReopenDelay is the wait before a failed UART is opened again.
const ReopenDelay = time.Second

// Link is a RASP session and the port carrying it.
type Link struct {
	Config  config.LinkConfig
	Port    *serial.Port
	Session *rasp.Manager
}

// Node is a running probe or uphole unit.
type Node struct {
	Config   *config.Config
	Loop     *fx.Loop
	Images   [2]*nvmem.Device
	NVDB     *nvdb.Manager
	Store    pagestore.Driver
	Records  *record.Manager
	Services *iface.Services
	Links    []*Link
	Reporter *telemetry.Reporter

	queue     *telemetry.Queue
	pageFile  *pagestore.File
	restored  bool
	mirrored  record.State
	meterTime time.Time
}

// New creates the node described by cfg, which must be validated and
// normalized.
func New(cfg *config.Config) (*Node, error) {
	n := &Node{Config: cfg, Loop: fx.NewLoop()}
	n.Loop.Interval = cfg.TickInterval()

	identity := nvdb.DefaultIdentity
	nvdb.CopyString(identity.SerialNumber[:], cfg.Name)
	env.BoardID(identity.BoardID[:])
	identity.NodeType = nvdb.NodeProbe
	if cfg.Role == config.RoleUphole {
		identity.NodeType = nvdb.NodeUphole
	}
	settings := nvdb.DefaultSettings
	if cfg.DefaultPipeLength > 0 {
		settings.DefaultPipeLength = cfg.DefaultPipeLength
	}

	for i, path := range []string{cfg.Storage.Image1, cfg.Storage.Image2} {
		name := cfg.Name + "-nv" + string(rune('1'+i))
		if path == "" {
			n.Images[i] = nvmem.New(name, nvdb.RegionSize())
			continue
		}
		img, err := nvmem.Open(name, path, nvdb.RegionSize())
		if err != nil {
			return nil, err
		}
		n.Images[i] = img
	}
	n.NVDB = nvdb.NewManager(n.Images[0], n.Images[1],
		nvdb.WithIdentityDefaults(identity),
		nvdb.WithSettingsDefaults(settings))

	if path := cfg.Storage.PageFile; path != "" {
		f, err := pagestore.OpenFile(path, record.PageSize)
		if err != nil {
			return nil, err
		}
		n.Store, n.pageFile = f, f
	} else {
		n.Store = pagestore.NewMem(record.PageSize)
	}
	recs, err := record.NewManager(n.Store)
	if err != nil {
		n.Close()
		return nil, err
	}
	n.Records = recs

	n.Services = &iface.Services{NVDB: n.NVDB, Clock: &iface.SystemClock{}}
	if cfg.Role == config.RoleProbe {
		n.Services.Sensor = iface.NewSimulatedSensor(cfg.Sensor.Azimuth, cfg.Sensor.Pitch, cfg.Sensor.Seed)
	}
	dispatcher := n.Services.Dispatcher()
	for _, lc := range cfg.Links {
		l := &Link{Config: lc, Port: serial.NewPort(lc.Name)}
		l.Session = rasp.NewManager(lc.Name, lc.Client, l.Port, dispatcher)
		l.Port.Session = l.Session
		if lc.Probe {
			n.Services.Probe = &iface.SensorRequest{Link: l.Session}
		}
		n.Links = append(n.Links, l)
		n.Services.Links = append(n.Services.Links, l.Session)
		n.Loop.Add(l.Port, l.Session)
	}

	if cfg.MQTTURL != "" {
		if n.queue, err = telemetry.NewQueueFromURL(cfg.MQTTURL); err != nil {
			n.Close()
			return nil, errors.Wrap(err, "telemetry")
		}
		n.Reporter = &telemetry.Reporter{Node: cfg.Name, Queue: n.queue}
		n.Records.OnStore = telemetry.Hook(n.Loop)
		n.Loop.Add(n.Reporter)
	}

	n.Loop.Add(n.Images[0], n.Images[1], n.NVDB, n.Records)
	n.Loop.AddController(fx.PrLvPostProc, n)
	return n, nil
}

// Link finds a link by name.
func (n *Node) Link(name string) *Link {
	for _, l := range n.Links {
		if l.Config.Name == name {
			return l
		}
	}
	return nil
}

// Ready reports whether the survey log has been reopened.
func (n *Node) Ready() bool {
	return n.restored
}

// Control implements Controller. Once NVRAM is up it reopens the survey
// log from the OpState unit, then mirrors the log state into it.
func (n *Node) Control(cc fx.ControlContext) error {
	if !n.NVDB.Initialized() {
		return nil
	}
	now := cc.Time()
	if !n.restored {
		n.meterTime = now
		return n.restore()
	}
	if st := n.Records.State(); st != n.mirrored {
		op, ok := n.NVDB.OpState()
		if ok {
			op.HoleNumber, op.RecordCount = st.HoleNumber, st.RecordCount
			op.HoleStartRecord, op.MarkerCount = st.HoleStart, st.MarkerCount
			op.LastSurveyTime, op.HoleOpen = st.LastSurveyTime, 0
			if st.HoleOpen {
				op.HoleOpen = 1
			}
			if n.NVDB.SetOpState(op) {
				n.mirrored = st
			}
		}
	}
	if elapsed := now.Sub(n.meterTime); elapsed >= time.Second {
		secs := uint32(elapsed / time.Second)
		n.meterTime = n.meterTime.Add(time.Duration(secs) * time.Second)
		n.NVDB.UpdateMeters(func(mt *nvdb.Meters) { mt.PowerOnSeconds += secs })
	}
	return nil
}

func (n *Node) restore() error {
	n.restored = true
	n.NVDB.UpdateMeters(func(mt *nvdb.Meters) { mt.BootCount++ })
	n.Services.Records = n.Records
	op, ok := n.NVDB.OpState()
	if !ok {
		glog.Warningf("node %s: operating state unavailable, survey log starts empty", n.Config.Name)
		return nil
	}
	st := record.State{
		HoleNumber:     op.HoleNumber,
		HoleOpen:       op.HoleOpen != 0,
		RecordCount:    op.RecordCount,
		HoleStart:      op.HoleStartRecord,
		MarkerCount:    op.MarkerCount,
		LastSurveyTime: op.LastSurveyTime,
	}
	if st == (record.State{}) {
		return nil
	}
	var hole record.HoleSettings
	if settings, ok := n.NVDB.Settings(); ok {
		hole.DefaultPipeLength = settings.DefaultPipeLength
		hole.Declination = settings.Declination
		hole.DesiredAzimuth = settings.DesiredAzimuth
		hole.Toolface = settings.Toolface
	}
	if err := n.Records.Restore(st, hole); err != nil {
		return errors.Wrap(err, "reopen survey log")
	}
	n.mirrored = st
	glog.Infof("node %s: survey log reopened, hole %d, %d records", n.Config.Name, st.HoleNumber, st.RecordCount)
	return nil
}

// Attach connects a stream to a link attached by the host program.
func (n *Node) Attach(name string, conn io.ReadWriteCloser) (<-chan struct{}, error) {
	l := n.Link(name)
	if l == nil {
		return nil, errors.Errorf("unknown link %q", name)
	}
	return l.Port.Attach(conn), nil
}

// Run runs the loop and the link transports until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	runner := fx.NewRunnerWith(ctx)
	for _, l := range n.Links {
		if r := l.transport(); r != nil {
			runner.Go(fx.NamedRun(l.Config.Name, r))
		}
	}
	if n.queue != nil {
		if token := n.queue.Connect(); token.WaitTimeout(5*time.Second) && token.Error() != nil {
			glog.Warningf("node %s: telemetry: %v", n.Config.Name, token.Error())
		}
	}
	glog.Infof("node %s: running as %s", n.Config.Name, n.Config.Role)
	runner.Go(fx.NamedRun("loop", n.Loop))
	err := runner.Wait()
	var errs fx.AggregatedError
	errs.Add(err, n.Close())
	return errs.Aggregate()
}

// Close flushes the survey log and releases storage. The loop must not
// be running.
func (n *Node) Close() error {
	var errs fx.AggregatedError
	if n.Records != nil {
		errs.Add(n.Records.Sync())
	}
	for _, img := range n.Images {
		if img != nil {
			errs.Add(img.Save())
		}
	}
	if n.pageFile != nil {
		errs.Add(n.pageFile.Close())
		n.pageFile = nil
	}
	for _, l := range n.Links {
		l.Port.Detach()
	}
	if n.queue != nil {
		errs.Add(n.queue.Close())
	}
	return errs.Aggregate()
}

func (l *Link) transport() fx.Runnable {
	switch {
	case l.Config.Device != "":
		return fx.RunFunc(l.serveUART)
	case l.Config.Listen != "":
		return fx.RunFunc(l.serveWebsocket)
	}
	return nil
}

func (l *Link) serveUART(ctx context.Context) error {
	for {
		conn, err := serial.Open(l.Config.Device, l.Config.Baud)
		if err != nil {
			glog.Warningf("link %s: %v", l.Config.Name, err)
		} else {
			done := l.Port.Attach(conn)
			select {
			case <-done:
			case <-ctx.Done():
				l.Port.Detach()
				return ctx.Err()
			}
		}
		select {
		case <-time.After(ReopenDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Link) serveWebsocket(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(l.Config.Path, websocket.Handler(func(conn *websocket.Conn) {
		glog.Infof("link %s: client %s", l.Config.Name, conn.Request().RemoteAddr)
		<-l.Port.Attach(serial.Websocket(conn))
	}))
	server := &http.Server{Addr: l.Config.Listen, Handler: mux}
	return fx.RunWithContextCloser(ctx, server, server.ListenAndServe)
}

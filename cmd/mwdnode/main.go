package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"net"

	"github.com/golang/glog"

	"github.com/robotalks/mwd.go/pkg/config"
	fx "github.com/robotalks/mwd.go/pkg/framework"
	"github.com/robotalks/mwd.go/pkg/node"
)

var simProbe bool

func init() {
	config.SetupFlags()
	flag.BoolVar(&simProbe, "sim", false, "Run a simulated probe on the unattached probe link of an uphole node")
}

// probeSim starts an in-process probe attached to the probe link of n.
func probeSim(n *node.Node) (fx.Runnable, error) {
	link := n.Config.ProbeLink()
	if link == nil || link.Device != "" || link.Listen != "" {
		glog.Warning("-sim ignored: no unattached probe link")
		return nil, nil
	}
	cfg, err := (&config.Config{
		Role:  config.RoleProbe,
		Name:  n.Config.Name + "-probe",
		Links: []config.LinkConfig{{Name: "uphole"}},
	}).Resolve()
	if err != nil {
		return nil, err
	}
	probe, err := node.New(cfg)
	if err != nil {
		return nil, err
	}
	a, b := net.Pipe()
	if _, err = probe.Attach("uphole", a); err != nil {
		return nil, err
	}
	if _, err = n.Attach(link.Name, b); err != nil {
		return nil, err
	}
	return fx.NamedRun("probe-sim", probe), nil
}

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.NewConfig().Resolve()
	if err != nil {
		glog.Exit(err)
	}
	n, err := node.New(cfg)
	if err != nil {
		glog.Exit(err)
	}

	runner := fx.NewRunner().HandleSignals()
	if simProbe {
		sim, err := probeSim(n)
		if err != nil {
			glog.Exit(err)
		}
		if sim != nil {
			runner.Go(sim)
		}
	}
	runner.Go(fx.NamedRun(cfg.Name, n))
	if err := runner.Wait(); err != nil {
		glog.Exit(err)
	}
}

// Package env provides facts about the host running a node.
package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// AppID scopes the machine id so the raw id is never exposed.
const AppID = "mwd.go"

// MachineID retrieves the unique ID identifying the machine. The host
// name is used when the platform does not provide one.
func MachineID() string {
	id, err := machineid.ProtectedID(AppID)
	if err != nil {
		glog.Warningf("env: machine id unavailable: %v", err)
		if id, err = os.Hostname(); err != nil {
			return "unknown"
		}
	}
	return id
}

// BoardID returns the first len(dst) bytes of the machine ID in dst.
func BoardID(dst []byte) {
	id := MachineID()
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, id)
}

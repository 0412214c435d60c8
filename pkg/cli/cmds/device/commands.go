// Package device adds node identity, clock and storage commands.
package device

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/mwd.go/pkg/cli/sh"
	"github.com/robotalks/mwd.go/pkg/iface"
	"github.com/robotalks/mwd.go/pkg/nvdb"
)

// Identity is the display form of the identity unit.
type Identity struct {
	SerialNumber string `json:"serial_number"`
	BoardID      string `json:"board_id"`
	Model        uint16 `json:"model"`
	HardwareRev  uint16 `json:"hardware_rev"`
	FirmwareRev  string `json:"firmware_rev"`
	NodeType     string `json:"node_type"`
	UserText     string `json:"user_text,omitempty"`
}

// UnitState is the display form of a storage unit status.
type UnitState struct {
	Unit        string `json:"unit"`
	Dirty       bool   `json:"dirty"`
	Corrupt     bool   `json:"corrupt"`
	Initialized bool   `json:"initialized"`
	Image1Empty bool   `json:"image1_empty"`
	Image2Empty bool   `json:"image2_empty"`
}

func nodeType(t uint8) string {
	switch t {
	case nvdb.NodeProbe:
		return "probe"
	case nvdb.NodeUphole:
		return "uphole"
	}
	return strconv.Itoa(int(t))
}

// ParseUnit accepts a unit name or number.
func ParseUnit(s string) (nvdb.UnitID, error) {
	for id := nvdb.UnitID(0); id < nvdb.NumUnits; id++ {
		if id.String() == s {
			return id, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || nvdb.UnitID(n) >= nvdb.NumUnits {
		return 0, fmt.Errorf("invalid unit %q", s)
	}
	return nvdb.UnitID(n), nil
}

var (
	// IdentityCmd shows the node identity.
	IdentityCmd = ishell.Cmd{
		Name:    "identity",
		Aliases: []string{"id"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			conn := sh.ConnFrom(c)
			data, err := conn.Call(iface.IfaceIdentity, iface.CmdGetIdentity, nil)
			if err != nil {
				c.Err(err)
				return
			}
			var info nvdb.IdentityInfo
			if err = info.UnmarshalBinary(data); err != nil {
				c.Err(err)
				return
			}
			id := Identity{
				SerialNumber: nvdb.String(info.SerialNumber[:]),
				BoardID:      nvdb.String(info.BoardID[:]),
				Model:        info.Model,
				HardwareRev:  info.HardwareRev,
				FirmwareRev:  fmt.Sprintf("%d.%d", info.FirmwareRev>>8, info.FirmwareRev&0xff),
				NodeType:     nodeType(info.NodeType),
			}
			if text, err := conn.Call(iface.IfaceIdentity, iface.CmdGetUserText, nil); err == nil {
				id.UserText = string(text)
			}
			sh.Print(c, id)
		}),
	}

	// UserTextCmd sets the user text.
	UserTextCmd = ishell.Cmd{
		Name: "identity.text",
		Help: "TEXT",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("TEXT required"))
				return
			}
			_, err := sh.ConnFrom(c).Call(iface.IfaceIdentity, iface.CmdSetUserText, []byte(c.Args[0]))
			sh.OK(c, err)
		}),
	}

	// TimeCmd shows the node clock.
	TimeCmd = ishell.Cmd{
		Name: "time",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			data, err := sh.ConnFrom(c).Call(iface.IfaceRTC, iface.CmdGetTime, nil)
			if err != nil {
				c.Err(err)
				return
			}
			if len(data) < 4 {
				c.Err(fmt.Errorf("short reply"))
				return
			}
			sh.Print(c, time.Unix(int64(binary.LittleEndian.Uint32(data)), 0).UTC().Format(time.RFC3339))
		}),
	}

	// TimeSetCmd sets the node clock, to host time by default.
	TimeSetCmd = ishell.Cmd{
		Name: "time.set",
		Help: "[RFC3339]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			t := time.Now()
			if len(c.Args) > 0 {
				var err error
				if t, err = time.Parse(time.RFC3339, c.Args[0]); err != nil {
					c.Err(err)
					return
				}
			}
			data := make([]byte, 4)
			binary.LittleEndian.PutUint32(data, uint32(t.Unix()))
			_, err := sh.ConnFrom(c).Call(iface.IfaceRTC, iface.CmdSetTime, data)
			sh.OK(c, err)
		}),
	}

	// UnitCmd shows storage unit status.
	UnitCmd = ishell.Cmd{
		Name: "unit",
		Help: "[UNIT]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			ids := []nvdb.UnitID{}
			if len(c.Args) > 0 {
				id, err := ParseUnit(c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				ids = append(ids, id)
			} else {
				for id := nvdb.UnitID(0); id < nvdb.NumUnits; id++ {
					ids = append(ids, id)
				}
			}
			states := make([]UnitState, 0, len(ids))
			for _, id := range ids {
				data, err := sh.ConnFrom(c).Call(iface.IfaceDiagnostics, iface.CmdUnitStatus, []byte{byte(id)})
				if err != nil {
					c.Err(err)
					return
				}
				states = append(states, DecodeUnitState(id, data[0]))
			}
			sh.Print(c, states)
		}),
	}

	// UnitRepairCmd repairs corrupt units with defaults.
	UnitRepairCmd = ishell.Cmd{
		Name: "unit.repair",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			data, err := sh.ConnFrom(c).Call(iface.IfaceDiagnostics, iface.CmdRepairUnits, nil)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Print(c, fmt.Sprintf("%d repaired", data[0]))
		}),
	}

	// PingCmd measures the round trip.
	PingCmd = ishell.Cmd{
		Name: "ping",
		Help: "[TEXT]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			payload := []byte("ping")
			if len(c.Args) > 0 {
				payload = []byte(c.Args[0])
			}
			start := time.Now()
			data, err := sh.ConnFrom(c).Call(iface.IfaceDiagnostics, iface.CmdPing, payload)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Print(c, fmt.Sprintf("%s %v", data, time.Since(start)))
		}),
	}
)

// DecodeUnitState converts unit status flags.
func DecodeUnitState(id nvdb.UnitID, b byte) UnitState {
	return UnitState{
		Unit:        id.String(),
		Dirty:       b&iface.UnitDirty != 0,
		Corrupt:     b&iface.UnitCorrupt != 0,
		Initialized: b&iface.UnitInitialized != 0,
		Image1Empty: b&iface.UnitImage1Empty != 0,
		Image2Empty: b&iface.UnitImage2Empty != 0,
	}
}

func init() {
	sh.AddCmds(
		&IdentityCmd,
		&UserTextCmd,
		&TimeCmd,
		&TimeSetCmd,
		&UnitCmd,
		&UnitRepairCmd,
		&PingCmd,
	)
}

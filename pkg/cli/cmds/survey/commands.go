// Package survey adds sensor, hole and record log commands.
package survey

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/mwd.go/pkg/cli/sh"
	"github.com/robotalks/mwd.go/pkg/iface"
	"github.com/robotalks/mwd.go/pkg/record"
)

var le = binary.LittleEndian

func u32(v uint32) []byte {
	b := make([]byte, 4)
	le.PutUint32(b, v)
	return b
}

func argU32(c *ishell.Context, i int, name string) (uint32, bool) {
	if len(c.Args) <= i {
		c.Err(fmt.Errorf("%s required", name))
		return 0, false
	}
	v, err := strconv.ParseUint(c.Args[i], 0, 32)
	if err != nil {
		c.Err(fmt.Errorf("invalid %s: %v", name, err))
		return 0, false
	}
	return uint32(v), true
}

func printRecord(c *ishell.Context, data []byte) {
	rec, err := record.DecodeRecord(data)
	if err != nil {
		c.Err(err)
		return
	}
	sh.Print(c, rec)
}

var (
	// SensorCmd reads the sensor without logging.
	SensorCmd = ishell.Cmd{
		Name: "sensor",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			data, err := sh.ConnFrom(c).Call(iface.IfaceSensor, iface.CmdReadSensor, nil)
			if err != nil {
				c.Err(err)
				return
			}
			var smp iface.Sample
			if err = smp.UnmarshalBinary(data); err != nil {
				c.Err(err)
				return
			}
			sh.Print(c, smp)
		}),
	}

	// SurveyCmd takes and logs a survey.
	SurveyCmd = ishell.Cmd{
		Name: "survey",
		Help: "[LENGTH]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			var payload []byte
			if len(c.Args) > 0 {
				length, err := strconv.ParseInt(c.Args[0], 0, 32)
				if err != nil {
					c.Err(err)
					return
				}
				payload = u32(uint32(int32(length)))
			}
			data, err := sh.ConnFrom(c).Call(iface.IfaceSensor, iface.CmdTakeSurvey, payload)
			if err != nil {
				c.Err(err)
				return
			}
			printRecord(c, data)
		}),
	}

	// HoleStartCmd starts a new hole.
	HoleStartCmd = ishell.Cmd{
		Name: "hole.start",
		Help: "NAME [PIPE-LENGTH [DECLINATION [AZIMUTH [TOOLFACE]]]]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("NAME required"))
				return
			}
			hole := record.HoleSettings{Name: c.Args[0]}
			var vals [4]int64
			for i := range vals {
				if len(c.Args) <= i+1 {
					break
				}
				v, err := strconv.ParseInt(c.Args[i+1], 0, 16)
				if err != nil {
					c.Err(err)
					return
				}
				vals[i] = v
			}
			hole.DefaultPipeLength = uint16(vals[0])
			hole.Declination = int16(vals[1])
			hole.DesiredAzimuth = int16(vals[2])
			hole.Toolface = int16(vals[3])
			data, err := sh.ConnFrom(c).Call(iface.IfaceHole, iface.CmdStartHole, iface.EncodeStartHole(hole))
			if err != nil {
				c.Err(err)
				return
			}
			sh.Print(c, fmt.Sprintf("hole %d", le.Uint32(data)))
		}),
	}

	// HoleCloseCmd closes the open hole.
	HoleCloseCmd = ishell.Cmd{
		Name: "hole.close",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			_, err := sh.ConnFrom(c).Call(iface.IfaceHole, iface.CmdCloseHole, nil)
			sh.OK(c, err)
		}),
	}

	// HoleInfoCmd shows the open hole summary.
	HoleInfoCmd = ishell.Cmd{
		Name: "hole.info",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			data, err := sh.ConnFrom(c).Call(iface.IfaceHole, iface.CmdHoleInfo, nil)
			if err != nil {
				c.Err(err)
				return
			}
			var info iface.HoleInfo
			if err = info.UnmarshalBinary(data); err != nil {
				c.Err(err)
				return
			}
			sh.Print(c, info)
		}),
	}

	// HoleMarkerCmd shows a hole marker by index.
	HoleMarkerCmd = ishell.Cmd{
		Name: "hole.marker",
		Help: "INDEX",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			i, ok := argU32(c, 0, "INDEX")
			if !ok {
				return
			}
			data, err := sh.ConnFrom(c).Call(iface.IfaceHole, iface.CmdGetMarker, u32(i))
			if err != nil {
				c.Err(err)
				return
			}
			h, err := record.DecodeMarker(data)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Print(c, struct {
				record.HoleMarker
				HoleName string
			}{h, h.HoleName()})
		}),
	}

	// RecordsCmd shows the record count.
	RecordsCmd = ishell.Cmd{
		Name: "records",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			data, err := sh.ConnFrom(c).Call(iface.IfaceHole, iface.CmdRecordCount, nil)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Print(c, le.Uint32(data))
		}),
	}

	// RecordCmd shows one record.
	RecordCmd = ishell.Cmd{
		Name: "record",
		Help: "NUMBER",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			n, ok := argU32(c, 0, "NUMBER")
			if !ok {
				return
			}
			data, err := sh.ConnFrom(c).Call(iface.IfaceHole, iface.CmdGetRecord, u32(n))
			if err != nil {
				c.Err(err)
				return
			}
			printRecord(c, data)
		}),
	}

	// RecordRemoveCmd removes the last record.
	RecordRemoveCmd = ishell.Cmd{
		Name: "record.remove",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			data, err := sh.ConnFrom(c).Call(iface.IfaceHole, iface.CmdRemoveLast, nil)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Print(c, fmt.Sprintf("removed %d", le.Uint32(data)))
		}),
	}

	// RecordDeleteCmd marks a record deleted.
	RecordDeleteCmd = ishell.Cmd{
		Name: "record.delete",
		Help: "NUMBER",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			n, ok := argU32(c, 0, "NUMBER")
			if !ok {
				return
			}
			_, err := sh.ConnFrom(c).Call(iface.IfaceHole, iface.CmdDeleteRecord, u32(n))
			sh.OK(c, err)
		}),
	}

	// BranchCmd branches from a record, or cancels a pending branch.
	BranchCmd = ishell.Cmd{
		Name: "branch",
		Help: "NUMBER|cancel",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) > 0 && c.Args[0] == "cancel" {
				_, err := sh.ConnFrom(c).Call(iface.IfaceHole, iface.CmdCancelBranch, nil)
				sh.OK(c, err)
				return
			}
			n, ok := argU32(c, 0, "NUMBER")
			if !ok {
				return
			}
			_, err := sh.ConnFrom(c).Call(iface.IfaceHole, iface.CmdBranch, u32(n))
			sh.OK(c, err)
		}),
	}

	// UploadCmd streams a range of records.
	UploadCmd = ishell.Cmd{
		Name: "upload",
		Help: "[START [COUNT]]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			var start, count uint32 = 0, ^uint32(0)
			var ok bool
			if len(c.Args) > 0 {
				if start, ok = argU32(c, 0, "START"); !ok {
					return
				}
			}
			if len(c.Args) > 1 {
				if count, ok = argU32(c, 1, "COUNT"); !ok {
					return
				}
			}
			var recs []record.Record
			sent, err := sh.ConnFrom(c).Upload(start, count, func(rec record.Record) {
				recs = append(recs, rec)
			})
			if err != nil {
				c.Err(err)
				return
			}
			sh.Print(c, recs)
			if !sh.ShellFrom(c).OutputJSON {
				c.Printf("%d records\n", sent)
			}
		}),
	}
)

func init() {
	sh.AddCmds(
		&SensorCmd,
		&SurveyCmd,
		&HoleStartCmd,
		&HoleCloseCmd,
		&HoleInfoCmd,
		&HoleMarkerCmd,
		&RecordsCmd,
		&RecordCmd,
		&RecordRemoveCmd,
		&RecordDeleteCmd,
		&BranchCmd,
		&UploadCmd,
	)
}

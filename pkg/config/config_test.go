package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const upholeYAML = `
role: uphole
name: rig7
links:
  - name: probe
    client: 1
    device: /dev/ttyUSB0
    probe: true
  - name: pc
    listen: ":8080"
storage:
  page_file: /var/lib/mwd/records.bin
  image1: /var/lib/mwd/nv1.bin
  image2: /var/lib/mwd/nv2.bin
mqtt_url: mqtt://localhost:1883/mwd/
default_pipe_length: 30
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(upholeYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	Normalize(cfg)
	require.Equal(t, RoleUphole, cfg.Role)
	require.Equal(t, "rig7", cfg.Name)
	require.Len(t, cfg.Links, 2)
	require.Equal(t, DefaultBaud, cfg.Links[0].Baud)
	require.Equal(t, DefaultWebsocketPath, cfg.Links[1].Path)
	require.Equal(t, "probe", cfg.ProbeLink().Name)
	require.Equal(t, DefaultTickMs, cfg.TickMs)
	require.EqualValues(t, 30, cfg.DefaultPipeLength)
}

func TestParseUnknownField(t *testing.T) {
	_, err := Parse([]byte("role: probe\nbogus: 1\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"probe", Config{Role: RoleProbe}, true},
		{"bad role", Config{Role: "surface"}, false},
		{"negative tick", Config{Role: RoleProbe, TickMs: -1}, false},
		{"unnamed link", Config{Role: RoleProbe, Links: []LinkConfig{{}}}, false},
		{"duplicated link", Config{Role: RoleProbe, Links: []LinkConfig{{Name: "a"}, {Name: "a"}}}, false},
		{"device and listen", Config{Role: RoleProbe, Links: []LinkConfig{{Name: "a", Device: "/dev/ttyS0", Listen: ":80"}}}, false},
		{"client range", Config{Role: RoleProbe, Links: []LinkConfig{{Name: "a", Client: 256}}}, false},
		{"probe link on probe", Config{Role: RoleProbe, Links: []LinkConfig{{Name: "a", Probe: true}}}, false},
		{"two probe links", Config{Role: RoleUphole, Links: []LinkConfig{{Name: "a", Probe: true}, {Name: "b", Probe: true}}}, false},
		{"mqtt url", Config{Role: RoleProbe, MQTTURL: "mqtt://localhost:1883/mwd/"}, true},
		{"mqtt scheme", Config{Role: RoleProbe, MQTTURL: "http://localhost/"}, false},
		{"same images", Config{Role: RoleProbe, Storage: StorageConfig{Image1: "a", Image2: "a"}}, false},
		{"sensor pitch", Config{Role: RoleProbe, Sensor: SensorConfig{Pitch: 91}}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := Validate(&test.cfg)
			if test.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	cfg := Config{Role: RoleProbe, Links: []LinkConfig{{Name: "a", Device: "/dev/ttyS0"}}}
	require.NoError(t, Validate(&cfg))
	require.Zero(t, cfg.Links[0].Baud)
	require.Zero(t, cfg.TickMs)
}

func TestResolve(t *testing.T) {
	dir, err := ioutil.TempDir("", "mwdconfig")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(upholeYAML), 0644))

	cfg, err := (&Config{File: path, MQTTURL: "tcp://broker:1883"}).Resolve()
	require.NoError(t, err)
	require.Equal(t, RoleUphole, cfg.Role)
	require.Equal(t, "tcp://broker:1883", cfg.MQTTURL)
	require.Equal(t, path, cfg.File)

	cfg, err = (&Config{}).Resolve()
	require.NoError(t, err)
	require.Equal(t, RoleProbe, cfg.Role)
	require.Equal(t, RoleProbe, cfg.Name)

	_, err = (&Config{File: filepath.Join(dir, "missing.yaml")}).Resolve()
	require.Error(t, err)
}

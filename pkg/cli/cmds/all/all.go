// Package all registers every shell command.
package all

import (
	// Import all command packages.
	_ "github.com/robotalks/mwd.go/pkg/cli/cmds/device"
	_ "github.com/robotalks/mwd.go/pkg/cli/cmds/survey"
)

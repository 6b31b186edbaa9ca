package services

import (
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// SystemRestarter reboots the host with a configured command, or exits with
// a code the service manager treats as "restart me".
type SystemRestarter struct {
	command  []string
	exitCode int
	logger   zerolog.Logger
	exit     func(code int)
	once     sync.Once
}

// NewSystemRestarter creates a restarter. An empty command means exit only.
func NewSystemRestarter(command []string, exitCode int, logger zerolog.Logger) *SystemRestarter {
	return &SystemRestarter{
		command:  command,
		exitCode: exitCode,
		logger:   logger,
		exit:     os.Exit,
	}
}

// Restart runs at most once per process.
func (r *SystemRestarter) Restart(reason string) {
	r.once.Do(func() {
		r.logger.Warn().Str("reason", reason).Strs("command", r.command).Msg("Restarting device")
		if len(r.command) > 0 {
			cmd := exec.Command(r.command[0], r.command[1:]...)
			if out, err := cmd.CombinedOutput(); err != nil {
				r.logger.Error().Err(err).Str("output", string(out)).Msg("Restart command failed, exiting instead")
			}
		}
		r.exit(r.exitCode)
	})
}

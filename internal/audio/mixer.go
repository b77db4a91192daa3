package audio

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/homeclock/clockd/internal/logging"
)

// Params are the output settings handed to the player processes
type Params struct {
	Device     string `json:"device"` // ALSA device, empty for the default
	Rate       int    `json:"rate"`
	Channels   int    `json:"channels"`
	BufferSize int    `json:"buffer_size"` // frames
}

// CommandFunc builds the player command for a file
type CommandFunc func(path string, params Params) (name string, args []string)

// DefaultCommand picks aplay, mpg123 or ogg123 by file extension
func DefaultCommand(path string, params Params) (string, []string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		args := []string{"-q"}
		if params.Device != "" {
			args = append(args, "-o", "alsa", "-a", params.Device)
		}
		if params.Rate > 0 {
			args = append(args, "-r", strconv.Itoa(params.Rate))
		}
		if params.Channels == 2 {
			args = append(args, "--stereo")
		}
		return "mpg123", append(args, path)
	case ".ogg", ".oga":
		args := []string{"-q"}
		if params.Device != "" {
			args = append(args, "-d", "alsa", "-o", "dev:"+params.Device)
		}
		return "ogg123", append(args, path)
	default:
		args := []string{"-q"}
		if params.Device != "" {
			args = append(args, "-D", params.Device)
		}
		if params.BufferSize > 0 {
			args = append(args, "--buffer-size="+strconv.Itoa(params.BufferSize))
		}
		return "aplay", append(args, path)
	}
}

// ExecMixer plays each file in an external player process. Busy means the
// process is still running.
type ExecMixer struct {
	params  Params
	command CommandFunc
	logger  *zap.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// NewExecMixer creates a mixer. A nil command uses DefaultCommand.
func NewExecMixer(params Params, command CommandFunc, logger *zap.Logger) *ExecMixer {
	if command == nil {
		command = DefaultCommand
	}
	return &ExecMixer{
		params:  params,
		command: command,
		logger:  logging.OrNop(logger).Named("mixer"),
	}
}

// Params returns the output settings in use
func (m *ExecMixer) Params() Params {
	return m.params
}

// Play stops the current process and starts a new one for path
func (m *ExecMixer) Play(path string) error {
	m.Stop()

	name, args := m.command(path, m.params)
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	done := make(chan struct{})
	go func() {
		if err := cmd.Wait(); err != nil {
			m.logger.Debug("Player exited", zap.String("file", path), zap.Error(err))
		}
		close(done)
	}()

	m.mu.Lock()
	m.cmd = cmd
	m.done = done
	m.mu.Unlock()
	return nil
}

// Stop kills the running process and waits briefly for it to exit
func (m *ExecMixer) Stop() {
	m.mu.Lock()
	cmd, done := m.cmd, m.done
	m.cmd, m.done = nil, nil
	m.mu.Unlock()

	if cmd == nil {
		return
	}
	select {
	case <-done:
		return
	default:
	}
	if err := cmd.Process.Kill(); err != nil {
		m.logger.Debug("Failed to kill player", zap.Error(err))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		m.logger.Warn("Player did not exit after kill")
	}
}

// Busy reports whether the last started process is still running
func (m *ExecMixer) Busy() bool {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

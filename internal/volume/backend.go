package volume

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/homeclock/clockd/internal/shell"
)

// ErrUnparseable is returned when a mixer reports no volume percentage
var ErrUnparseable = errors.New("no volume percentage in mixer output")

// Level is a control's volume and mute state
type Level struct {
	Percent int
	Muted   bool
}

// Backend talks to one system mixer
type Backend interface {
	Name() string
	Controls(ctx context.Context) ([]string, error)
	Get(ctx context.Context, control string) (Level, error)
	Set(ctx context.Context, control string, percent int) error
	SetMute(ctx context.Context, control string, muted bool) error
}

var (
	percentRe = regexp.MustCompile(`\[(\d{1,3})%\]`)
	controlRe = regexp.MustCompile(`'([^']+)'`)
	pactlRe   = regexp.MustCompile(`(\d{1,3})%`)
)

// Amixer drives ALSA simple mixer controls
type Amixer struct {
	Runner shell.Runner
	Card   string // empty for the default card
}

func (a *Amixer) Name() string { return "amixer" }

func (a *Amixer) args(args ...string) []string {
	if a.Card == "" {
		return args
	}
	return append([]string{"-c", a.Card}, args...)
}

// Controls lists the simple mixer controls
func (a *Amixer) Controls(ctx context.Context) ([]string, error) {
	out, err := a.Runner.Run(ctx, "amixer", a.args("scontrols")...)
	if err != nil {
		return nil, err
	}
	var controls []string
	for _, line := range strings.Split(string(out), "\n") {
		if m := controlRe.FindStringSubmatch(line); m != nil {
			controls = append(controls, m[1])
		}
	}
	return controls, nil
}

// Get parses the first "[NN%]" and any "[off]" of amixer sget
func (a *Amixer) Get(ctx context.Context, control string) (Level, error) {
	out, err := a.Runner.Run(ctx, "amixer", a.args("sget", control)...)
	if err != nil {
		return Level{}, err
	}
	return parseAmixer(string(out))
}

func parseAmixer(out string) (Level, error) {
	m := percentRe.FindStringSubmatch(out)
	if m == nil {
		return Level{}, ErrUnparseable
	}
	pct, _ := strconv.Atoi(m[1])
	return Level{Percent: pct, Muted: strings.Contains(out, "[off]")}, nil
}

func (a *Amixer) Set(ctx context.Context, control string, percent int) error {
	_, err := a.Runner.Run(ctx, "amixer", a.args("-q", "sset", control, fmt.Sprintf("%d%%", percent))...)
	return err
}

func (a *Amixer) SetMute(ctx context.Context, control string, muted bool) error {
	state := "unmute"
	if muted {
		state = "mute"
	}
	_, err := a.Runner.Run(ctx, "amixer", a.args("-q", "sset", control, state)...)
	return err
}

// Pactl drives the PulseAudio/PipeWire default sink
type Pactl struct {
	Runner shell.Runner
}

// DefaultSink is the only control pactl exposes
const DefaultSink = "@DEFAULT_SINK@"

func (p *Pactl) Name() string { return "pactl" }

func (p *Pactl) Controls(ctx context.Context) ([]string, error) {
	if _, err := p.Runner.Run(ctx, "pactl", "get-sink-volume", DefaultSink); err != nil {
		return nil, err
	}
	return []string{DefaultSink}, nil
}

func (p *Pactl) Get(ctx context.Context, control string) (Level, error) {
	out, err := p.Runner.Run(ctx, "pactl", "get-sink-volume", control)
	if err != nil {
		return Level{}, err
	}
	m := pactlRe.FindStringSubmatch(string(out))
	if m == nil {
		return Level{}, ErrUnparseable
	}
	pct, _ := strconv.Atoi(m[1])

	muteOut, err := p.Runner.Run(ctx, "pactl", "get-sink-mute", control)
	if err != nil {
		return Level{}, err
	}
	return Level{Percent: pct, Muted: strings.Contains(string(muteOut), "yes")}, nil
}

func (p *Pactl) Set(ctx context.Context, control string, percent int) error {
	_, err := p.Runner.Run(ctx, "pactl", "set-sink-volume", control, fmt.Sprintf("%d%%", percent))
	return err
}

func (p *Pactl) SetMute(ctx context.Context, control string, muted bool) error {
	state := "0"
	if muted {
		state = "1"
	}
	_, err := p.Runner.Run(ctx, "pactl", "set-sink-mute", control, state)
	return err
}

var (
	specificControls = []string{"headphone", "speaker", "playback"}
	genericControls  = []string{"master", "pcm", "digital", "line out"}
)

// rank orders controls: device-specific first, generic next, the rest last
func rank(control string) int {
	name := strings.ToLower(control)
	for _, k := range specificControls {
		if strings.Contains(name, k) {
			return 0
		}
	}
	for _, k := range genericControls {
		if strings.Contains(name, k) {
			return 1
		}
	}
	return 2
}

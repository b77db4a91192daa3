package audio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/shell"
)

// PreferredDevices are matched, in order, against the cards aplay lists
var PreferredDevices = []string{"USB Audio", "Headphones", "hifiberry", "seeed"}

// Card is one playback device reported by aplay -l
type Card struct {
	Index  int
	ID     string
	Name   string
	Device int
}

// ALSA returns the plughw device string for the card
func (c Card) ALSA() string {
	return fmt.Sprintf("plughw:CARD=%s,DEV=%d", c.ID, c.Device)
}

// card 1: Device [USB Audio Device], device 0: USB Audio [USB Audio]
var cardLine = regexp.MustCompile(`^card (\d+): (\S+) \[([^\]]*)\], device (\d+):`)

// ParseCards extracts the playback devices from aplay -l output
func ParseCards(out []byte) []Card {
	var cards []Card
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		m := cardLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		index, _ := strconv.Atoi(m[1])
		device, _ := strconv.Atoi(m[4])
		cards = append(cards, Card{Index: index, ID: m[2], Name: m[3], Device: device})
	}
	return cards
}

// DetectParams looks for a preferred output and returns 44.1 kHz stereo
// parameters with a small buffer for it. Without a match the default device
// parameters are returned and found is false.
func DetectParams(ctx context.Context, runner shell.Runner, preferred []string, logger *zap.Logger) (params Params, found bool) {
	logger = logging.OrNop(logger)
	if len(preferred) == 0 {
		preferred = PreferredDevices
	}

	out, err := runner.Run(ctx, "aplay", "-l")
	if err != nil {
		logger.Info("Cannot list audio devices, using default output", zap.Error(err))
		return Params{}, false
	}

	cards := ParseCards(out)
	for _, want := range preferred {
		w := strings.ToLower(want)
		for _, c := range cards {
			if strings.Contains(strings.ToLower(c.Name), w) || strings.Contains(strings.ToLower(c.ID), w) {
				logger.Info("Using audio device", zap.String("device", c.ALSA()), zap.String("name", c.Name))
				return Params{Device: c.ALSA(), Rate: 44100, Channels: 2, BufferSize: 512}, true
			}
		}
	}
	logger.Info("No preferred audio device, using default output", zap.Int("cards", len(cards)))
	return Params{}, false
}

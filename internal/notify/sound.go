package notify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/store"
)

// packagedSounds maps pre-packaged sound names to beep patterns
// (frequency in Hz, duration in ms, repetitions).
var packagedSounds = map[string]struct {
	freq    float64
	millis  int
	repeats int
}{
	"chime":  {880, 200, 1},
	"ping":   {1320, 120, 2},
	"buzzer": {220, 500, 1},
	"alarm":  {660, 250, 3},
}

// Player plays packaged sounds as beeps and custom sounds by piping their
// stored blob to an external player command ("" disables custom playback).
type Player struct {
	store         store.Store
	playerCommand string
	logger        *zap.Logger
}

// NewPlayer constructs a Player.
func NewPlayer(st store.Store, playerCommand string, logger *zap.Logger) *Player {
	return &Player{store: st, playerCommand: playerCommand, logger: logger}
}

var _ SoundPlayer = (*Player)(nil)

// PlayPackaged plays a pre-packaged sound by name. Unknown names fall back to
// the default beep rather than failing the alert.
func (p *Player) PlayPackaged(_ context.Context, name string) error {
	s, ok := packagedSounds[name]
	if !ok {
		p.logger.Warn("unknown packaged sound", zap.String("name", name))
		return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
	}
	for i := 0; i < s.repeats; i++ {
		if err := beeep.Beep(s.freq, s.millis); err != nil {
			return err
		}
	}
	return nil
}

// PlayCustom looks up an uploaded sound blob and pipes it to the configured
// player command.
func (p *Player) PlayCustom(ctx context.Context, id string) error {
	if p.playerCommand == "" {
		p.logger.Warn("custom sound requested but no player_command configured", zap.String("id", id))
		return nil
	}
	sound, err := p.store.GetSound(ctx, id)
	if err != nil {
		return fmt.Errorf("load custom sound %s: %w", id, err)
	}
	parts := strings.Fields(p.playerCommand)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(sound.Data)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("play custom sound %s: %w", id, err)
	}
	return nil
}

package lobby

import (
	"fmt"
	"time"
)

// DefaultTickInterval is the game-logic step period.
const DefaultTickInterval = 250 * time.Millisecond

// Settings describe a match. They are shown in the lobby as rule strings
// and sent with the game-starting notice.
type Settings struct {
	Map          string
	GhostCount   int
	BotCount     int
	TickInterval time.Duration
}

// DefaultSettings returns the settings used when the host configures none.
func DefaultSettings() Settings {
	return Settings{
		Map:          "classic",
		GhostCount:   4,
		BotCount:     0,
		TickInterval: DefaultTickInterval,
	}
}

// Validate checks the settings invariants.
func (s Settings) Validate() error {
	if s.Map == "" {
		return fmt.Errorf("settings: map must not be empty")
	}
	if s.GhostCount < 0 {
		return fmt.Errorf("settings: ghost count must be >= 0, got %d", s.GhostCount)
	}
	if s.BotCount < 0 {
		return fmt.Errorf("settings: bot count must be >= 0, got %d", s.BotCount)
	}
	if s.TickInterval <= 0 {
		return fmt.Errorf("settings: tick interval must be > 0, got %s", s.TickInterval)
	}
	return nil
}

// Display renders the settings as human-readable rule strings.
func (s Settings) Display() []string {
	return []string{
		fmt.Sprintf("Map: %s", s.Map),
		fmt.Sprintf("Ghosts: %d", s.GhostCount),
		fmt.Sprintf("Bots: %d", s.BotCount),
		fmt.Sprintf("Game speed: %s per step", s.TickInterval),
	}
}

package rate

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Window is one limit: at most Limit attempts in any trailing Size.
type Window struct {
	Size  time.Duration
	Limit int
}

// Tier maps a violation ratio floor to a block duration.
type Tier struct {
	MinRatio float64
	Block    time.Duration
}

// Config holds per-action windows and the violation policy.
type Config struct {
	Actions map[string][]Window
	// Default applies to actions absent from Actions.
	Default []Window
	// Tiers are evaluated from the highest MinRatio down. The lowest tier
	// should have MinRatio 0.
	Tiers []Tier
	// CapToWindow limits a block to the size of the window it was earned in.
	CapToWindow bool
}

// DefaultConfig returns the login and api budgets with the 2.0/1.5 tiers.
func DefaultConfig() Config {
	api := []Window{{time.Minute, 60}, {time.Hour, 1000}, {24 * time.Hour, 10000}}
	return Config{
		Actions: map[string][]Window{
			"login": {{time.Minute, 5}, {time.Hour, 100}, {24 * time.Hour, 1000}},
			"api":   api,
		},
		Default: append([]Window(nil), api...),
		Tiers: []Tier{
			{MinRatio: 2.0, Block: time.Hour},
			{MinRatio: 1.5, Block: 30 * time.Minute},
			{MinRatio: 0, Block: 5 * time.Minute},
		},
		CapToWindow: true,
	}
}

// Validate checks windows and tiers.
func (c Config) Validate() error {
	if len(c.Default) == 0 {
		return errors.New("rate: default windows are required")
	}
	if err := validateWindows("default", c.Default); err != nil {
		return err
	}
	for action, ws := range c.Actions {
		if err := validateWindows(action, ws); err != nil {
			return err
		}
	}
	if len(c.Tiers) == 0 {
		return errors.New("rate: at least one violation tier is required")
	}
	for _, t := range c.Tiers {
		if t.MinRatio < 0 || t.Block <= 0 {
			return fmt.Errorf("rate: invalid tier %+v", t)
		}
	}
	return nil
}

func validateWindows(action string, ws []Window) error {
	if len(ws) == 0 {
		return fmt.Errorf("rate: action %q has no windows", action)
	}
	for _, w := range ws {
		if w.Size < time.Millisecond || w.Limit <= 0 {
			return fmt.Errorf("rate: action %q has invalid window %s/%d", action, w.Size, w.Limit)
		}
	}
	return nil
}

// normalize sorts windows ascending by size and tiers descending by ratio.
func (c Config) normalize() Config {
	out := Config{
		Actions:     make(map[string][]Window, len(c.Actions)),
		Default:     sortedWindows(c.Default),
		Tiers:       append([]Tier(nil), c.Tiers...),
		CapToWindow: c.CapToWindow,
	}
	for a, ws := range c.Actions {
		out.Actions[a] = sortedWindows(ws)
	}
	sort.SliceStable(out.Tiers, func(i, j int) bool { return out.Tiers[i].MinRatio > out.Tiers[j].MinRatio })
	return out
}

func sortedWindows(ws []Window) []Window {
	out := append([]Window(nil), ws...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Size < out[j].Size })
	return out
}

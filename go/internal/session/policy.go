package session

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the tunable timings of the host controllers.
type Policy struct {
	GraceDelay       time.Duration `yaml:"grace_delay"`
	SoloSkipAfter    time.Duration `yaml:"solo_skip_after"`
	SkipAfter        time.Duration `yaml:"skip_after"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	TimerFloorSec    int           `yaml:"timer_floor_sec"`
	ReductionPercent int           `yaml:"reduction_percent"`
	PenaltyDeltaSec  int           `yaml:"penalty_delta_sec"`
	SkipPlaceholder  string        `yaml:"skip_placeholder"`
}

func DefaultPolicy() Policy {
	return Policy{
		GraceDelay:       time.Second,
		SoloSkipAfter:    5 * time.Second,
		SkipAfter:        60 * time.Second,
		SweepInterval:    time.Second,
		TickInterval:     time.Second,
		TimerFloorSec:    10,
		ReductionPercent: 10,
		PenaltyDeltaSec:  2,
		SkipPlaceholder:  "(skipped)",
	}
}

// LoadPolicy reads a YAML policy file. Keys missing from the file keep
// their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	var errs []error
	if p.GraceDelay < 0 {
		errs = append(errs, errors.New("grace_delay must not be negative"))
	}
	if p.SoloSkipAfter <= 0 || p.SkipAfter <= 0 {
		errs = append(errs, errors.New("skip thresholds must be positive"))
	}
	if p.SweepInterval <= 0 || p.TickInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval and tick_interval must be positive"))
	}
	if p.TimerFloorSec < 0 {
		errs = append(errs, errors.New("timer_floor_sec must not be negative"))
	}
	if p.ReductionPercent < 0 || p.ReductionPercent >= 100 {
		errs = append(errs, errors.New("reduction_percent must be in [0, 100)"))
	}
	if p.PenaltyDeltaSec < 0 {
		errs = append(errs, errors.New("penalty_delta_sec must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid policy: %w", errors.Join(errs...))
	}
	return nil
}

// ReduceTimer returns the countdown after one submission. Timers at or
// below the floor are not reduced, and no reduction goes below it.
func (p Policy) ReduceTimer(sec int) int {
	if sec <= p.TimerFloorSec {
		return sec
	}
	return max(p.TimerFloorSec, sec*(100-p.ReductionPercent)/100)
}

// IsPenalty reports whether a timer update from prev to next is a drop
// large enough to flag.
func (p Policy) IsPenalty(prev, next int) bool {
	return next < prev-p.PenaltyDeltaSec
}

// SkipThreshold is how long a pending player may stay offline before their
// page is skipped. A lone straggler is skipped much sooner.
func (p Policy) SkipThreshold(pending int) time.Duration {
	if pending == 1 {
		return p.SoloSkipAfter
	}
	return p.SkipAfter
}

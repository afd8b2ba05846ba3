package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cockroachdb/errors"

	"chassis-can/registry"
)

const (
	ModeOpenLoop    = "open_loop"
	ModeVelocityPID = "velocity_pid"
)

// Scenario is a timed sequence of commands replayed onto the Tx codecs.
type Scenario struct {
	Meta      ScenarioMeta      `json:"meta"`
	Timing    ScenarioTiming    `json:"timing"`
	Defaults  []Command         `json:"defaults"`
	Segments  []ScenarioSegment `json:"segments"`
	PIDConfig *PIDConfig        `json:"pid_config,omitempty"`
}

type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
	// ControlMode is "open_loop" or "velocity_pid".
	ControlMode string `json:"control_mode,omitempty"`
}

type ScenarioTiming struct {
	DtS       float64 `json:"dt_s"`
	DurationS float64 `json:"duration_s"`
}

// ScenarioSegment is active for T0 <= t < T1. A negative T1 runs to the end.
type ScenarioSegment struct {
	T0       float64   `json:"t0"`
	T1       float64   `json:"t1"`
	Commands []Command `json:"commands"`
	Comment  string    `json:"comment,omitempty"`
}

// Command stages signal values on one message.
type Command struct {
	Message string             `json:"message"`
	Values  map[string]float64 `json:"values,omitempty"`
	Enums   map[string]string  `json:"enums,omitempty"`
	// Trigger sends an event-only message once when the command is applied.
	Trigger bool `json:"trigger,omitempty"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read scenario")
	}

	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return nil, errors.Wrapf(err, "unmarshal scenario %s", path)
	}

	if scen.Meta.ControlMode == "" {
		scen.Meta.ControlMode = ModeOpenLoop
	}
	if err := scen.Validate(); err != nil {
		return nil, errors.Wrapf(err, "scenario %s", path)
	}
	return &scen, nil
}

func (s *Scenario) Validate() error {
	if s.Timing.DurationS <= 0 {
		return errors.Newf("invalid duration_s: %f", s.Timing.DurationS)
	}
	if s.Timing.DtS < 0 || (s.Timing.DtS > 0 && s.Step() < time.Millisecond) {
		return errors.Newf("invalid dt_s: %g, the control step is at least 1ms", s.Timing.DtS)
	}

	switch s.Meta.ControlMode {
	case ModeOpenLoop:
	case ModeVelocityPID:
		if s.PIDConfig == nil {
			return errors.New("velocity_pid mode requires pid_config")
		}
		if err := s.PIDConfig.Validate(); err != nil {
			return err
		}
	default:
		return errors.Newf("unknown control_mode %q", s.Meta.ControlMode)
	}

	for i, seg := range s.Segments {
		if seg.T1 >= 0 && seg.T1 <= seg.T0 {
			return errors.Newf("segment %d: t1 %.3f before t0 %.3f", i, seg.T1, seg.T0)
		}
		for _, c := range seg.Commands {
			if c.Message == "" {
				return errors.Newf("segment %d: command without message", i)
			}
		}
	}
	return nil
}

// Step is the scenario resolution, 20 ms unless dt_s is set.
func (s *Scenario) Step() time.Duration {
	if s.Timing.DtS <= 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(s.Timing.DtS * float64(time.Second))
}

func (s *Scenario) Duration() time.Duration {
	return time.Duration(s.Timing.DurationS * float64(time.Second))
}

// Active returns the index of the first segment covering t, -1 if none does.
func (s *Scenario) Active(t float64) int {
	for i, seg := range s.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = s.Timing.DurationS
		}
		if t >= seg.T0 && t < t1 {
			return i
		}
	}
	return -1
}

// Eval returns the commands in force at t: the defaults, then the active segment.
func (s *Scenario) Eval(t float64) []Command {
	out := append([]Command(nil), s.Defaults...)
	if i := s.Active(t); i >= 0 {
		out = append(out, s.Segments[i].Commands...)
	}
	return out
}

// Apply stages every command on its codec. A message that does not exist or
// a signal it cannot write fails the whole scenario.
func Apply(reg *registry.Registry, tx *registry.Sender, cmds []Command, trigger bool) error {
	for _, c := range cmds {
		m, ok := reg.LookupName(c.Message)
		if !ok {
			return errors.Wrapf(registry.ErrUnknownMessage, "%s", c.Message)
		}
		if len(c.Values) > 0 {
			if err := m.SetCommands(c.Values); err != nil {
				return err
			}
		}
		for name, label := range c.Enums {
			if err := m.SetEnum(name, label); err != nil {
				return err
			}
		}
		if c.Trigger && trigger && tx != nil {
			if err := tx.Trigger(m.ID()); err != nil {
				return err
			}
		}
	}
	return nil
}

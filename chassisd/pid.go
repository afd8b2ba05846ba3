package main

import (
	"github.com/cockroachdb/errors"
)

// PIDConfig holds the speed controller gains and where its output goes.
type PIDConfig struct {
	TargetSpeedMPS float64 `json:"target_speed_mps"`
	Kp             float64 `json:"kp"`
	Ki             float64 `json:"ki"`
	Kd             float64 `json:"kd"`
	MaxOutput      float64 `json:"max_output"`
	MinOutput      float64 `json:"min_output"`
	IntegralLimit  float64 `json:"integral_limit"`

	// SpeedSignal is read from the chassis detail, vehicle_speed by default.
	SpeedSignal string `json:"speed_signal,omitempty"`
	// Message and Signal receive positive outputs, throttle_command.throttle_pedal_target by default.
	Message string `json:"message,omitempty"`
	Signal  string `json:"signal,omitempty"`
	// BrakeMessage and BrakeSignal, when set, receive the magnitude of negative outputs.
	BrakeMessage string `json:"brake_message,omitempty"`
	BrakeSignal  string `json:"brake_signal,omitempty"`
}

func (c *PIDConfig) Validate() error {
	if c.TargetSpeedMPS <= 0 {
		return errors.Newf("invalid target_speed_mps: %f", c.TargetSpeedMPS)
	}
	if c.MaxOutput <= c.MinOutput {
		return errors.Newf("invalid output range [%f, %f]", c.MinOutput, c.MaxOutput)
	}
	if c.IntegralLimit < 0 {
		return errors.Newf("invalid integral_limit: %f", c.IntegralLimit)
	}
	if (c.BrakeMessage == "") != (c.BrakeSignal == "") {
		return errors.New("brake_message and brake_signal go together")
	}
	return nil
}

func (c *PIDConfig) setDefaults() {
	if c.SpeedSignal == "" {
		c.SpeedSignal = "vehicle_speed"
	}
	if c.Message == "" {
		c.Message = "throttle_command"
	}
	if c.Signal == "" {
		c.Signal = "throttle_pedal_target"
	}
}

// PIDController is a discrete PID on vehicle speed.
type PIDController struct {
	cfg PIDConfig

	integral    float64
	prevError   float64
	initialized bool
}

func NewPIDController(cfg PIDConfig) *PIDController {
	cfg.setDefaults()
	return &PIDController{cfg: cfg}
}

func (pid *PIDController) Config() PIDConfig { return pid.cfg }

func (pid *PIDController) Reset() {
	pid.integral = 0
	pid.prevError = 0
	pid.initialized = false
}

// Update returns the controller output for the measured speed.
func (pid *PIDController) Update(speed, dt float64) float64 {
	err := pid.cfg.TargetSpeedMPS - speed

	if !pid.initialized {
		// no derivative kick on the first sample
		pid.prevError = err
		pid.initialized = true
	}

	p := pid.cfg.Kp * err

	pid.integral += err * dt
	pid.integral = min(max(pid.integral, -pid.cfg.IntegralLimit), pid.cfg.IntegralLimit)
	i := pid.cfg.Ki * pid.integral

	var d float64
	if dt > 0 {
		d = pid.cfg.Kd * (err - pid.prevError) / dt
	}

	out := p + i + d
	if out > pid.cfg.MaxOutput || out < pid.cfg.MinOutput {
		out = min(max(out, pid.cfg.MinOutput), pid.cfg.MaxOutput)
		// back-calculate the integral
		if pid.cfg.Ki != 0 {
			pid.integral = (out - p - d) / pid.cfg.Ki
		}
	}

	pid.prevError = err
	return out
}

type PIDDiagnostics struct {
	Error    float64
	Integral float64
	P        float64
	I        float64
}

func (pid *PIDController) Diagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Error:    pid.prevError,
		Integral: pid.integral,
		P:        pid.cfg.Kp * pid.prevError,
		I:        pid.cfg.Ki * pid.integral,
	}
}

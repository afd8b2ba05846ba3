// Package devkit is the CAN protocol of a drive-by-wire development chassis:
// throttle, brake, steering, gear, park and body commands sent by the
// controller, and the reports the chassis sends back.
//
// Motorola signals are declared with their DBC start bit, converted by
// codec.MotorolaStart. The safe defaults come from the chassis protocol sheet:
// every enable flag off, every target at its neutral value, gear INVALID. With
// the enable flags off the chassis ignores the targets and stays in manual mode.
package devkit

import (
	"chassis-can/codec"
)

const (
	ThrottleCommandID codec.MessageID = 0x100
	BrakeCommandID    codec.MessageID = 0x101
	SteeringCommandID codec.MessageID = 0x102
	GearCommandID     codec.MessageID = 0x103
	ParkCommandID     codec.MessageID = 0x104
	BodyCommandID     codec.MessageID = 0x105

	ThrottleReportID   codec.MessageID = 0x500
	BrakeReportID      codec.MessageID = 0x501
	SteeringReportID   codec.MessageID = 0x502
	GearReportID       codec.MessageID = 0x503
	ParkReportID       codec.MessageID = 0x504
	VCUReportID        codec.MessageID = 0x505
	WheelSpeedReportID codec.MessageID = 0x506
	BMSReportID        codec.MessageID = 0x512
)

// Enum tables shared by the descriptors below. They never leave the package,
// Messages hands out deep copies.
var (
	enableState = map[int64]string{0: "MANUAL", 1: "AUTO", 2: "TAKEOVER", 3: "STANDBY"}
	gearState   = map[int64]string{0: "INVALID", 1: "PARK", 2: "REVERSE", 3: "NEUTRAL", 4: "DRIVE"}
	vehicleMode = map[int64]string{0: "MANUAL_REMOTE", 1: "AUTO", 2: "EMERGENCY", 3: "STANDBY"}
	turnLight   = map[int64]string{0: "OFF", 1: "LEFT", 2: "RIGHT", 3: "HAZARD"}
	beam        = map[int64]string{0: "OFF", 1: "LOW", 2: "HIGH"}
)

func enable(name string) codec.SignalDescriptor {
	return codec.SignalDescriptor{Name: name, Start: 0, Length: 1, Scale: 1, Max: 1, Kind: codec.KindFlag}
}

func checksum(id codec.MessageID) codec.SignalDescriptor {
	return codec.SignalDescriptor{
		Name: "checksum_" + id.String()[2:], Start: 56, Length: 8, Scale: 1, Max: 255, Role: codec.RoleChecksum,
	}
}

var throttleCommand = codec.MessageDescriptor{
	ID: ThrottleCommandID, Name: "throttle_command", Length: 8, Direction: codec.Tx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		enable("throttle_en_ctrl"),
		{Name: "throttle_acc", Start: codec.MotorolaStart(15), Length: 10, Order: codec.BigEndian,
			Scale: 0.01, Min: 0, Max: 10, Unit: "m/s^2"},
		{Name: "throttle_pedal_target", Start: codec.MotorolaStart(31), Length: 16, Order: codec.BigEndian,
			Scale: 0.1, Min: 0, Max: 100, Unit: "%"},
		{Name: "vehicle_speed_target", Start: codec.MotorolaStart(47), Length: 10, Order: codec.BigEndian,
			Scale: 0.01, Min: 0, Max: 10.23, Unit: "m/s"},
		checksum(ThrottleCommandID),
	},
}

var brakeCommand = codec.MessageDescriptor{
	ID: BrakeCommandID, Name: "brake_command", Length: 8, Direction: codec.Tx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		enable("brake_en_ctrl"),
		{Name: "aeb_en_ctrl", Start: 1, Length: 1, Scale: 1, Max: 1, Kind: codec.KindFlag},
		{Name: "brake_dec", Start: codec.MotorolaStart(15), Length: 10, Order: codec.BigEndian,
			Scale: 0.01, Min: 0, Max: 10, Unit: "m/s^2"},
		{Name: "brake_pedal_target", Start: codec.MotorolaStart(31), Length: 16, Order: codec.BigEndian,
			Scale: 0.1, Min: 0, Max: 100, Unit: "%"},
		checksum(BrakeCommandID),
	},
}

var steeringCommand = codec.MessageDescriptor{
	ID: SteeringCommandID, Name: "steering_command", Length: 8, Direction: codec.Tx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		enable("steer_en_ctrl"),
		{Name: "steer_angle_spd", Start: codec.MotorolaStart(15), Length: 8, Order: codec.BigEndian,
			Scale: 1, Min: 0, Max: 250, Unit: "deg/s"},
		{Name: "steer_angle_target", Start: codec.MotorolaStart(31), Length: 16, Order: codec.BigEndian,
			Scale: 1, Offset: -500, Min: -500, Max: 500, Unit: "deg"},
		{Name: "steer_alive_cnt", Start: 48, Length: 4, Scale: 1, Max: 15, Role: codec.RoleCounter},
		checksum(SteeringCommandID),
	},
}

var gearCommand = codec.MessageDescriptor{
	ID: GearCommandID, Name: "gear_command", Length: 8, Direction: codec.Tx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		enable("gear_en_ctrl"),
		{Name: "gear_target", Start: codec.MotorolaStart(10), Length: 3, Order: codec.BigEndian,
			Scale: 1, Max: 4, Kind: codec.KindEnum, Enum: gearState},
		checksum(GearCommandID),
	},
}

var parkCommand = codec.MessageDescriptor{
	ID: ParkCommandID, Name: "park_command", Length: 8, Direction: codec.Tx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		enable("park_en_ctrl"),
		{Name: "park_target", Start: 8, Length: 1, Scale: 1, Max: 1, Kind: codec.KindFlag},
		checksum(ParkCommandID),
	},
}

// bodyCommand is event-only, it goes out when the application triggers it.
var bodyCommand = codec.MessageDescriptor{
	ID: BodyCommandID, Name: "body_command", Length: 8, Direction: codec.Tx, CycleMS: 0,
	Signals: []codec.SignalDescriptor{
		{Name: "turn_light_ctrl", Start: 8, Length: 2, Scale: 1, Max: 3, Kind: codec.KindEnum, Enum: turnLight},
		{Name: "horn_ctrl", Start: 16, Length: 1, Scale: 1, Max: 1, Kind: codec.KindFlag},
		{Name: "beam_ctrl", Start: 24, Length: 2, Scale: 1, Max: 2, Kind: codec.KindEnum, Enum: beam},
		checksum(BodyCommandID),
	},
}

func enableReport(name string) codec.SignalDescriptor {
	return codec.SignalDescriptor{Name: name, Start: 0, Length: 2, Scale: 1, Max: 3, Kind: codec.KindEnum, Enum: enableState}
}

func faultReport(name string) codec.SignalDescriptor {
	return codec.SignalDescriptor{Name: name, Start: 8, Length: 1, Scale: 1, Max: 1, Kind: codec.KindFlag}
}

var throttleReport = codec.MessageDescriptor{
	ID: ThrottleReportID, Name: "throttle_report", Length: 8, Direction: codec.Rx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		enableReport("throttle_en_state"),
		faultReport("throttle_flt1"),
		{Name: "throttle_pedal_actual", Start: codec.MotorolaStart(31), Length: 16, Order: codec.BigEndian,
			Scale: 0.1, Min: 0, Max: 100, Unit: "%"},
	},
}

var brakeReport = codec.MessageDescriptor{
	ID: BrakeReportID, Name: "brake_report", Length: 8, Direction: codec.Rx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		enableReport("brake_en_state"),
		faultReport("brake_flt1"),
		{Name: "brake_pedal_actual", Start: codec.MotorolaStart(31), Length: 16, Order: codec.BigEndian,
			Scale: 0.1, Min: 0, Max: 100, Unit: "%"},
	},
}

var steeringReport = codec.MessageDescriptor{
	ID: SteeringReportID, Name: "steering_report", Length: 8, Direction: codec.Rx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		enableReport("steer_en_state"),
		faultReport("steer_flt1"),
		{Name: "steer_angle_actual", Start: codec.MotorolaStart(31), Length: 16, Order: codec.BigEndian,
			Scale: 1, Offset: -500, Min: -500, Max: 500, Unit: "deg"},
		{Name: "steer_angle_spd_actual", Start: codec.MotorolaStart(55), Length: 8, Order: codec.BigEndian,
			Scale: 1, Min: 0, Max: 250, Unit: "deg/s"},
	},
}

var gearReport = codec.MessageDescriptor{
	ID: GearReportID, Name: "gear_report", Length: 1, Direction: codec.Rx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		{Name: "gear_actual", Start: 0, Length: 3, Scale: 1, Max: 4, Kind: codec.KindEnum, Enum: gearState},
		{Name: "gear_flt", Start: 3, Length: 1, Scale: 1, Max: 1, Kind: codec.KindFlag},
	},
}

var parkReport = codec.MessageDescriptor{
	ID: ParkReportID, Name: "park_report", Length: 1, Direction: codec.Rx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		{Name: "parking_actual", Start: 0, Length: 1, Scale: 1, Max: 1, Kind: codec.KindFlag},
		{Name: "park_flt", Start: 1, Length: 1, Scale: 1, Max: 1, Kind: codec.KindFlag},
	},
}

var vcuReport = codec.MessageDescriptor{
	ID: VCUReportID, Name: "vcu_report", Length: 8, Direction: codec.Rx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		{Name: "vehicle_speed", Start: codec.MotorolaStart(15), Length: 16, Order: codec.BigEndian, Signed: true,
			Scale: 0.001, Min: -32.768, Max: 32.767, Unit: "m/s"},
		{Name: "acc", Start: codec.MotorolaStart(31), Length: 12, Order: codec.BigEndian, Signed: true,
			Scale: 0.01, Min: -10, Max: 10, Unit: "m/s^2"},
		{Name: "vehicle_mode_state", Start: 40, Length: 3, Scale: 1, Max: 3, Kind: codec.KindEnum, Enum: vehicleMode},
		{Name: "aeb_state", Start: 43, Length: 1, Scale: 1, Max: 1, Kind: codec.KindFlag},
		{Name: "frontcrash_state", Start: 44, Length: 1, Scale: 1, Max: 1, Kind: codec.KindFlag},
		{Name: "backcrash_state", Start: 45, Length: 1, Scale: 1, Max: 1, Kind: codec.KindFlag},
		{Name: "chassis_errcode", Start: 56, Length: 8, Scale: 1, Max: 255},
		{Name: "chassis_errcode_steer", Start: 56, Length: 4, Scale: 1, Max: 15, PackedIn: "chassis_errcode"},
		{Name: "chassis_errcode_drive", Start: 60, Length: 4, Scale: 1, Max: 15, PackedIn: "chassis_errcode"},
	},
}

var wheelSpeedReport = codec.MessageDescriptor{
	ID: WheelSpeedReportID, Name: "wheelspeed_report", Length: 8, Direction: codec.Rx, CycleMS: 20,
	Signals: []codec.SignalDescriptor{
		{Name: "wheel_spd_fl", Start: 0, Length: 16, Scale: 0.001, Min: 0, Max: 65.535, Unit: "m/s"},
		{Name: "wheel_spd_fr", Start: 16, Length: 16, Scale: 0.001, Min: 0, Max: 65.535, Unit: "m/s"},
		{Name: "wheel_spd_rl", Start: 32, Length: 16, Scale: 0.001, Min: 0, Max: 65.535, Unit: "m/s"},
		{Name: "wheel_spd_rr", Start: 48, Length: 16, Scale: 0.001, Min: 0, Max: 65.535, Unit: "m/s"},
	},
}

var bmsReport = codec.MessageDescriptor{
	ID: BMSReportID, Name: "bms_report", Length: 8, Direction: codec.Rx, CycleMS: 100,
	Signals: []codec.SignalDescriptor{
		{Name: "battery_voltage", Start: codec.MotorolaStart(7), Length: 16, Order: codec.BigEndian,
			Scale: 0.01, Min: 0, Max: 300, Unit: "V"},
		{Name: "battery_current", Start: codec.MotorolaStart(23), Length: 16, Order: codec.BigEndian, Signed: true,
			Scale: 0.1, Min: -3200, Max: 3200, Unit: "A"},
		{Name: "battery_soc", Start: 32, Length: 8, Scale: 1, Min: 0, Max: 100, Unit: "%"},
	},
}

// Messages returns a fresh copy of every message definition of the protocol.
func Messages() []codec.MessageDescriptor {
	all := []*codec.MessageDescriptor{
		&throttleCommand, &brakeCommand, &steeringCommand, &gearCommand, &parkCommand, &bodyCommand,
		&throttleReport, &brakeReport, &steeringReport, &gearReport, &parkReport,
		&vcuReport, &wheelSpeedReport, &bmsReport,
	}
	out := make([]codec.MessageDescriptor, len(all))
	for i, d := range all {
		out[i] = d.Clone()
	}
	return out
}

// NewCodecs builds one codec per message, each reset to its safe state.
func NewCodecs(opts ...codec.Option) []*codec.Message {
	descs := Messages()
	out := make([]*codec.Message, len(descs))
	for i, d := range descs {
		out[i] = codec.NewMessage(d, opts...)
	}
	return out
}

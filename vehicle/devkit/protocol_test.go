package devkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chassis-can/codec"
)

func Test_Messages_Valid(t *testing.T) {
	assert := assert.New(t)

	seen := make(map[codec.MessageID]string)
	for _, d := range Messages() {
		assert.NoError(d.Validate(), d.Name)

		prev, dup := seen[d.ID]
		assert.False(dup, "%s reuses %s of %s", d.Name, d.ID, prev)
		seen[d.ID] = d.Name
	}
	assert.Len(seen, 14)
}

func Test_Messages_Copies(t *testing.T) {
	a := Messages()
	a[0].Name = "changed"

	b := Messages()
	assert.Equal(t, "throttle_command", b[0].Name)
	assert.Len(t, NewCodecs(), len(b))
}

func Test_Messages_EnumTablesNotShared(t *testing.T) {
	assert := assert.New(t)

	a := Messages()
	gear := a[3]
	require.Equal(t, "gear_command", gear.Name)
	s, ok := gear.Signal("gear_target")
	require.True(t, ok)
	s.Enum[4] = "SPORT"
	delete(s.Enum, 1)

	b := Messages()
	target, _ := b[3].Signal("gear_target")
	assert.Equal("DRIVE", target.Enum[4])
	assert.Equal("PARK", target.Enum[1])

	report, _ := b[9].Signal("gear_actual")
	assert.Equal("DRIVE", report.Enum[4])

	// a codec keeps its own tables once built
	m := codec.NewMessage(b[3])
	target.Enum[4] = "SPORT"
	require.NoError(t, m.SetEnum("gear_target", "DRIVE"))
	assert.ErrorIs(m.SetEnum("gear_target", "SPORT"), codec.ErrUnknownEnum)
}

func Test_Commands_SafeDefaults(t *testing.T) {
	assert := assert.New(t)

	for _, m := range NewCodecs() {
		if m.Direction() != codec.Tx {
			continue
		}
		frame := m.Frame()
		values, ok := m.Decode(frame.Data[:frame.Length])
		require.True(t, ok, m.Name())

		for _, v := range values {
			switch v.Kind {
			case codec.KindFlag:
				assert.False(v.Flag, "%s.%s", m.Name(), v.Name)
			case codec.KindEnum:
				assert.Contains([]string{"OFF", "INVALID"}, v.Enum, "%s.%s", m.Name(), v.Name)
			}
		}
	}
}

func Test_SteeringCommand_Frame(t *testing.T) {
	assert := assert.New(t)

	m := codec.NewMessage(steeringCommand)

	// 0 deg is raw 500 with the -500 offset
	assert.Equal([]byte{0x00, 0x00, 0x00, 0x01, 0xF4, 0x00, 0x00, 0xF5}, m.State())

	require.NoError(t, m.SetFlag("steer_en_ctrl", true))
	require.NoError(t, m.SetCommands(map[string]float64{
		"steer_angle_target": 90,
		"steer_angle_spd":    100,
	}))

	f := m.Frame()
	assert.Equal(uint32(0x102), f.ID)
	assert.Equal([]byte{0x01, 0x64, 0x00, 0x02, 0x4E, 0x00, 0x00, 0x29}, f.Data[:f.Length])

	// the alive counter moves and the checksum follows
	f = m.Frame()
	assert.Equal(byte(0x01), f.Data[6])
	assert.Equal(byte(0x29^0x01), f.Data[7])

	assert.ErrorIs(m.Set("steer_alive_cnt", 3), codec.ErrReadOnlySignal)
	assert.ErrorIs(m.Set("checksum_102", 3), codec.ErrReadOnlySignal)
}

func Test_SteeringCommand_Saturates(t *testing.T) {
	assert := assert.New(t)

	m := codec.NewMessage(steeringCommand)
	require.NoError(t, m.Set("steer_angle_target", 720))

	f := m.Frame()
	values, ok := m.Decode(f.Data[:])
	require.True(t, ok)
	assert.Equal("steer_angle_target", values[2].Name)
	assert.InDelta(500.0, values[2].Value, 1e-9)
}

func Test_GearCommand_Drive(t *testing.T) {
	assert := assert.New(t)

	m := codec.NewMessage(gearCommand)
	require.NoError(t, m.SetFlag("gear_en_ctrl", true))
	require.NoError(t, m.SetEnum("gear_target", "DRIVE"))
	assert.ErrorIs(m.SetEnum("gear_target", "SPORT"), codec.ErrUnknownEnum)

	f := m.Frame()
	assert.Equal([]byte{0x01, 0x04, 0, 0, 0, 0, 0, 0x05}, f.Data[:f.Length])
}

func Test_VCUReport_Decode(t *testing.T) {
	assert := assert.New(t)

	m := codec.NewMessage(vcuReport)
	frame := []byte{0x00, 0xFA, 0x24, 0x00, 0x00, 0x09, 0x00, 0x3A}

	values, ok := m.Decode(frame)
	require.True(t, ok)

	got := make(map[string]codec.SignalValue, len(values))
	for _, v := range values {
		got[v.Name] = v
	}

	assert.InDelta(-1.5, got["vehicle_speed"].Value, 1e-9)
	assert.Equal("AUTO", got["vehicle_mode_state"].Enum)
	assert.True(got["aeb_state"].Flag)
	assert.False(got["frontcrash_state"].Flag)
	assert.Equal(int64(0x3A), got["chassis_errcode"].Raw)
	assert.Equal(int64(0xA), got["chassis_errcode_steer"].Raw)
	assert.Equal(int64(0x3), got["chassis_errcode_drive"].Raw)

	_, ok = m.Decode(frame[:7])
	assert.False(ok)
}

func Test_BodyCommand_EventOnly(t *testing.T) {
	m := codec.NewMessage(bodyCommand)
	assert.Equal(t, codec.Tx, m.Direction())
	assert.Zero(t, m.Period())
}

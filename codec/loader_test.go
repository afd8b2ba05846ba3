package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSignalMap = `direction,frame_id,frame_name,cycle_ms,dlc,signal_name,start_bit,bit_length,endianness,signed,factor,offset,min,max,default,unit,comment,kind,role,enum
tx,0x101,brake_command,20,8,brake_en_ctrl,0,1,little,false,1,0,0,1,0,,enable,flag,,
tx,0x101,brake_command,20,8,brake_pedal_target,31,16,big,false,0.1,0,0,100,0,%,pedal,,,
tx,0x101,brake_command,20,8,checksum_101,56,8,little,false,1,0,0,255,0,,xor,,checksum,
# reports
rx,0x503,gear_report,20,1,gear_actual,0,3,little,false,1,0,0,4,0,,gear,enum,,0:INVALID;1:PARK;2:REVERSE;3:NEUTRAL;4:DRIVE
`

func Test_LoadSignalMap(t *testing.T) {
	assert := assert.New(t)

	descs, err := LoadSignalMap(strings.NewReader(testSignalMap))
	require.NoError(t, err)
	require.Len(t, descs, 2)

	brake := descs[0]
	assert.Equal(MessageID(0x101), brake.ID)
	assert.Equal(Tx, brake.Direction)
	assert.Equal(20, brake.CycleMS)
	require.Len(t, brake.Signals, 3)

	pedal, ok := brake.Signal("brake_pedal_target")
	require.True(t, ok)
	assert.Equal(BigEndian, pedal.Order)
	assert.Equal(MotorolaStart(31), pedal.Start)
	assert.Equal(24, pedal.Start)
	assert.Equal("%", pedal.Unit)

	sum, _ := brake.Signal("checksum_101")
	assert.Equal(RoleChecksum, sum.Role)

	gear := descs[1]
	assert.Equal(Rx, gear.Direction)
	assert.Equal("PARK", gear.Signals[0].Enum[1])
	assert.Equal(KindEnum, gear.Signals[0].Kind)

	m := NewMessage(brake)
	require.NoError(t, m.Set("brake_pedal_target", 25.6))
	frame := make([]byte, 8)
	m.UpdateData(frame)
	assert.Equal([]byte{0x01, 0x00}, frame[3:5])
}

func Test_LoadSignalMap_Errors(t *testing.T) {
	header := "direction,frame_id,frame_name,cycle_ms,dlc,signal_name,start_bit,bit_length,endianness,signed,factor,offset,min,max,default,unit,comment\n"

	cases := map[string]string{
		"missing column": "direction,frame_id\ntx,1\n",
		"bad id":         header + "tx,zz,a,10,8,s,0,8,little,false,1,0,0,1,0,,\n",
		"bad number":     header + "tx,1,a,10,8,s,x,8,little,false,1,0,0,1,0,,\n",
		"bad order":      header + "tx,1,a,10,8,s,0,8,middle,false,1,0,0,1,0,,\n",
		"overflow":       header + "tx,1,a,10,2,s,8,16,little,false,1,0,0,1,0,,\n",
		"redefined":      header + "tx,1,a,10,8,s,0,8,little,false,1,0,0,1,0,,\ntx,1,a,20,8,t,8,8,little,false,1,0,0,1,0,,\n",
		"overlap":        header + "tx,1,a,10,8,s,0,8,little,false,1,0,0,1,0,,\ntx,1,a,10,8,t,4,8,little,false,1,0,0,1,0,,\n",
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSignalMap(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func Test_LoadSignalMapFile(t *testing.T) {
	assert := assert.New(t)

	descs, err := LoadSignalMapFile("../config/can/can_map.csv")
	require.NoError(t, err)
	require.Len(t, descs, 4)

	steer := NewMessage(descs[0])
	assert.Equal("steering_command", steer.Name())
	assert.Equal([]byte{0x00, 0x00, 0x00, 0x01, 0xF4, 0x00, 0x00, 0xF5}, steer.State())

	vcu := NewMessage(descs[3])
	values, ok := vcu.Decode([]byte{0x00, 0xFA, 0x24, 0x00, 0x00, 0x01, 0x00, 0x3A})
	require.True(t, ok)
	assert.InDelta(-1.5, values[0].Value, 1e-9)
	assert.Equal("AUTO", values[1].Enum)
	assert.Equal(int64(0xA), values[3].Raw)

	_, err = LoadSignalMapFile("../config/can/missing.csv")
	assert.Error(err)
}

package bike

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckCmd(t *testing.T) {
	assert.Equal(t, []byte{0xF0, 0xA0, 0x01, 0x01, 0x92}, AckCmd())
}

func TestSetWorkoutParamsLayout(t *testing.T) {
	got := SetWorkoutParamsCmd(30, 12.5, 300, 120, 150.5, 1)
	want := Build(CmdSetWorkoutParams,
		0x1F,       // 30
		0x02, 0x1A, // 125
		0x04, 0x01, // 300
		0x02, 0x15, // 120
		0x10, 0x06, // 1505
		0x02, // unit 1
	)
	assert.Equal(t, want, got)
}

func TestBuildersRoundTrip(t *testing.T) {
	intp := func(v int) *int { return &v }
	ctl := func(s WorkoutControlState) *WorkoutControlState { return &s }

	tests := []struct {
		name  string
		frame []byte
		want  Command
	}{
		{"ack", AckCmd(), Command{Cmd: CmdAck}},
		{"查询最大等级", GetMaxLevelCmd(), Command{Cmd: CmdGetMaxLevel}},
		{"查询训练状态", GetWorkoutStateCmd(), Command{Cmd: CmdGetWorkoutState}},
		{"训练模式", SetWorkoutModeCmd(4), Command{Cmd: CmdSetWorkoutMode, Mode: intp(4)}},
		{"训练参数", SetWorkoutParamsCmd(45, 20.3, 850, 0, 99.9, 2), Command{
			Cmd: CmdSetWorkoutParams,
			Settings: &Settings{
				TimeInMinutes: 45, DistanceKm: 20.3, Calories: 850, Pulse: 0, Watt: 99.9, Unit: 2,
			},
		}},
		{"暂停", SetWorkoutControlStateCmd(ControlPause), Command{Cmd: CmdSetWorkoutControl, Control: ctl(ControlPause)}},
		{"恢复", SetWorkoutControlStateCmd(ControlResume), Command{Cmd: CmdSetWorkoutControl, Control: ctl(ControlResume)}},
		{"阻力", SetResistanceLevelCmd(18), Command{Cmd: CmdSetResistanceLevel, Level: intp(18)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCommand(tt.frame)
			require.NoError(t, err)
			if tt.want.Settings != nil {
				require.NotNil(t, got.Settings)
				assert.InDelta(t, tt.want.Settings.DistanceKm, got.Settings.DistanceKm, 1e-9)
				assert.InDelta(t, tt.want.Settings.Watt, got.Settings.Watt, 1e-9)
				got.Settings.DistanceKm, got.Settings.Watt = tt.want.Settings.DistanceKm, tt.want.Settings.Watt
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeCommandRejectsInbound(t *testing.T) {
	_, err := DecodeCommand(Build(RespAck))
	assert.ErrorIs(t, err, ErrNotCommand)
}

func TestResponseKind(t *testing.T) {
	k, ok := ResponseKind(CmdGetWorkoutState)
	assert.True(t, ok)
	assert.Equal(t, RespWorkoutState, k)

	k, ok = ResponseKind(CmdSetResistanceLevel)
	assert.True(t, ok)
	assert.Equal(t, RespResistanceLevel, k)

	_, ok = ResponseKind(0xB0)
	assert.False(t, ok)
}

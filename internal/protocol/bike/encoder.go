package bike

// WorkoutControlState 训练控制状态
type WorkoutControlState int

const (
	ControlResume WorkoutControlState = 1
	ControlPause  WorkoutControlState = 2
)

func (s WorkoutControlState) String() string {
	switch s {
	case ControlResume:
		return "resume"
	case ControlPause:
		return "pause"
	default:
		return "unknown"
	}
}

// Build 构造下行帧（默认 clientID/meterID），params 需已按设备编码
func Build(cmd byte, params ...byte) []byte {
	return BuildWithIDs(cmd, DefaultClientID, DefaultMeterID, params...)
}

// BuildWithIDs 构造指定 clientID/meterID 的帧
func BuildWithIDs(cmd, clientID, meterID byte, params ...byte) []byte {
	buf := make([]byte, 0, headerLen+len(params))
	buf = append(buf, Magic, cmd, clientID, meterID)
	buf = append(buf, params...)
	return withChecksum(buf)
}

// AckCmd 握手/应答，连接后先发一次会让屏幕黑屏
func AckCmd() []byte {
	return Build(CmdAck)
}

// GetMaxLevelCmd 查询最大阻力等级
func GetMaxLevelCmd() []byte {
	return Build(CmdGetMaxLevel)
}

// GetWorkoutStateCmd 查询训练状态，训练中需周期发送
func GetWorkoutStateCmd() []byte {
	return Build(CmdGetWorkoutState)
}

// SetWorkoutModeCmd 设置训练模式（含义未完全破解）
func SetWorkoutModeCmd(mode int) []byte {
	return Build(CmdSetWorkoutMode, Encode8(mode))
}

// SetWorkoutParamsCmd 设置训练参数
// distanceKm 与 watt 先乘10（保留一位小数）再做双字节编码；unit 追加为单字节
func SetWorkoutParamsCmd(timeInMinutes int, distanceKm float64, calories, pulse int, watt float64, unit int) []byte {
	dist := Encode16(scale10(distanceKm))
	cal := Encode16(calories)
	pls := Encode16(pulse)
	w := Encode16(scale10(watt))
	return Build(CmdSetWorkoutParams,
		Encode8(timeInMinutes),
		dist[0], dist[1],
		cal[0], cal[1],
		pls[0], pls[1],
		w[0], w[1],
		Encode8(unit),
	)
}

// SetWorkoutControlStateCmd 恢复(1)/暂停(2)
func SetWorkoutControlStateCmd(state WorkoutControlState) []byte {
	return Build(CmdSetWorkoutControl, Encode8(int(state)))
}

// SetResistanceLevelCmd 设置阻力等级
func SetResistanceLevelCmd(level int) []byte {
	return Build(CmdSetResistanceLevel, Encode8(level))
}

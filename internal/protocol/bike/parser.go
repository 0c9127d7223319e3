package bike

import "fmt"

// Decoded 一次解码结果。Anomaly 非空时帧仍然被解析，只是校验失败或长度不足
type Decoded struct {
	Frame   *Frame
	Event   Event
	Anomaly error
}

// Parse 拆分帧头/参数/校验和：校验和为最后一个字节，params 为 [4, len-1)
func Parse(b []byte) (*Frame, error) {
	if len(b) < minFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	last := len(b) - 1
	params := make([]byte, last-headerLen)
	copy(params, b[headerLen:last])
	f := &Frame{
		Magic:    b[0],
		Cmd:      b[1],
		ClientID: b[2],
		MeterID:  b[3],
		Params:   params,
		Checksum: b[last],
	}
	f.ChecksumOK = VerifyChecksum(b) == nil
	return f, nil
}

// Decode 解析上行原始字节为类型化事件。
// 校验和不一致时照常解析（记录异常，不拒绝）；短帧降级为 unknown 事件并携带原始字节。
func Decode(b []byte) Decoded {
	f, err := Parse(b)
	if err != nil {
		var cmd byte
		if len(b) > 1 {
			cmd = b[1]
		}
		raw := make([]byte, len(b))
		copy(raw, b)
		return Decoded{Event: UnknownEvent{Cmd: cmd, Params: raw}, Anomaly: err}
	}
	d := Decoded{Frame: f, Event: Interpret(f)}
	if !f.ChecksumOK {
		d.Anomaly = fmt.Errorf("%w: cmd=0x%02x got=0x%02x want=0x%02x",
			ErrChecksumMismatch, f.Cmd, f.Checksum, CalculateChecksum(b[:len(b)-1]))
	}
	return d
}

// Interpret 按命令码解释帧参数
func Interpret(f *Frame) Event {
	p := f.Params
	switch f.Cmd {
	case RespAck:
		return AckEvent{}
	case RespMaxLevel:
		return MaxLevelEvent{MaxLevel: value8(p, 0)}
	case RespWorkoutState:
		pulse := value16(p, 10)
		if pulse != nil && *pulse == 0 {
			pulse = nil
		}
		return WorkoutStateEvent{WorkoutState: WorkoutState{
			Minutes:  value8(p, 0),
			Seconds:  value8(p, 1),
			Speed:    tenths(value16(p, 2)),
			RPM:      value16(p, 4),
			Distance: tenths(value16(p, 6)),
			Calories: value16(p, 8),
			Pulse:    pulse,
			Watt:     tenths(value16(p, 12)),
			Level:    value8(p, 14),
		}}
	case RespWorkoutMode:
		return WorkoutModeEvent{WorkoutMode: value8(p, 0)}
	case RespWorkoutParams:
		// 布局未确认
		return WorkoutParamsEvent{WorkoutParams: WorkoutParams{
			Time:     value8(p, 0),
			Distance: tenths(value8(p, 1)),
			Calories: value16(p, 3),
			Pulse:    value16(p, 5),
			Watt:     tenths(value16(p, 7)),
			Unit:     value16(p, 8),
		}}
	case RespWorkoutControlState:
		return WorkoutControlStateEvent{State: value8(p, 0)}
	case RespResistanceLevel:
		return ResistanceLevelEvent{Level: value8(p, 0)}
	case RespClientIDs:
		return ClientIDsEvent{ClientID: f.ClientID, MeterID: f.MeterID}
	default:
		params := make([]byte, len(p))
		copy(params, p)
		return UnknownEvent{Cmd: f.Cmd, Params: params}
	}
}

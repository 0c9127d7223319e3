package bike

import (
	"errors"
	"fmt"
)

// ErrNotCommand 不是下行命令帧
var ErrNotCommand = errors.New("not an outbound command frame")

// Settings SetWorkoutParams 的逻辑参数
type Settings struct {
	TimeInMinutes int     `json:"timeInMinutes"`
	DistanceKm    float64 `json:"distanceKm"`
	Calories      int     `json:"calories"`
	Pulse         int     `json:"pulse"`
	Watt          float64 `json:"watt"`
	Unit          int     `json:"unit"`
}

// Command 下行帧还原出的逻辑命令，按命令码只填充相应字段
type Command struct {
	Cmd      byte                 `json:"cmd"`
	Mode     *int                 `json:"mode,omitempty"`
	Settings *Settings            `json:"settings,omitempty"`
	Control  *WorkoutControlState `json:"control,omitempty"`
	Level    *int                 `json:"level,omitempty"`
}

var commandNames = map[byte]string{
	CmdAck:                "ack",
	CmdGetMaxLevel:        "getMaxLevel",
	CmdGetWorkoutState:    "getWorkoutState",
	CmdSetWorkoutMode:     "setWorkoutMode",
	CmdSetWorkoutParams:   "setWorkoutParams",
	CmdSetWorkoutControl:  "setWorkoutControlState",
	CmdSetResistanceLevel: "setResistanceLevel",
}

// CommandName 返回下行命令名，未知命令返回十六进制
func CommandName(cmd byte) string {
	if n, ok := commandNames[cmd]; ok {
		return n
	}
	return fmt.Sprintf("0x%02x", cmd)
}

// Name 命令名
func (c Command) Name() string { return CommandName(c.Cmd) }

// DecodeCommand 将下行帧还原为逻辑命令（用于日志、send 事件与测试）
func DecodeCommand(b []byte) (Command, error) {
	f, err := Parse(b)
	if err != nil {
		return Command{}, err
	}
	if !f.IsOutbound() {
		return Command{}, fmt.Errorf("%w: cmd=0x%02x", ErrNotCommand, f.Cmd)
	}
	if !f.ChecksumOK {
		return Command{}, ErrChecksumMismatch
	}
	c := Command{Cmd: f.Cmd}
	p := f.Params
	switch f.Cmd {
	case CmdSetWorkoutMode:
		c.Mode = value8(p, 0)
		if c.Mode == nil {
			return c, ErrShortFrame
		}
	case CmdSetWorkoutParams:
		if len(p) < 10 {
			return c, ErrShortFrame
		}
		c.Settings = &Settings{
			TimeInMinutes: Decode8(p[0]),
			DistanceKm:    float64(Decode16(p[1], p[2])) / 10.0,
			Calories:      Decode16(p[3], p[4]),
			Pulse:         Decode16(p[5], p[6]),
			Watt:          float64(Decode16(p[7], p[8])) / 10.0,
			Unit:          Decode8(p[9]),
		}
	case CmdSetWorkoutControl:
		v := value8(p, 0)
		if v == nil {
			return c, ErrShortFrame
		}
		s := WorkoutControlState(*v)
		c.Control = &s
	case CmdSetResistanceLevel:
		c.Level = value8(p, 0)
		if c.Level == nil {
			return c, ErrShortFrame
		}
	}
	return c, nil
}

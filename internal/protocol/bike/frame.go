package bike

import "fmt"

// 帧格式：magic(1) + cmd(1) + clientID(1) + meterID(1) + params(var) + checksum(1)
const (
	Magic = 0xF0

	DefaultClientID = 0x01
	DefaultMeterID  = 0x01

	headerLen = 4
	minFrame  = headerLen + 1
)

// 下行命令码（客户端 → 设备）
const (
	CmdAck                byte = 0xA0
	CmdGetMaxLevel        byte = 0xA1
	CmdGetWorkoutState    byte = 0xA2
	CmdSetWorkoutMode     byte = 0xA3
	CmdSetWorkoutParams   byte = 0xA4
	CmdSetWorkoutControl  byte = 0xA5
	CmdSetResistanceLevel byte = 0xA6
)

// 上行响应码（设备 → 客户端）
const (
	RespAck                 byte = 0xB0
	RespMaxLevel            byte = 0xB1
	RespWorkoutState        byte = 0xB2
	RespWorkoutMode         byte = 0xB3
	RespWorkoutParams       byte = 0xB4
	RespWorkoutControlState byte = 0xB5
	RespResistanceLevel     byte = 0xB6
	RespClientIDs           byte = 0xB7
)

// respOffset 下行命令码与对应响应码的固定差值
const respOffset = 0x10

// ResponseKind 返回下行命令对应的响应码，非下行命令返回 false
func ResponseKind(cmd byte) (byte, bool) {
	if cmd < CmdAck || cmd > CmdSetResistanceLevel {
		return 0, false
	}
	return cmd + respOffset, true
}

// Frame 协议帧
type Frame struct {
	Magic    byte
	Cmd      byte
	ClientID byte
	MeterID  byte
	Params   []byte
	Checksum byte
	// ChecksumOK 校验和是否与前面所有字节的累加一致
	ChecksumOK bool
}

// IsOutbound 判断是否为下行命令帧
func (f *Frame) IsOutbound() bool {
	return f.Cmd >= CmdAck && f.Cmd <= CmdSetResistanceLevel
}

// Bytes 重新序列化帧，校验和重新计算
func (f *Frame) Bytes() []byte {
	return BuildWithIDs(f.Cmd, f.ClientID, f.MeterID, f.Params...)
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame{cmd=0x%02x client=%d meter=%d params=% x}", f.Cmd, f.ClientID, f.MeterID, f.Params)
}

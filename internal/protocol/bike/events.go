package bike

import "fmt"

// 事件类型名，同时作为事件总线的 topic
const (
	KindAck                 = "ack"
	KindMaxLevel            = "maxLevel"
	KindWorkoutState        = "workoutState"
	KindWorkoutMode         = "workoutMode"
	KindWorkoutParams       = "workoutParams"
	KindWorkoutControlState = "workoutControlState"
	KindResistanceLevel     = "resistanceLevel"
	KindClientIDs           = "clientIds"
	KindUnknownPrefix       = "unknown:"
)

// Event 上行帧解码后的类型化事件
type Event interface {
	Kind() string
}

// AckEvent 0xB0
type AckEvent struct{}

func (AckEvent) Kind() string { return KindAck }

// MaxLevelEvent 0xB1
type MaxLevelEvent struct {
	MaxLevel *int `json:"maxLevel"`
}

func (MaxLevelEvent) Kind() string { return KindMaxLevel }

// WorkoutState 训练实时数据，字段缺失（短帧）时为 nil
type WorkoutState struct {
	Minutes  *int     `json:"minutes"`
	Seconds  *int     `json:"seconds"`
	Speed    *float64 `json:"speed"`
	RPM      *int     `json:"rpm"`
	Distance *float64 `json:"distance"`
	Calories *int     `json:"calories"`
	Pulse    *int     `json:"pulse"` // 0 视为无心率
	Watt     *float64 `json:"watt"`
	Level    *int     `json:"level"`
}

// WorkoutStateEvent 0xB2
type WorkoutStateEvent struct {
	WorkoutState WorkoutState `json:"workoutState"`
}

func (WorkoutStateEvent) Kind() string { return KindWorkoutState }

// WorkoutModeEvent 0xB3
type WorkoutModeEvent struct {
	WorkoutMode *int `json:"workoutMode"`
}

func (WorkoutModeEvent) Kind() string { return KindWorkoutMode }

// WorkoutParams 0xB4 的字段布局未经设备验证，仅尽力解析
type WorkoutParams struct {
	Time     *int     `json:"time"`
	Distance *float64 `json:"distance"`
	Calories *int     `json:"calories"`
	Pulse    *int     `json:"pulse"`
	Watt     *float64 `json:"watt"`
	Unit     *int     `json:"unit"`
}

// WorkoutParamsEvent 0xB4
type WorkoutParamsEvent struct {
	WorkoutParams WorkoutParams `json:"workoutParams"`
}

func (WorkoutParamsEvent) Kind() string { return KindWorkoutParams }

// WorkoutControlStateEvent 0xB5
type WorkoutControlStateEvent struct {
	State *int `json:"workoutControlState"`
}

func (WorkoutControlStateEvent) Kind() string { return KindWorkoutControlState }

// ResistanceLevelEvent 0xB6
type ResistanceLevelEvent struct {
	Level *int `json:"resistanceLevel"`
}

func (ResistanceLevelEvent) Kind() string { return KindResistanceLevel }

// ClientIDsEvent 0xB7，取自帧头
type ClientIDsEvent struct {
	ClientID byte `json:"clientId"`
	MeterID  byte `json:"meterId"`
}

func (ClientIDsEvent) Kind() string { return KindClientIDs }

// UnknownEvent 未识别的命令码，原样携带参数，不丢弃
type UnknownEvent struct {
	Cmd    byte   `json:"cmd"`
	Params []byte `json:"params"`
}

func (e UnknownEvent) Kind() string { return UnknownKind(e.Cmd) }

// UnknownKind 返回 "unknown:<小写十六进制>"
func UnknownKind(cmd byte) string {
	return fmt.Sprintf("%s%x", KindUnknownPrefix, cmd)
}

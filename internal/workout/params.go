// Package workout 训练参数与 YAML 训练方案
package workout

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// 编码上限：单字节 v+1 需 ≤0xFF；双字节按 [0, 9999] 约束
const (
	MaxOneByte = 254
	MaxTwoByte = 9999
)

// ErrOutOfRange 参数超出设备可编码范围
var ErrOutOfRange = errors.New("parameter out of range")

// Params 启动训练的参数
type Params struct {
	TimeInMinute int     `yaml:"timeInMinute" json:"timeInMinute"`
	DistanceInKM float64 `yaml:"distanceInKM" json:"distanceInKM"`
	Calories     int     `yaml:"calories" json:"calories"`
	Pulse        int     `yaml:"pulse" json:"pulse"`
	Watt         float64 `yaml:"watt" json:"watt"`
	WorkoutMode  int     `yaml:"workoutMode" json:"workoutMode"`
	Unit         int     `yaml:"unit" json:"unit"`
	Level        int     `yaml:"level" json:"level"`
}

// Validate 检查所有字段都能按设备编码表示
func (p Params) Validate() error {
	checks := []struct {
		name string
		v    float64
		max  float64
	}{
		{"timeInMinute", float64(p.TimeInMinute), MaxOneByte},
		{"distanceInKM", p.DistanceInKM * 10, MaxTwoByte},
		{"calories", float64(p.Calories), MaxTwoByte},
		{"pulse", float64(p.Pulse), MaxTwoByte},
		{"watt", p.Watt * 10, MaxTwoByte},
		{"workoutMode", float64(p.WorkoutMode), MaxOneByte},
		{"unit", float64(p.Unit), MaxOneByte},
		{"level", float64(p.Level), MaxOneByte},
	}
	for _, c := range checks {
		if c.v < 0 || c.v > c.max {
			return fmt.Errorf("%w: %s", ErrOutOfRange, c.name)
		}
	}
	return nil
}

// ValidateLevel 阻力等级
func ValidateLevel(level int) error {
	if level < 0 || level > MaxOneByte {
		return fmt.Errorf("%w: level %d", ErrOutOfRange, level)
	}
	return nil
}

// Profile YAML 训练方案文件
type Profile struct {
	Name   string `yaml:"name"`
	Params Params `yaml:"params"`
}

// LoadProfile 读取并校验训练方案
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Params.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return &p, nil
}

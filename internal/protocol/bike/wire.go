package bike

import "math"

// 设备固件的数值编码：
//   单字节：v+1（0 作为保留值，从不作为参数字节发送）
//   双字节：[1+v/100, 1+v%100]，解码 (b0-1)*100 + (b1-1)
// 不是标准二进制也不是BCD，双向必须严格一致。

// Encode8 单字节编码
func Encode8(v int) byte {
	return byte(v%256) + 1
}

// Encode16 双字节编码
func Encode16(v int) [2]byte {
	return [2]byte{Encode8(v / 100), Encode8(v % 100)}
}

// Decode8 单字节解码
func Decode8(b byte) int {
	return int(b) - 1
}

// Decode16 双字节解码
func Decode16(hi, lo byte) int {
	return (int(hi)-1)*100 + (int(lo) - 1)
}

// scale10 保留一位小数：x*10 四舍五入
func scale10(x float64) int {
	return int(math.Round(x * 10))
}

// value8 读取 params[i] 的单字节值，越界返回 nil
func value8(params []byte, i int) *int {
	if i < 0 || i >= len(params) {
		return nil
	}
	v := Decode8(params[i])
	return &v
}

// value16 读取 params[i:i+2] 的双字节值，越界返回 nil
func value16(params []byte, i int) *int {
	if i < 0 || i+1 >= len(params) {
		return nil
	}
	v := Decode16(params[i], params[i+1])
	return &v
}

// tenths 将整数值除以10，nil 保持 nil
func tenths(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v) / 10.0
	return &f
}

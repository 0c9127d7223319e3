package bike

import "errors"

var (
	// ErrChecksumMismatch checksum校验失败
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrShortFrame 帧长度不足 header+checksum
	ErrShortFrame = errors.New("short frame")
)

// CalculateChecksum 累加所有字节（byte溢出自动丢弃高位，即 mod 256）
func CalculateChecksum(data []byte) byte {
	var checksum byte
	for _, b := range data {
		checksum += b
	}
	return checksum
}

// VerifyChecksum 验证完整帧：最后一个字节为前面所有字节的累加
func VerifyChecksum(frame []byte) error {
	if len(frame) < 1 {
		return ErrShortFrame
	}
	pos := len(frame) - 1
	if frame[pos] != CalculateChecksum(frame[:pos]) {
		return ErrChecksumMismatch
	}
	return nil
}

// withChecksum 追加校验和并返回完整帧
func withChecksum(data []byte) []byte {
	out := make([]byte, len(data)+1)
	copy(out, data)
	out[len(data)] = CalculateChecksum(data)
	return out
}

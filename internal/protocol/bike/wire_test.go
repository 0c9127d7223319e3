package bike

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode8(t *testing.T) {
	assert.Equal(t, byte(0x01), Encode8(0))
	assert.Equal(t, byte(0x0F), Encode8(14))
	assert.Equal(t, byte(0x13), Encode8(18))
	assert.Equal(t, 14, Decode8(0x0F))
}

func TestEncode16(t *testing.T) {
	tests := []struct {
		name string
		v    int
		want [2]byte
	}{
		{"零", 0, [2]byte{0x01, 0x01}},
		{"不足百", 99, [2]byte{0x01, 0x64}},
		{"整百", 100, [2]byte{0x02, 0x01}},
		{"一般值", 1505, [2]byte{0x10, 0x06}},
		{"上限", 9999, [2]byte{0x64, 0x64}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode16(tt.v))
		})
	}
}

func TestDecode16IsLeftInverse(t *testing.T) {
	for v := 0; v <= 9999; v++ {
		b := Encode16(v)
		require.Equal(t, v, Decode16(b[0], b[1]), "v=%d", v)
	}
}

func TestValueOutOfRange(t *testing.T) {
	params := []byte{0x05, 0x02}
	assert.Nil(t, value8(params, 2))
	assert.Nil(t, value16(params, 1))
	assert.Nil(t, value16(nil, 0))
	require.NotNil(t, value16(params, 0))
	assert.Equal(t, 401, *value16(params, 0))
}

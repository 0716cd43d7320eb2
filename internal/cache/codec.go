package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrCorruptVector 值的长度不是 4 的正整数倍
var ErrCorruptVector = errors.New("corrupt vector value")

// EncodeVector little-endian float32 序列，按位保留 NaN 与 -0
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 0, 4*len(v))
	for _, x := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(x))
	}
	return buf
}

func DecodeVector(raw []byte) ([]float32, error) {
	n := len(raw) / 4
	if n == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptVector, len(raw))
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
	}
	return v, nil
}

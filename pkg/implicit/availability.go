package implicit

import (
	"fmt"

	"gitlab.com/tozd/go/errors"
)

// 🗺️ AvailabilityInfo answers whether the element at an index is available.
// Indexes outside [0, Len()) are a programming error and panic.
type AvailabilityInfo interface {
	Len() int
	IsAvailable(index int) bool
}

// ConstantAvailabilityInfo reports the same answer for every index
type ConstantAvailabilityInfo struct {
	available bool
	length    int
}

func NewConstantAvailabilityInfo(available bool, length int) *ConstantAvailabilityInfo {
	return &ConstantAvailabilityInfo{available: available, length: length}
}

func (c *ConstantAvailabilityInfo) Len() int { return c.length }

func (c *ConstantAvailabilityInfo) IsAvailable(index int) bool {
	checkIndex(index, c.length)
	return c.available
}

// BufferAvailabilityInfo reads one bit per element, least significant bit first
type BufferAvailabilityInfo struct {
	chunk  []byte
	length int
}

// NewBufferAvailabilityInfo fails when the chunk holds fewer than length bits
func NewBufferAvailabilityInfo(chunk []byte, length int) (*BufferAvailabilityInfo, error) {
	need := (length + 7) / 8
	if len(chunk) < need {
		return nil, errors.Errorf("%w: bitstream of %d bytes cannot hold %d bits", ErrImplicitTiling, len(chunk), length)
	}
	return &BufferAvailabilityInfo{chunk: chunk, length: length}, nil
}

func (b *BufferAvailabilityInfo) Len() int { return b.length }

func (b *BufferAvailabilityInfo) IsAvailable(index int) bool {
	checkIndex(index, b.length)
	return b.chunk[index>>3]&(1<<(index&7)) != 0
}

func checkIndex(index, length int) {
	if index < 0 || index >= length {
		panic(fmt.Sprintf("availability index %d out of range [0, %d)", index, length))
	}
}

// CountAvailable returns how many indexes are available
func CountAvailable(info AvailabilityInfo) int {
	n := 0
	for i := 0; i < info.Len(); i++ {
		if info.IsAvailable(i) {
			n++
		}
	}
	return n
}

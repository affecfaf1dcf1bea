package lstore

import (
	"math/bits"
	"sync"
)

// --------------------------------------------------------------------------
// Buffer recycling
// --------------------------------------------------------------------------

const (
	minClassShift = 3  // smallest pooled buffer: 8 bytes
	maxClassShift = 12 // largest pooled buffer: 4 KiB
	numClasses    = maxClassShift - minClassShift + 1
)

// bufferPool recycles data buffers in power of two size classes.
// Buffers larger than the biggest class are left to the garbage collector.
type bufferPool struct {
	classes [numClasses]sync.Pool
}

// classOf returns the size class for size, or false if size is not pooled
func classOf(size int) (int, bool) {
	if size <= 1<<minClassShift {
		return 0, true
	}
	shift := bits.Len(uint(size - 1))
	if shift > maxClassShift {
		return 0, false
	}
	return shift - minClassShift, true
}

// get returns a zero-filled buffer of length size
func (p *bufferPool) get(size int) []byte {
	class, ok := classOf(size)
	if !ok {
		return make([]byte, size)
	}
	if v := p.classes[class].Get(); v != nil {
		buf := (*v.(*[]byte))[:size]
		clear(buf)
		return buf
	}
	return make([]byte, size, 1<<(class+minClassShift))
}

// put returns buf to its size class. buf must not be used afterward.
func (p *bufferPool) put(buf []byte) {
	c := cap(buf)
	class, ok := classOf(c)
	if !ok || c != 1<<(class+minClassShift) {
		return
	}
	buf = buf[:0]
	p.classes[class].Put(&buf)
}

package audio

import "sync"

// Buffer accumulates raw PCM16 bytes between recognition passes.
// It is written from the network path and drained from the recognition loop.
type Buffer struct {
	mu      sync.Mutex
	buf     []byte
	samples int64
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// AddChunk appends a copy of chunk to the buffer.
func (b *Buffer) AddChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, chunk...)
	// 16-bit samples
	b.samples += int64(len(chunk) / 2)
}

// TakeAll returns everything accumulated since the previous call and leaves
// the buffer empty. ok is false when there was nothing to take.
func (b *Buffer) TakeAll() (data []byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return nil, false
	}
	data = b.buf
	b.buf = nil
	return data, true
}

// Len returns the number of bytes waiting to be taken.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Samples returns the approximate number of samples received since the last Clear.
func (b *Buffer) Samples() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.samples
}

// Clear resets the buffer, discarding all stored audio
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = nil
	b.samples = 0
}

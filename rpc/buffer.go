package rpc

import "sync"

// Buffer is a byte slice with a single owner. Transferring a buffer moves the
// backing array to a new Buffer and detaches the old one, so the sender can no
// longer observe or mutate bytes that belong to the receiver. No bytes are
// copied.
type Buffer struct {
	mu sync.Mutex
	b  []byte
}

// NewBuffer wraps b. The caller gives up ownership of b.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Len returns the number of bytes owned by the buffer, zero once detached.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.b)
}

// Bytes returns the owned bytes, nil once detached.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b
}

// String returns the owned bytes as a string.
func (b *Buffer) String() string {
	return string(b.Bytes())
}

// Detached reports whether the buffer no longer owns any bytes.
func (b *Buffer) Detached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b == nil
}

// Transfer moves the contents into a new Buffer and detaches b.
func (b *Buffer) Transfer() *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := &Buffer{b: b.b}
	b.b = nil
	return out
}

// TransferN is like Transfer but only hands over the first n bytes. The
// backing array is shared with nothing once b is detached.
func (b *Buffer) TransferN(n int) *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.b) {
		n = len(b.b)
	}
	out := &Buffer{b: b.b[:n:n]}
	b.b = nil
	return out
}

// Release drops the owned bytes.
func (b *Buffer) Release() {
	b.mu.Lock()
	b.b = nil
	b.mu.Unlock()
}

// TransferAll transfers every buffer in bufs and returns the new owners.
func TransferAll(bufs []*Buffer) []*Buffer {
	if len(bufs) == 0 {
		return nil
	}
	out := make([]*Buffer, len(bufs))
	for i, b := range bufs {
		out[i] = b.Transfer()
	}
	return out
}

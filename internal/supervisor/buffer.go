package supervisor

import "sync"

// CircularBuffer stores the last N lines
type CircularBuffer struct {
	lines []string
	size  int
	pos   int
	count int
	mu    sync.Mutex
}

// NewCircularBuffer creates a new circular buffer
func NewCircularBuffer(size int) *CircularBuffer {
	if size < 1 {
		size = 1
	}
	return &CircularBuffer{
		lines: make([]string, size),
		size:  size,
	}
}

// Write adds a line to the buffer
func (b *CircularBuffer) Write(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines[b.pos] = line
	b.pos = (b.pos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// Lines returns all lines, oldest first
func (b *CircularBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]string, 0, b.count)
	if b.count < b.size {
		return append(result, b.lines[:b.count]...)
	}
	result = append(result, b.lines[b.pos:]...)
	return append(result, b.lines[:b.pos]...)
}

// Reset clears the buffer
func (b *CircularBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pos = 0
	b.count = 0
}

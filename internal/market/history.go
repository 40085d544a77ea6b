package market

// DefaultHistoryCapacity is used when a non-positive capacity is given.
const DefaultHistoryCapacity = 500

// HistoryBuffer is an oldest-first ring. Appending at capacity drops the
// oldest point. It is not safe for concurrent use.
type HistoryBuffer[T any] struct {
	buf   []T
	start int
	n     int
}

func NewHistoryBuffer[T any](capacity int) *HistoryBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryBuffer[T]{buf: make([]T, capacity)}
}

func (h *HistoryBuffer[T]) Append(v T) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = v
		h.n++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

// Points returns a copy, oldest first.
func (h *HistoryBuffer[T]) Points() []T {
	out := make([]T, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *HistoryBuffer[T]) Len() int { return h.n }

func (h *HistoryBuffer[T]) Cap() int { return len(h.buf) }

func (h *HistoryBuffer[T]) Last() (T, bool) {
	var zero T
	if h.n == 0 {
		return zero, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

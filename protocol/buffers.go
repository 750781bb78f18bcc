package protocol

// InputBuffer is received data waiting to be parsed
type InputBuffer interface {
	Data() []byte
	Available() int
	// Pop drops n bytes from the front
	Pop(n int)
}

// OutputBuffer collects outgoing frames
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	// Update patches a byte already written, used for the length field
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer reads from a fixed slice
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput is a fixed output area. Writes past the end are truncated
// and reported by Overflowed.
type ScratchOutput struct {
	buf        [OutputMax]byte
	pos        int
	overflowed bool
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
	if n < len(data) {
		s.overflowed = true
	}
}

func (s *ScratchOutput) CurPosition() int {
	return s.pos
}

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written since the last Reset
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

// Free returns the room left
func (s *ScratchOutput) Free() int {
	return len(s.buf) - s.pos
}

// Overflowed reports whether any write was truncated
func (s *ScratchOutput) Overflowed() bool {
	return s.overflowed
}

func (s *ScratchOutput) Reset() {
	s.pos = 0
	s.overflowed = false
}

// RxBuffer accumulates received bytes for the frame parser. Consumed bytes
// are reclaimed by moving the unread tail to the front, so Data never
// allocates.
type RxBuffer struct {
	buf   []byte
	start int
	end   int
}

func NewRxBuffer(capacity int) *RxBuffer {
	return &RxBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count
func (r *RxBuffer) Write(data []byte) int {
	if len(r.buf)-r.end < len(data) && r.start > 0 {
		r.compact()
	}
	n := copy(r.buf[r.end:], data)
	r.end += n
	return n
}

func (r *RxBuffer) compact() {
	n := copy(r.buf, r.buf[r.start:r.end])
	r.start = 0
	r.end = n
}

func (r *RxBuffer) Data() []byte {
	return r.buf[r.start:r.end]
}

func (r *RxBuffer) Available() int {
	return r.end - r.start
}

// Free returns the room for Write, counting reclaimable space
func (r *RxBuffer) Free() int {
	return len(r.buf) - r.Available()
}

func (r *RxBuffer) Pop(n int) {
	r.start += n
	if r.start >= r.end {
		r.start, r.end = 0, 0
	}
}

func (r *RxBuffer) Reset() {
	r.start, r.end = 0, 0
}

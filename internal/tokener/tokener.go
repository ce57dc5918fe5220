// Package tokener provides a bounds-checked cursor for scanning a string
// byte by byte. A Tokener borrows its input and never modifies it; every
// read outside the input yields the zero byte instead of panicking.
package tokener

// Tokener scans a string forwards and backwards. The read position is kept
// in [0, len+1]: len is the end of input and len+1 marks a read attempted
// past the end.
type Tokener struct {
	data string
	pos  int
}

func New(s string) *Tokener {
	return &Tokener{data: s}
}

// Reset points the tokener at a new input and rewinds it.
func (t *Tokener) Reset(s string) {
	t.data = s
	t.pos = 0
}

func (t *Tokener) Pos() int {
	return t.pos
}

func (t *Tokener) Len() int {
	return len(t.data)
}

func (t *Tokener) IsEnd() bool {
	return t.pos >= len(t.data)
}

// ReadableSize reports how many bytes remain from the current position.
func (t *Tokener) ReadableSize() int {
	if t.pos >= len(t.data) {
		return 0
	}
	return len(t.data) - t.pos
}

// Next returns the current byte and advances. At the end it returns 0 and
// moves to the past-end position, where further calls stay.
func (t *Tokener) Next() byte {
	if t.IsEnd() {
		t.pos = len(t.data) + 1
		return 0
	}
	c := t.data[t.pos]
	t.pos++
	return c
}

func (t *Tokener) Current() byte {
	if t.IsEnd() {
		return 0
	}
	return t.data[t.pos]
}

// Back steps one byte backwards. It fails at the start of input.
func (t *Tokener) Back() bool {
	if t.pos <= 0 {
		return false
	}
	t.pos--
	return true
}

// BackN steps n bytes backwards, or not at all if that would cross the start.
func (t *Tokener) BackN(n int) bool {
	if n < 0 || t.pos-n < 0 {
		return false
	}
	t.pos -= n
	return true
}

// NextClean returns the next byte greater than a space, or 0 at the end.
// A NUL byte in the input is returned as is.
func (t *Tokener) NextClean() byte {
	for t.pos < len(t.data) {
		c := t.data[t.pos]
		t.pos++
		if c > ' ' || c == 0 {
			return c
		}
	}
	return 0
}

// SkipSpaces moves to the first byte greater than a space. It returns false
// when only space bytes were left.
func (t *Tokener) SkipSpaces() bool {
	for t.pos < len(t.data) {
		if t.data[t.pos] > ' ' {
			return true
		}
		t.pos++
	}
	return false
}

// SkipTo moves the position onto the next occurrence of to and returns it.
// If to does not occur before the end, the position is left unchanged and 0
// is returned.
func (t *Tokener) SkipTo(to byte) byte {
	for i := t.pos; i < len(t.data); i++ {
		if t.data[i] == to {
			t.pos = i
			return to
		}
	}
	return 0
}

// SkipBackTo scans backwards for to and leaves the position just after it.
// On failure the position is left unchanged and 0 is returned.
func (t *Tokener) SkipBackTo(to byte) byte {
	start := t.pos
	for {
		if !t.Back() {
			t.pos = start
			return 0
		}
		if t.Current() == to {
			break
		}
	}
	c := t.Current()
	t.Next()
	return c
}

// SkipToNextLine moves past the next '\n'. Nothing moves if there is none.
func (t *Tokener) SkipToNextLine() bool {
	if t.SkipTo('\n') == 0 {
		return false
	}
	t.Next()
	return true
}

// NextString returns the bytes up to the next byte that is a space or lower
// and consumes that delimiter. Without a delimiter the rest of the input is
// returned.
func (t *Tokener) NextString() string {
	if t.IsEnd() {
		return ""
	}
	start := t.pos
	for i := start; i < len(t.data); i++ {
		if t.data[i] <= ' ' {
			t.pos = i + 1
			return t.data[start:i]
		}
	}
	t.pos = len(t.data)
	return t.data[start:]
}

// NextStringUntil returns the bytes up to quote and leaves the position just
// past it. If quote is missing it returns "" without moving.
func (t *Tokener) NextStringUntil(quote byte) string {
	if t.IsEnd() {
		return ""
	}
	start := t.pos
	for i := start; i < len(t.data); i++ {
		if t.data[i] == quote {
			t.pos = i + 1
			return t.data[start:i]
		}
	}
	return ""
}

// DehexChar returns the value of a hexadecimal digit, or -1.
func DehexChar(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return -1
	}
}

package buffer

// Circular is a fixed size window over the most recent float values added,
// used to report smoothed per-chain progress (recent trajectory lengths,
// recent acceptance).
type Circular struct {
	buffer    []float64 // actual storage
	pos       int       // Current position in buffer
	BufSize   int       // BufSize is the fixed number of values maintained in memory
	Count     int       // Count is the number of values in memory. Will always be <= BufSize
	TotalSeen int64     // TotalSeen is the total number of times Add has been called
}

// NewCircular creates a new window holding at most size values. A size below
// one is bumped to one.
func NewCircular(size int) *Circular {
	if size < 1 {
		size = 1
	}

	return &Circular{
		buffer:  make([]float64, size),
		pos:     0,
		BufSize: size,
		Count:   0,
	}
}

// Internal: return the next array position
func (c *Circular) nextPos() int {
	return (c.pos + 1) % c.BufSize
}

// Add appends the given value to the buffer, overwriting the oldest entry
func (c *Circular) Add(v float64) {
	c.TotalSeen++

	c.buffer[c.pos] = v

	c.pos = c.nextPos()

	c.Count++
	if c.Count > c.BufSize {
		c.Count = c.BufSize // max out
	}
}

// Last returns the most recently added value (0 when empty).
func (c *Circular) Last() float64 {
	if c.Count < 1 {
		return 0
	}
	return c.buffer[(c.pos+c.BufSize-1)%c.BufSize]
}

// Mean returns the mean of the values in the window (0 when empty).
func (c *Circular) Mean() float64 {
	if c.Count < 1 {
		return 0
	}

	var sum float64
	for it := c.Values(); it.Next(); {
		sum += it.Value()
	}
	return sum / float64(c.Count)
}

// Values returns an iterator over the stored values, oldest first.
func (c *Circular) Values() *CircularIterator {
	start := 0
	if c.Count == c.BufSize {
		start = c.pos // Oldest is the one we're about to write
	}

	return &CircularIterator{
		buf:    c,
		curr:   start,
		remain: c.Count,
	}
}

// CircularIterator provides an iterator over a Circular buffer
type CircularIterator struct {
	buf    *Circular
	curr   int
	remain int
}

// Next returns True when there are more values to read via Value
func (i *CircularIterator) Next() bool {
	return i.remain > 0
}

// Value return the next value to be read. Should only be called if Next() is
// True
func (i *CircularIterator) Value() float64 {
	v := i.buf.buffer[i.curr]
	i.curr = (i.curr + 1) % i.buf.BufSize
	i.remain--
	return v
}

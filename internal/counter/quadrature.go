package counter

// quadrature decodes A/B channel levels into count steps, one step per edge.
//
//	    1   2     3    4    1    2    3    4     1
//
//	            +---------+         +---------+      0
//	            |         |         |         |
//	  A         |         |         |         |
//	            |         |         |         |
//	  +---------+         +---------+         +----- 1
//
//	      +---------+         +---------+            0
//	      |         |         |         |
//	  B   |         |         |         |
//	      |         |         |         |
//	  ----+         +---------+         +---------+  1
//
// State is a | b<<1. Transition table (prev/next):
//
//	+-----------+----+----+----+----+
//	| prev/next | 00 | 01 | 10 | 11 |
//	+-----------+----+----+----+----+
//	|    00     | 0  | -1 | +1 | x  |
//	|    01     | +1 | 0  | x  | -1 |
//	|    10     | -1 | x  | 0  | +1 |
//	|    11     | x  | +1 | -1 | 0  |
//	+-----------+----+----+----+----+
//
// x is a missed edge; it is dropped rather than guessed.
type quadrature struct {
	state uint8
}

// reset seeds the decoder with the current line levels.
func (q *quadrature) reset(a, b int) {
	q.state = levels(a, b)
}

// update records new levels and returns the step they imply.
func (q *quadrature) update(a, b int) int32 {
	next := levels(a, b)
	d := decode(q.state, next)
	q.state = next
	return d
}

func levels(a, b int) uint8 {
	return uint8(a&1) | uint8(b&1)<<1
}

func decode(prev, next uint8) int32 {
	switch prev<<2 | next {
	case 0b0010, 0b0100, 0b1011, 0b1101:
		return 1
	case 0b0001, 0b0111, 0b1000, 0b1110:
		return -1
	}
	return 0
}

package replay

import (
	"github.com/eddiefleurent/backreplay/internal/marketdata"
	"github.com/eddiefleurent/backreplay/internal/tickstream"
)

// symbolCursor wraps a single-symbol tickstream.Stream with a one-tick
// lookahead buffer so the barrier's advance function can inspect every
// worker's next timestamp without consuming it. This is the mechanism for
// computing the next virtual instant as the minimum across all symbols.
type symbolCursor struct {
	symbol  string
	stream  *tickstream.Stream
	peeked  marketdata.Tick
	hasPeek bool
	done    bool
}

func newSymbolCursor(symbol string, stream *tickstream.Stream) *symbolCursor {
	return &symbolCursor{symbol: symbol, stream: stream}
}

// peek returns the next tick without consuming it.
func (c *symbolCursor) peek() (marketdata.Tick, bool, error) {
	if c.done {
		return marketdata.Tick{}, false, nil
	}
	if c.hasPeek {
		return c.peeked, true, nil
	}
	t, ok, err := c.stream.Next()
	if err != nil {
		return marketdata.Tick{}, false, err
	}
	if !ok {
		c.done = true
		return marketdata.Tick{}, false, nil
	}
	c.peeked = t
	c.hasPeek = true
	return t, true, nil
}

// consume returns the peeked tick and clears the lookahead so the next
// peek pulls a fresh one from the stream.
func (c *symbolCursor) consume() (marketdata.Tick, bool) {
	if !c.hasPeek {
		return marketdata.Tick{}, false
	}
	t := c.peeked
	c.hasPeek = false
	return t, true
}

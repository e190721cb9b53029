package pipeline

import (
	"strconv"
)

// Token is passed between pipeline stages. It's either a sequence index
// or the shutdown signal, never both.
type Token struct {
	index    uint32
	shutdown bool
	// set by the stage that failed to append index
	err error
}

// IndexToken returns a token carrying sequence index i
func IndexToken(i uint32) Token {
	return Token{index: i}
}

// ShutdownToken returns the token that stops the pipeline
func ShutdownToken() Token {
	return Token{shutdown: true}
}

func (t Token) IsShutdown() bool {
	return t.shutdown
}

// Index returns the sequence index. ok is false for the shutdown token.
func (t Token) Index() (i uint32, ok bool) {
	return t.index, !t.shutdown
}

// Err returns the error of a failed append, if any
func (t Token) Err() error {
	return t.err
}

func (t Token) String() string {
	if t.shutdown {
		return "shutdown"
	}
	s := strconv.FormatUint(uint64(t.index), 10)
	if t.err != nil {
		s += " (failed: " + t.err.Error() + ")"
	}
	return s
}

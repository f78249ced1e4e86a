package models

import "time"

// Batch is an immutable snapshot of the raw lines read during one accumulation window.
// Nothing may modify a Batch once it has been handed to a pipeline.
type Batch struct {
	ID    uint64
	Lines [][]byte
	// Duplicates counts the exact duplicate lines dropped from the window.
	Duplicates int
	Opened     time.Time
	Flushed    time.Time
}

func (b Batch) Len() int {
	return len(b.Lines)
}

// Window is the duration the batch accumulated lines for.
func (b Batch) Window() time.Duration {
	return b.Flushed.Sub(b.Opened)
}

// Package bufpool recycles the buffers used to encode write requests.
package bufpool

import (
	"bytes"
	"sync"
)

type Pool struct {
	p *sync.Pool
}

func New() *Pool {
	syncPool := sync.Pool{}
	syncPool.New = func() interface{} {
		return &ClosingBuffer{
			pool: &syncPool,
		}
	}

	return &Pool{
		p: &syncPool,
	}
}

// Get returns an empty buffer. Close returns it to the pool.
func (p *Pool) Get() *ClosingBuffer {
	return p.p.Get().(*ClosingBuffer)
}

type ClosingBuffer struct {
	bytes.Buffer
	pool *sync.Pool
}

func (cb *ClosingBuffer) Close() error {
	cb.Reset()
	cb.pool.Put(cb)
	return nil
}

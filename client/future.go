package client

import (
	"sync"
	"time"

	"github.com/teleprox/objrpc/rpcerr"
)

// Future is the async-mode handle returned by a CALL/GETATTR/... issued
// with rpcwire.ModeAsync (spec §4.5): the caller polls HasResult or
// blocks in Result, and may Cancel before the reply arrives.
type Future struct {
	client *Client
	id     uint64

	mu        sync.Mutex
	done      chan struct{}
	value     any
	err       error
	cancelled bool
}

func newFuture(c *Client, id uint64) *Future {
	return &Future{client: c, id: id, done: make(chan struct{})}
}

func (f *Future) complete(value any, err error) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return
	default:
	}
	f.value, f.err = value, err
	close(f.done)
	f.mu.Unlock()
}

// HasResult reports whether the reply has already arrived, without
// blocking (spec §4.5 "has_result()").
func (f *Future) HasResult() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks up to timeout for the reply; timeout <= 0 blocks until
// the reply arrives or the owning Client is closed.
func (f *Future) Result(timeout time.Duration) (any, error) {
	if timeout <= 0 {
		select {
		case <-f.done:
			return f.value, f.err
		case <-f.client.closed:
			return nil, rpcerr.Wrap(rpcerr.Closed, f.client.closeErr)
		}
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-f.client.closed:
		return nil, rpcerr.Wrap(rpcerr.Closed, f.client.closeErr)
	case <-time.After(timeout):
		return nil, rpcerr.New(rpcerr.Timeout, "future %d not ready after %s", f.id, timeout)
	}
}

// Cancel sends a best-effort CANCEL notice for the outstanding request.
// It never interrupts target execution already in progress on the
// remote side (spec §9: "Cancel ... never interrupts a running target,
// only prevents pre-execution or skips result delivery").
func (f *Future) Cancel() {
	f.mu.Lock()
	already := f.cancelled
	f.cancelled = true
	f.mu.Unlock()
	if !already {
		f.client.sendCancel(f.id)
	}
}

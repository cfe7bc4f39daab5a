package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/teleprox/objrpc/rpcwire"
)

// queueRelease batches a RELEASE for objectID, coalescing repeated
// releases of the same object into one wire notice rather than one per
// Proxy.Close (spec §4.6, SPEC_FULL §12 item 2). WithImmediateRelease
// disables this for tests that need deterministic refcount timing.
func (c *Client) queueRelease(objectID uint64) {
	if c.opts.immediateRelease {
		c.sendRelease([]rpcwire.ReleaseEntry{{ObjectID: objectID, Count: 1}})
		return
	}

	c.releaseMu.Lock()
	c.releaseBuf[objectID]++
	if c.releaseTimer == nil {
		c.releaseTimer = time.AfterFunc(c.opts.ReleaseBatchInterval, c.flushReleases)
	}
	flush := len(c.releaseBuf) >= c.opts.ReleaseBatchMax
	c.releaseMu.Unlock()

	if flush {
		c.flushReleases()
	}
}

// flushReleases sends the current batch as a single RELEASE notice and
// resets the coalescing window.
func (c *Client) flushReleases() {
	c.releaseMu.Lock()
	if len(c.releaseBuf) == 0 {
		c.releaseMu.Unlock()
		return
	}
	entries := make([]rpcwire.ReleaseEntry, 0, len(c.releaseBuf))
	for id, n := range c.releaseBuf {
		entries = append(entries, rpcwire.ReleaseEntry{ObjectID: id, Count: n})
	}
	c.releaseBuf = make(map[uint64]int)
	if c.releaseTimer != nil {
		c.releaseTimer.Stop()
		c.releaseTimer = nil
	}
	c.releaseMu.Unlock()

	c.sendRelease(entries)
}

func (c *Client) sendRelease(entries []rpcwire.ReleaseEntry) {
	select {
	case <-c.closed:
		return
	default:
	}
	// Entries travel as plain {"id", "n"} maps: the codec copies maps by
	// value, and decodeReleaseEntries reads this shape on the other side.
	args := make([]any, len(entries))
	for i, e := range entries {
		args[i] = map[string]any{"id": e.ObjectID, "n": e.Count}
	}
	f := &rpcwire.Frame{
		Kind:       rpcwire.KindNotice,
		Notice:     rpcwire.NoticeRelease,
		NoticeArgs: args,
	}
	if err := c.pc.WriteFrame(f); err != nil {
		c.log.Warn("failed to send RELEASE notice", zap.Error(err))
	}
}

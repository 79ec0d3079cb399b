package netdelegate

import (
	"net"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
)

// frameCache holds already-serialized broadcast frames keyed by a
// caller-chosen digest, so broadcasting one proposal to all NumDelegates
// peers serializes it once instead of once per peer. Grounded on the
// domain-stack role assigned to fastcache: "byte-cache for the
// per-socket send-queue's serialized frames, avoiding repeated
// allocation on broadcast fan-out."
type frameCache struct {
	c *fastcache.Cache
}

func newFrameCache() *frameCache {
	return &frameCache{c: fastcache.New(8 << 20)} // 8 MiB, a few hundred in-flight frames
}

func (f *frameCache) getOrEncode(key []byte, encode func() ([]byte, error)) ([]byte, error) {
	if v, ok := f.c.HasGet(nil, key); ok {
		return v, nil
	}
	body, err := encode()
	if err != nil {
		return nil, err
	}
	f.c.Set(key, body)
	return body, nil
}

// sendQueue is a per-peer FIFO of serialized frames with a single
// outstanding write, mirroring NetIOSend's queued_writes list plus
// sending flag: boost sockets (and net.Conn, by convention) do not
// support concurrent writes, so only one frame is ever in flight.
type sendQueue struct {
	mu      sync.Mutex
	conn    net.Conn
	queue   [][]byte
	sending bool
}

func newSendQueue(conn net.Conn) *sendQueue {
	return &sendQueue{conn: conn}
}

// Enqueue appends frame to the queue and starts draining it if nothing
// is currently being sent.
func (q *sendQueue) Enqueue(frame []byte) {
	q.mu.Lock()
	q.queue = append(q.queue, frame)
	start := !q.sending
	if start {
		q.sending = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
}

func (q *sendQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.sending = false
			q.mu.Unlock()
			return
		}
		next := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		if _, err := q.conn.Write(next); err != nil {
			q.mu.Lock()
			q.queue = nil
			q.sending = false
			q.mu.Unlock()
			return
		}
	}
}

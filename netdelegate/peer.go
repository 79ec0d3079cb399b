package netdelegate

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/delegatechain/core/epoch"
	"github.com/delegatechain/core/wire"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"
)

// heartbeatInterval is how often a peer with nothing else to send emits
// a HeartBeat to keep the inactivity timer from firing.
const heartbeatInterval = 15 * time.Second

// inactivityTimeout closes a socket that has not produced a single byte
// (data or HeartBeat) in this long.
const inactivityTimeout = 45 * time.Second

// ConnectedClientIds is the handshake every newly-dialed or newly-accepted
// socket exchanges before either side will bind it to a consensus slot.
type ConnectedClientIds struct {
	Epoch           uint32
	LocalDelegateID uint8
	IP              string
	ConnectionKind  epoch.Connection
}

// Peer is one authenticated channel to another delegate: a send queue
// plus a read loop delivering decoded frames to the owning Network.
type Peer struct {
	DelegateID uint8
	conn       net.Conn
	queue      *sendQueue
	limiter    *rate.Limiter
	log        log.Logger

	lastActivity chan struct{}
	closed       chan struct{}
}

// newPeer wraps an already-handshaken conn for delegateID.
func newPeer(delegateID uint8, conn net.Conn, logger log.Logger) *Peer {
	return &Peer{
		DelegateID:   delegateID,
		conn:         conn,
		queue:        newSendQueue(conn),
		limiter:      rate.NewLimiter(rate.Every(100*time.Millisecond), 20), // ~10 HeartBeat/PullRequest per second, bursts to 20
		log:          logger.New("peer", delegateID),
		lastActivity: make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
}

// Handshake exchanges ConnectedClientIds with the peer at the other end
// of conn and returns the remote side's claim. It precedes the
// MessageHeader-framed protocol entirely (a bare 4-byte length prefix
// plus RLP body), since the channel isn't bound to a consensus slot —
// and therefore has no ConsensusType to tag a header with — until this
// exchange completes. The handshake itself only establishes framing, not
// identity: BLS signatures on every subsequent consensus message are
// what actually authenticates a delegate's vote.
func Handshake(conn net.Conn, self ConnectedClientIds) (ConnectedClientIds, error) {
	body, err := wire.Encode(self)
	if err != nil {
		return ConnectedClientIds{}, err
	}
	lenPrefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenPrefix, uint32(len(body)))
	if _, err := conn.Write(append(lenPrefix, body...)); err != nil {
		return ConnectedClientIds{}, err
	}

	var remoteLen [4]byte
	if _, err := io.ReadFull(conn, remoteLen[:]); err != nil {
		return ConnectedClientIds{}, err
	}
	payload := make([]byte, binary.LittleEndian.Uint32(remoteLen[:]))
	if _, err := io.ReadFull(conn, payload); err != nil {
		return ConnectedClientIds{}, err
	}
	var remote ConnectedClientIds
	if err := wire.Decode(payload, &remote); err != nil {
		return ConnectedClientIds{}, fmt.Errorf("netdelegate: handshake decode: %w", err)
	}
	return remote, nil
}

// sendFrame enqueues an already-framed message for write.
func (p *Peer) sendFrame(b []byte) {
	p.queue.Enqueue(b)
}

// touch records inbound activity, feeding the inactivity watchdog.
func (p *Peer) touch() {
	select {
	case p.lastActivity <- struct{}{}:
	default:
	}
}

// runHeartbeat emits a HeartBeat on heartbeatInterval and closes conn if
// inactivityTimeout passes with no inbound activity. Runs until closed.
func (p *Peer) runHeartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	timeout := time.NewTimer(inactivityTimeout)
	defer ticker.Stop()
	defer timeout.Stop()

	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			header := wire.MessageHeader{Version: wire.WireVersion, Type: wire.MessageHeartBeat}
			hb, err := header.MarshalBinary()
			if err == nil {
				p.sendFrame(hb)
			}
		case <-p.lastActivity:
			if !timeout.Stop() {
				<-timeout.C
			}
			timeout.Reset(inactivityTimeout)
		case <-timeout.C:
			p.log.Warn("closing peer connection after inactivity timeout")
			p.Close()
			return
		}
	}
}

// Close tears down the peer's socket and read/heartbeat loops.
func (p *Peer) Close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
		p.conn.Close()
	}
}

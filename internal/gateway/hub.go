package gateway

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultQueueCapacity is the default bounded per-connection queue
// size spec.md §4.8 calls "size C, default 1024".
const DefaultQueueCapacity = 1024

// SecretProvider resolves the shared secret a gateway must present for
// a given network (spec.md §4.8's "Authentication" bullet). It is an
// interface so this package never imports internal/db directly; the
// httpapi/cmd wiring layer supplies an implementation backed by
// db.Network.GatewayPrivateKey.
type SecretProvider interface {
	NetworkSecret(networkID uint) (string, bool, error)
}

// Hub is the in-memory C8 fan-out core: one networkState per network,
// at most one live Conn per network, and the mutation API
// (AddPeer/RemovePeer/UpdatePeer) HTTP handlers and the enrollment
// service call to publish changes.
type Hub struct {
	secrets SecretProvider
	queueCap int

	mu       sync.RWMutex
	networks map[uint]*networkState
}

// NewHub constructs a Hub. queueCap <= 0 uses DefaultQueueCapacity.
func NewHub(secrets SecretProvider, queueCap int) *Hub {
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}
	return &Hub{secrets: secrets, queueCap: queueCap, networks: make(map[uint]*networkState)}
}

// networkState is the authoritative peer set for one network, plus
// its currently connected gateway, if any.
type networkState struct {
	mu      sync.Mutex
	peers   map[uint]Peer // deviceID -> Peer
	nextSeq uint64
	conn    *Conn
}

func (h *Hub) stateFor(networkID uint) *networkState {
	h.mu.Lock()
	defer h.mu.Unlock()
	ns, ok := h.networks[networkID]
	if !ok {
		ns = &networkState{peers: make(map[uint]Peer)}
		h.networks[networkID] = ns
	}
	return ns
}

// snapshotLocked builds a deterministically ordered full-state event.
// Callers must hold ns.mu.
func (ns *networkState) snapshotLocked(networkID uint) Event {
	peers := make([]Peer, 0, len(ns.peers))
	for _, p := range ns.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].DeviceID < peers[j].DeviceID })
	ns.nextSeq++
	return Event{Seq: ns.nextSeq, NetworkID: networkID, Type: EventReconcile, Snapshot: peers}
}

// Connect authenticates secret against networkID and installs a new
// Conn as that network's live gateway connection, superseding any
// prior one. The first message enqueued is always a Reconcile, per
// spec.md §4.8 ("Reconcile is sent on gateway (re)connection").
func (h *Hub) Connect(networkID uint, secret string) (*Conn, error) {
	expected, ok, err := h.secrets.NetworkSecret(networkID)
	if err != nil {
		return nil, fmt.Errorf("gateway: resolve network secret: %w", err)
	}
	if !ok || !constantTimeEqual(expected, secret) {
		return nil, errAuthFailed{networkID: networkID}
	}
	return h.install(networkID), nil
}

// ConnectLocal installs a new Conn for networkID without the
// secret/RPC handshake, for the embedded-mode LocalApplier (local.go)
// driving a wgctrl device in the same process as the control plane.
func (h *Hub) ConnectLocal(networkID uint) *Conn {
	return h.install(networkID)
}

// install supersedes networkID's live connection with a freshly
// created one and enqueues its opening Reconcile. Callers must have
// already authenticated, if authentication applies.
func (h *Hub) install(networkID uint) *Conn {
	ns := h.stateFor(networkID)
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.conn != nil {
		ns.conn.close()
	}

	conn := newConn(h, networkID, h.queueCap)
	ns.conn = conn

	reconcile := ns.snapshotLocked(networkID)
	conn.deliverLocked(reconcile)
	return conn
}

// Disconnect removes conn as networkID's live connection if it still
// is one. Called by the RPC server on stream teardown and by the Hub
// itself on backpressure.
func (h *Hub) Disconnect(conn *Conn) {
	ns := h.stateFor(conn.networkID)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.conn == conn {
		ns.conn = nil
	}
	conn.close()
}

// Ack advances conn's acked watermark, trimming its retained-unacked
// queue and clearing the reconcile-pending flag once the outstanding
// reconcile itself has been acked.
func (h *Hub) Ack(conn *Conn, seq uint64) {
	conn.ack(seq)
}

// AddPeer publishes a PeerAdded event and records peer as part of
// networkID's authoritative state.
func (h *Hub) AddPeer(networkID uint, peer Peer) {
	h.mutate(networkID, EventPeerAdded, peer)
}

// UpdatePeer publishes a PeerUpdated event (e.g. a preshared-key
// rotation, spec.md §4.7's MFA-on-network note).
func (h *Hub) UpdatePeer(networkID uint, peer Peer) {
	h.mutate(networkID, EventPeerUpdated, peer)
}

// RemovePeer publishes a PeerRemoved event and drops peer from
// networkID's authoritative state.
func (h *Hub) RemovePeer(networkID uint, deviceID uint) {
	ns := h.stateFor(networkID)
	ns.mu.Lock()
	removed, existed := ns.peers[deviceID]
	if !existed {
		removed = Peer{DeviceID: deviceID}
	}
	delete(ns.peers, deviceID)
	ns.nextSeq++
	evt := Event{Seq: ns.nextSeq, NetworkID: networkID, Type: EventPeerRemoved, Peer: &removed}
	conn := ns.conn
	ns.mu.Unlock()

	if conn != nil {
		h.deliver(conn, evt)
	}
}

func (h *Hub) mutate(networkID uint, evtType EventType, peer Peer) {
	ns := h.stateFor(networkID)
	ns.mu.Lock()
	ns.peers[peer.DeviceID] = peer
	ns.nextSeq++
	evt := Event{Seq: ns.nextSeq, NetworkID: networkID, Type: evtType, Peer: &peer}
	conn := ns.conn
	ns.mu.Unlock()

	if conn != nil {
		h.deliver(conn, evt)
	}
}

// deliver hands evt to conn, running the overflow/backpressure policy
// in conn.enqueue and disconnecting conn if it reports genuine
// backpressure.
func (h *Hub) deliver(conn *Conn, evt Event) {
	if conn.enqueue(evt) == enqueueBackpressure {
		h.Disconnect(conn)
	}
}

type errAuthFailed struct{ networkID uint }

func (e errAuthFailed) Error() string {
	return fmt.Sprintf("gateway: authentication failed for network %d", e.networkID)
}

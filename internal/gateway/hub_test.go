package gateway

import "testing"

type fixedSecrets map[uint]string

func (f fixedSecrets) NetworkSecret(networkID uint) (string, bool, error) {
	s, ok := f[networkID]
	return s, ok, nil
}

func TestConnectRejectsWrongSecret(t *testing.T) {
	hub := NewHub(fixedSecrets{1: "correct"}, 4)
	if _, err := hub.Connect(1, "wrong"); err == nil {
		t.Fatalf("expected connect with the wrong secret to fail")
	}
}

func TestConnectDeliversInitialReconcile(t *testing.T) {
	hub := NewHub(fixedSecrets{1: "s"}, 4)
	hub.AddPeer(1, Peer{DeviceID: 1, PublicKey: "pk1", AllowedIPs: []string{"10.0.0.1/32"}})

	conn, err := hub.Connect(1, "s")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	evt := <-conn.Send()
	if evt.Type != EventReconcile {
		t.Fatalf("expected first event to be a reconcile, got %s", evt.Type)
	}
	if len(evt.Snapshot) != 1 || evt.Snapshot[0].DeviceID != 1 {
		t.Fatalf("expected the reconcile to include the pre-existing peer, got %+v", evt.Snapshot)
	}
}

func TestAddPeerAfterConnectDeliversDelta(t *testing.T) {
	hub := NewHub(fixedSecrets{1: "s"}, 4)
	conn, err := hub.Connect(1, "s")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-conn.Send() // initial reconcile

	hub.AddPeer(1, Peer{DeviceID: 2, PublicKey: "pk2"})
	evt := <-conn.Send()
	if evt.Type != EventPeerAdded || evt.Peer == nil || evt.Peer.DeviceID != 2 {
		t.Fatalf("expected a PeerAdded delta for device 2, got %+v", evt)
	}
}

func TestSeqIsMonotonicPerNetwork(t *testing.T) {
	hub := NewHub(fixedSecrets{1: "s"}, 8)
	conn, err := hub.Connect(1, "s")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	reconcile := <-conn.Send()

	hub.AddPeer(1, Peer{DeviceID: 1})
	first := <-conn.Send()
	hub.AddPeer(1, Peer{DeviceID: 2})
	second := <-conn.Send()

	if first.Seq <= reconcile.Seq || second.Seq <= first.Seq {
		t.Fatalf("expected strictly increasing seq, got %d, %d, %d", reconcile.Seq, first.Seq, second.Seq)
	}
}

func TestReconnectSendsFreshReconcileAfterDeltas(t *testing.T) {
	hub := NewHub(fixedSecrets{1: "s"}, 8)
	first, err := hub.Connect(1, "s")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-first.Send() // initial reconcile

	hub.AddPeer(1, Peer{DeviceID: 1})
	<-first.Send()
	hub.RemovePeer(1, 1)
	<-first.Send()
	hub.AddPeer(1, Peer{DeviceID: 2})
	afterAdd := <-first.Send()

	second, err := hub.Connect(1, "s")
	if err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	reconcile := <-second.Send()
	if reconcile.Type != EventReconcile {
		t.Fatalf("expected a reconcile on reconnect, got %s", reconcile.Type)
	}
	if len(reconcile.Snapshot) != 1 || reconcile.Snapshot[0].DeviceID != 2 {
		t.Fatalf("expected the reconcile to reflect only device 2, got %+v", reconcile.Snapshot)
	}
	if reconcile.Seq <= afterAdd.Seq {
		t.Fatalf("expected reconcile seq %d to exceed the prior delta seq %d", reconcile.Seq, afterAdd.Seq)
	}

	select {
	case <-first.Done():
	default:
		t.Fatalf("expected the first connection to be closed once superseded")
	}
}

func TestQueueOverflowSendsReconcileInsteadOfDropping(t *testing.T) {
	hub := NewHub(fixedSecrets{1: "s"}, 2)
	conn, err := hub.Connect(1, "s")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Never ack: the unacked queue (capacity 2) holds the initial
	// reconcile, the first AddPeer fills it, and the second overflows.
	hub.AddPeer(1, Peer{DeviceID: 1})
	hub.AddPeer(1, Peer{DeviceID: 2}) // queue full: this becomes a reconcile
	hub.AddPeer(1, Peer{DeviceID: 3})

	// Drain: initial reconcile, the first delta, then the overflow reconcile.
	<-conn.Send()
	<-conn.Send()
	evt := <-conn.Send()
	if evt.Type != EventReconcile {
		t.Fatalf("expected overflow to replace pending deltas with a reconcile, got %s", evt.Type)
	}

	select {
	case <-conn.Done():
		t.Fatalf("expected the connection to survive a single overflow")
	default:
	}
}

func TestBackpressureWithUnackedReconcileDisconnects(t *testing.T) {
	hub := NewHub(fixedSecrets{1: "s"}, 1)
	conn, err := hub.Connect(1, "s")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Never drain conn.Send() or ack: the initial reconcile already
	// fills the capacity-1 unacked queue and is still unacked, so the very
	// next mutation finds no room and an outstanding reconcile already
	// in flight — genuine backpressure per spec.md §4.8.
	hub.AddPeer(1, Peer{DeviceID: 1})

	select {
	case <-conn.Done():
	default:
		t.Fatalf("expected overflow with an already-unacked reconcile to disconnect the connection")
	}
}

func TestAckTrimsPendingAndClearsReconcileFlag(t *testing.T) {
	hub := NewHub(fixedSecrets{1: "s"}, 8)
	conn, err := hub.Connect(1, "s")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	reconcile := <-conn.Send()
	hub.Ack(conn, reconcile.Seq)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.reconcilePending {
		t.Fatalf("expected reconcilePending to clear once the reconcile is acked")
	}
	if len(conn.pending) != 0 {
		t.Fatalf("expected pending to be empty after acking the only outstanding event, got %v", conn.pending)
	}
}

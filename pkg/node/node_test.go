package node

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/zephyrdht/internal/telemetry"
	"github.com/ryandielhenn/zephyrdht/pkg/krpc"
)

func listen(t *testing.T, id uint64) *Node {
	t.Helper()
	n, err := Listen(Config{
		ID:           krpc.NodeIDFromUint64(id),
		ListenAddr:   "127.0.0.1:0",
		SeenCapacity: 16,
		SeenTTL:      time.Minute,
		Logger:       zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

// client is a bare UDP socket standing in for a remote peer.
type client struct {
	conn *net.UDPConn
	self krpc.Node
}

func newClient(t *testing.T, id uint64) *client {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return &client{
		conn: conn,
		self: krpc.Node{
			ID:   krpc.NodeIDFromUint64(id),
			Addr: netip.AddrPortFrom(local.Addr().Unmap(), local.Port()),
		},
	}
}

func (c *client) send(t *testing.T, to netip.AddrPort, raw []byte) {
	t.Helper()
	if _, err := c.conn.WriteToUDPAddrPort(raw, to); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *client) query(t *testing.T, to netip.AddrPort, tid, method string) {
	t.Helper()
	b, err := krpc.Encode(krpc.Package{
		TransactionID: []byte(tid),
		Payload:       krpc.Query{Fields: krpc.Fields{krpc.MethodKey: []byte(method)}},
		Sender:        c.self,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	c.send(t, to, b)
}

func (c *client) read(t *testing.T) krpc.Package {
	t.Helper()
	buf := make([]byte, maxDatagram)
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	sz, _, err := c.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	p, err := krpc.Decode(buf[:sz])
	if err != nil {
		t.Fatalf("Decode reply %q: %v", buf[:sz], err)
	}
	return p
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestListenSelf(t *testing.T) {
	n := listen(t, 42)
	if !n.Self().ID.Equal(krpc.NodeIDFromUint64(42)) {
		t.Fatalf("self id = %s", n.Self().ID)
	}
	if !n.Addr().Addr().Is4() || n.Addr().Port() == 0 {
		t.Fatalf("self addr = %s, want bound IPv4 address", n.Addr())
	}
}

func TestListenRejectsIPv6(t *testing.T) {
	if _, err := Listen(Config{ID: krpc.NodeIDFromUint64(1), ListenAddr: "[::1]:0"}); err == nil {
		t.Fatalf("Listen on an IPv6 address succeeded")
	}
}

func TestAnswersPing(t *testing.T) {
	n := listen(t, 42)
	c := newClient(t, 7)

	c.query(t, n.Addr(), "pq", MethodPing)
	p := c.read(t)

	if string(p.TransactionID) != "pq" {
		t.Fatalf("transaction id = %q, want pq", p.TransactionID)
	}
	r, ok := p.Payload.(krpc.Response)
	if !ok {
		t.Fatalf("reply payload = %T, want Response", p.Payload)
	}
	if len(r.Fields) != 0 {
		t.Fatalf("ping reply fields = %v, want none", r.Fields)
	}
	if !p.Sender.Equal(n.Self()) {
		t.Fatalf("reply sender = %s, want %s", p.Sender, n.Self())
	}

	e, ok := n.Seen().Get(c.self.ID)
	if !ok {
		t.Fatalf("querying node not recorded")
	}
	if e.Node.Addr != c.self.Addr {
		t.Fatalf("recorded addr = %s, want %s", e.Node.Addr, c.self.Addr)
	}
}

func TestUnknownMethodGetsError(t *testing.T) {
	n := listen(t, 42)
	c := newClient(t, 7)

	c.query(t, n.Addr(), "fn", "find_node")
	p := c.read(t)

	e, ok := p.Payload.(krpc.Error)
	if !ok {
		t.Fatalf("reply payload = %T, want Error", p.Payload)
	}
	if e.Code != krpc.ErrCodeMethodUnknown {
		t.Fatalf("error code = %d, want %d", e.Code, krpc.ErrCodeMethodUnknown)
	}
	if string(p.TransactionID) != "fn" {
		t.Fatalf("transaction id = %q, want fn", p.TransactionID)
	}
}

func TestMalformedPacketDoesNotStopLoop(t *testing.T) {
	n := listen(t, 42)
	c := newClient(t, 7)

	malformed := telemetry.PacketsRejected.WithLabelValues(telemetry.ReasonMalformed)
	unknown := telemetry.PacketsRejected.WithLabelValues(telemetry.ReasonUnknownType)
	beforeMalformed := testutil.ToFloat64(malformed)
	beforeUnknown := testutil.ToFloat64(unknown)

	c.send(t, n.Addr(), []byte("garbage"))
	c.send(t, n.Addr(), []byte("d1:qd2:id3:abce1:t2:aa1:y1:qe"))
	c.send(t, n.Addr(), []byte("d1:t2:aa1:y1:ze"))
	c.query(t, n.Addr(), "ok", MethodPing)

	p := c.read(t)
	if string(p.TransactionID) != "ok" {
		t.Fatalf("first reply is for %q, want ok", p.TransactionID)
	}

	if got := testutil.ToFloat64(malformed) - beforeMalformed; got != 2 {
		t.Fatalf("malformed rejections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(unknown) - beforeUnknown; got != 1 {
		t.Fatalf("unknown type rejections = %v, want 1", got)
	}
}

func TestTwoNodesPing(t *testing.T) {
	a := listen(t, 1)
	b := listen(t, 2)

	tid, err := a.Ping(b.Addr())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if len(tid) != 2 {
		t.Fatalf("transaction id = %x, want 2 bytes", tid)
	}
	next, _ := a.Ping(b.Addr())
	if bytes.Equal(tid, next) {
		t.Fatalf("consecutive pings reused transaction id %x", tid)
	}

	eventually(t, "b to hear from a", func() bool {
		_, ok := b.Seen().Get(a.Self().ID)
		return ok
	})
	eventually(t, "a to hear b's reply", func() bool {
		_, ok := a.Seen().Get(b.Self().ID)
		return ok
	})
}

func TestHandlers(t *testing.T) {
	n := listen(t, 42)
	n.Seen().Observe(krpc.Node{ID: krpc.NodeIDFromUint64(9), Addr: netip.MustParseAddrPort("10.0.0.9:6881")}, 0)

	rec := httptest.NewRecorder()
	n.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	n.Info(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	var info struct {
		ID    string `json:"id"`
		Addr  string `json:"addr"`
		Nodes int    `json:"seen_nodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("info json: %v", err)
	}
	if info.ID != n.Self().ID.String() || info.Addr != n.Addr().String() || info.Nodes != 1 {
		t.Fatalf("info = %+v", info)
	}

	rec = httptest.NewRecorder()
	n.Peers(rec, httptest.NewRequest(http.MethodGet, "/peers", nil))
	var peers []peer
	if err := json.Unmarshal(rec.Body.Bytes(), &peers); err != nil {
		t.Fatalf("peers json: %v", err)
	}
	if len(peers) != 1 || peers[0].Addr != "10.0.0.9:6881" {
		t.Fatalf("peers = %+v", peers)
	}
}

func TestForgetPeer(t *testing.T) {
	n := listen(t, 42)
	id := krpc.NodeIDFromUint64(9)
	n.Seen().Observe(krpc.Node{ID: id, Addr: netip.MustParseAddrPort("10.0.0.9:6881")}, 0)
	n.Seen().Observe(krpc.Node{ID: id, Addr: netip.MustParseAddrPort("10.0.0.10:6881")}, 0)
	n.Seen().Observe(krpc.Node{ID: krpc.NodeIDFromUint64(7), Addr: netip.MustParseAddrPort("10.0.0.7:6881")}, 0)

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/peers/" + id.String(), http.StatusMethodNotAllowed},
		{http.MethodDelete, "/peers/zz", http.StatusBadRequest},
		{http.MethodDelete, "/peers/" + id.String(), http.StatusNoContent},
		{http.MethodDelete, "/peers/" + id.String(), http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		n.ForgetPeer(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}

	if _, ok := n.Seen().Get(id); ok {
		t.Fatalf("node %s still cached after delete", id)
	}
	if n.Seen().Len() != 1 {
		t.Fatalf("seen Len = %d, want 1", n.Seen().Len())
	}
}

package node

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrdht/internal/telemetry"
	"github.com/ryandielhenn/zephyrdht/pkg/krpc"
	"github.com/ryandielhenn/zephyrdht/pkg/seen"
)

// MethodPing is the only query method this node answers.
const MethodPing = "ping"

// maxDatagram bounds a single KRPC packet read from the socket.
const maxDatagram = 64 * 1024

type Config struct {
	ID           krpc.NodeID
	ListenAddr   string // UDP host:port, IPv4 only
	SeenCapacity int
	SeenTTL      time.Duration
	Logger       *zap.Logger
}

// Node is a KRPC endpoint bound to one UDP socket. It decodes every inbound
// datagram, remembers who it heard from and answers ping queries. Packets
// that fail to decode are counted and dropped; they never stop the loop.
type Node struct {
	conn *net.UDPConn
	self krpc.Node
	seen *seen.Cache
	ttl  time.Duration
	log  *zap.Logger
	tid  atomic.Uint32

	readStopped chan struct{}
}

// Listen binds the UDP socket and starts the read loop.
func Listen(cfg Config) (*Node, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	udpAddr, err := net.ResolveUDPAddr("udp4", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, err
	}
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	self := krpc.Node{
		ID:   cfg.ID,
		Addr: netip.AddrPortFrom(local.Addr().Unmap(), local.Port()),
	}
	// Fail early rather than on the first reply.
	if _, err := krpc.EncodeNode(self); err != nil {
		conn.Close()
		return nil, fmt.Errorf("self node: %w", err)
	}

	n := &Node{
		conn:        conn,
		self:        self,
		seen:        seen.New(cfg.SeenCapacity),
		ttl:         cfg.SeenTTL,
		log:         logger.With(zap.Stringer("self", self)),
		readStopped: make(chan struct{}),
	}
	go n.readLoop()
	n.log.Info("krpc endpoint listening")
	return n, nil
}

func (n *Node) Self() krpc.Node {
	return n.self
}

// Addr returns the bound UDP address.
func (n *Node) Addr() netip.AddrPort {
	return n.self.Addr
}

func (n *Node) Seen() *seen.Cache {
	return n.seen
}

func (n *Node) Close() error {
	err := n.conn.Close()
	select {
	case <-n.readStopped:
	case <-time.After(200 * time.Millisecond):
	}
	return err
}

// Send encodes p and writes it to addr. The sender is always this node.
func (n *Node) Send(to netip.AddrPort, p krpc.Package) error {
	p.Sender = n.self
	b, err := krpc.Encode(p)
	if err != nil {
		return fmt.Errorf("encode packet to %s: %w", to, err)
	}
	if _, err := n.conn.WriteToUDPAddrPort(b, to); err != nil {
		return err
	}
	telemetry.PacketsSent.WithLabelValues(p.Payload.Kind()).Inc()
	return nil
}

// Ping sends a ping query to addr and returns its transaction id. The reply,
// if any, shows up in the seen cache.
func (n *Node) Ping(to netip.AddrPort) ([]byte, error) {
	tid := n.nextTransactionID()
	err := n.Send(to, krpc.Package{
		TransactionID: tid,
		Payload:       krpc.Query{Fields: krpc.Fields{krpc.MethodKey: []byte(MethodPing)}},
	})
	return tid, err
}

func (n *Node) nextTransactionID() []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(n.tid.Add(1)))
	return b[:]
}

func (n *Node) readLoop() {
	defer close(n.readStopped)
	buf := make([]byte, maxDatagram)
	for {
		sz, from, err := n.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				n.log.Warn("read failed, stopping", zap.Error(err))
			}
			return
		}
		n.handle(buf[:sz], netip.AddrPortFrom(from.Addr().Unmap(), from.Port()))
	}
}

func (n *Node) handle(data []byte, from netip.AddrPort) {
	p, err := krpc.Decode(data)
	if err != nil {
		telemetry.ObserveRejected(err)
		n.log.Debug("dropping undecodable packet",
			zap.Stringer("from", from), zap.Int("size", len(data)), zap.Error(err))
		return
	}
	kind := p.Payload.Kind()
	telemetry.PacketsReceived.WithLabelValues(kind).Inc()

	switch pl := p.Payload.(type) {
	case krpc.Query:
		n.observe(p.Sender, from)
		n.answer(p, from)
	case krpc.Response:
		n.observe(p.Sender, from)
	case krpc.Error:
		n.log.Debug("peer reported error",
			zap.Stringer("from", from), zap.Int64("code", pl.Code), zap.String("message", pl.Message))
	default:
		panic(fmt.Sprintf("node: unexpected payload %T", pl))
	}
}

// observe records the sender under the id it claims and the address the
// packet actually came from.
func (n *Node) observe(sender krpc.Node, from netip.AddrPort) {
	contact := krpc.Node{ID: sender.ID, Addr: from}
	if n.seen.Observe(contact, n.ttl) {
		telemetry.SeenNodes.Set(float64(n.seen.Len()))
	}
}

func (n *Node) answer(q krpc.Package, from netip.AddrPort) {
	reply := krpc.Package{TransactionID: q.TransactionID}
	switch q.Method() {
	case MethodPing:
		reply.Payload = krpc.Response{Fields: krpc.Fields{}}
	default:
		reply.Payload = krpc.Error{Code: krpc.ErrCodeMethodUnknown, Message: "Method Unknown"}
	}
	if err := n.Send(from, reply); err != nil {
		n.log.Warn("reply failed", zap.Stringer("to", from), zap.Error(err))
	}
}

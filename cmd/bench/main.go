package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryandielhenn/zephyrdht/pkg/krpc"
	"github.com/ryandielhenn/zephyrdht/pkg/node"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6881", "node UDP address")
	n := flag.Int("n", 5000, "pings")
	conc := flag.Int("c", 32, "concurrency")
	timeout := flag.Duration("timeout", time.Second, "per-ping reply timeout")
	flag.Parse()

	target, err := node.ResolvePeer(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var ok, failed atomic.Int64
	var next atomic.Int64
	wg := sync.WaitGroup{}
	start := time.Now()

	for w := 0; w < *conc; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.ListenUDP("udp4", nil)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return
			}
			defer conn.Close()
			self := krpc.Node{ID: krpc.RandomNodeID(), Addr: conn.LocalAddr().(*net.UDPAddr).AddrPort()}
			buf := make([]byte, 64*1024)

			for {
				i := next.Add(1)
				if i > int64(*n) {
					return
				}
				if ping(conn, buf, self, target, uint32(i), *timeout) {
					ok.Add(1)
				} else {
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	dur := time.Since(start)
	fmt.Printf("Completed %d pings in %s (%.2f ops/s), %d failed\n",
		ok.Load(), dur, float64(ok.Load())/dur.Seconds(), failed.Load())
}

func ping(conn *net.UDPConn, buf []byte, self krpc.Node, to netip.AddrPort, seq uint32, timeout time.Duration) bool {
	tid := binary.BigEndian.AppendUint32(nil, seq)
	b, err := krpc.Encode(krpc.Package{
		TransactionID: tid,
		Payload:       krpc.Query{Fields: krpc.Fields{krpc.MethodKey: []byte(node.MethodPing)}},
		Sender:        self,
	})
	if err != nil {
		return false
	}
	if _, err := conn.WriteToUDPAddrPort(b, to); err != nil {
		return false
	}

	deadline := time.Now().Add(timeout)
	for {
		conn.SetReadDeadline(deadline)
		sz, _, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return false
		}
		p, err := krpc.Decode(buf[:sz])
		if err != nil || !bytes.Equal(p.TransactionID, tid) {
			// late reply to an earlier ping, or junk
			continue
		}
		_, isResp := p.Payload.(krpc.Response)
		return isResp
	}
}

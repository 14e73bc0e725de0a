// Package discovery bootstraps DHT nodes through etcd. Each node publishes
// its 26-byte compact node info under Prefix with a lease, so a crashed
// node drops out once its lease expires.
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrdht/pkg/krpc"
)

// Prefix is the etcd key prefix all registrations live under.
const Prefix = "/zephyrdht/nodes/"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

func nodeKey(id krpc.NodeID) string {
	return Prefix + id.String()
}

// RegisterNode publishes self under a lease of ttl seconds and keeps the
// lease alive until the returned cancel func is called.
func RegisterNode(ctx context.Context, cli *clientv3.Client, self krpc.Node, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	val, err := krpc.EncodeNode(self)
	if err != nil {
		return 0, nil, fmt.Errorf("register %s: %w", self, err)
	}
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, err
	}
	if _, err := cli.Put(ctx, nodeKey(self.ID), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, err
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, err
	}
	go func() {
		for range ch {
		}
	}()
	return lease.ID, cancel, nil
}

// GetPeers lists every registered node.
func GetPeers(ctx context.Context, cli *clientv3.Client, log *zap.Logger) ([]krpc.Node, error) {
	resp, err := cli.Get(ctx, Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	return decodePeers(resp.Kvs, log), nil
}

// WatchPeers calls fn with the full peer list once at start and again
// after every change under Prefix, until ctx is done.
func WatchPeers(ctx context.Context, cli *clientv3.Client, log *zap.Logger, fn func([]krpc.Node)) {
	if log == nil {
		log = zap.NewNop()
	}
	go func() {
		wch := cli.Watch(ctx, Prefix, clientv3.WithPrefix())
		if peers, err := GetPeers(ctx, cli, log); err == nil {
			fn(peers)
		} else {
			log.Warn("initial peer list failed", zap.Error(err))
		}
		for wr := range wch {
			if err := wr.Err(); err != nil {
				log.Warn("watch error", zap.Error(err))
				continue
			}
			peers, err := GetPeers(ctx, cli, log)
			if err != nil {
				log.Warn("refresh peers failed", zap.Error(err))
				continue
			}
			fn(peers)
		}
	}()
}

// decodePeers skips values that are not valid compact nodes; the registry
// is shared and may hold entries written by other versions.
func decodePeers(kvs []*mvccpb.KeyValue, log *zap.Logger) []krpc.Node {
	if log == nil {
		log = zap.NewNop()
	}
	peers := make([]krpc.Node, 0, len(kvs))
	for _, kv := range kvs {
		n, ok := krpc.DecodeNode(kv.Value)
		if !ok {
			log.Debug("skipping registry entry", zap.ByteString("key", kv.Key), zap.Int("size", len(kv.Value)))
			continue
		}
		peers = append(peers, n)
	}
	return peers
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrdht/discovery"
	"github.com/ryandielhenn/zephyrdht/internal/telemetry"
	"github.com/ryandielhenn/zephyrdht/pkg/krpc"
	"github.com/ryandielhenn/zephyrdht/pkg/node"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

type config struct {
	id            krpc.NodeID
	udpAddr       string
	httpAddr      string
	etcdEndpoints []string
	bootstrap     []string
	announceAddr  string
	seenCapacity  int
	seenTTL       time.Duration
	dev           bool
}

func loadConfig() (config, error) {
	cfg := config{
		udpAddr:      envOr("SELF_ADDR", "0.0.0.0:"+node.DefaultPort),
		httpAddr:     envOr("HTTP_ADDR", ":8080"),
		seenCapacity: 1024,
		seenTTL:      15 * time.Minute,
		dev:          os.Getenv("LOG_DEV") == "1",
	}

	if v := os.Getenv("SELF_ID"); v != "" {
		id, err := krpc.ParseNodeID(v)
		if err != nil {
			return cfg, fmt.Errorf("SELF_ID: %w", err)
		}
		cfg.id = id
	} else {
		cfg.id = krpc.RandomNodeID()
	}
	if v := os.Getenv("SEEN_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("SEEN_CAPACITY: %w", err)
		}
		cfg.seenCapacity = n
	}
	if v := os.Getenv("SEEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("SEEN_TTL: %w", err)
		}
		cfg.seenTTL = d
	}
	cfg.etcdEndpoints = splitList(os.Getenv("ETCD_ENDPOINTS"))
	cfg.bootstrap = splitList(os.Getenv("BOOTSTRAP"))
	cfg.announceAddr = os.Getenv("ANNOUNCE_ADDR")
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	telemetry.SetBuildInfo(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Bind the KRPC endpoint
	n, err := node.Listen(node.Config{
		ID:           cfg.id,
		ListenAddr:   cfg.udpAddr,
		SeenCapacity: cfg.seenCapacity,
		SeenTTL:      cfg.seenTTL,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("listen failed", zap.String("addr", cfg.udpAddr), zap.Error(err))
	}
	defer n.Close()

	// 2. Ping static bootstrap peers
	for _, b := range cfg.bootstrap {
		addr, err := node.ResolvePeer(b)
		if err != nil {
			logger.Warn("bad bootstrap peer", zap.String("peer", b), zap.Error(err))
			continue
		}
		if _, err := n.Ping(addr); err != nil {
			logger.Warn("bootstrap ping failed", zap.Stringer("peer", addr), zap.Error(err))
		}
	}

	// 3. Register with etcd and ping whoever else is registered
	if len(cfg.etcdEndpoints) > 0 {
		self := n.Self()
		if cfg.announceAddr != "" {
			addr, err := node.ResolvePeer(cfg.announceAddr)
			if err != nil {
				logger.Fatal("ANNOUNCE_ADDR", zap.Error(err))
			}
			self.Addr = addr
		}
		if err := joinRegistry(ctx, n, self, cfg.etcdEndpoints, logger); err != nil {
			logger.Fatal("etcd registry", zap.Error(err))
		}
	}

	// 4. Wire up HTTP endpoints
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/peers", telemetry.Instrument("peers", http.HandlerFunc(n.Peers)))
	mux.Handle("/peers/", telemetry.Instrument("forget_peer", http.HandlerFunc(n.ForgetPeer)))
	mux.Handle("/metrics", telemetry.MetricsHandler())

	srv := &http.Server{Addr: cfg.httpAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("http listening", zap.String("addr", cfg.httpAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server", zap.Error(err))
	}
}

// joinRegistry publishes self (the node as others should reach it) and pings
// every other registered node whenever the registry changes.
func joinRegistry(ctx context.Context, n *node.Node, self krpc.Node, endpoints []string, logger *zap.Logger) error {
	logger.Info("creating etcd client", zap.Strings("endpoints", endpoints))
	cli, err := discovery.NewClient(endpoints)
	if err != nil {
		return err
	}

	leaseID, cancel, err := discovery.RegisterNode(ctx, cli, self, 10)
	if err != nil {
		cli.Close()
		return err
	}
	go func() {
		<-ctx.Done()
		cancel()
		revokeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_, _ = cli.Revoke(revokeCtx, leaseID)
		cli.Close()
	}()

	discovery.WatchPeers(ctx, cli, logger, func(peers []krpc.Node) {
		for _, p := range peers {
			if p.ID.Equal(self.ID) {
				continue
			}
			if _, err := n.Ping(p.Addr); err != nil {
				logger.Warn("ping registered peer", zap.Stringer("peer", p), zap.Error(err))
			}
		}
	})
	return nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

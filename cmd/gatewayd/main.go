// Command gatewayd runs the object-store HTTP gateway: a consistent-
// hash placement ring in front of metadata shards and storage nodes.
// Flag/env/file layering, signal handling, and graceful shutdown
// follow gateway-main.go's shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/synapsestore/objectgw/internal/config"
	"github.com/synapsestore/objectgw/internal/handlers"
	"github.com/synapsestore/objectgw/internal/metrics"
	"github.com/synapsestore/objectgw/internal/pipeline"
	"github.com/synapsestore/objectgw/internal/ring"
	"github.com/synapsestore/objectgw/internal/shard"
	"github.com/synapsestore/objectgw/internal/shark"
	"github.com/synapsestore/objectgw/internal/storagechooser"
	"github.com/synapsestore/objectgw/internal/throttle"
)

func main() {
	v := viper.New()
	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "object store gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}
	config.BindFlags(root, v)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("gatewayd: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("gatewayd: logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EtcdEndpoints,
		DialTimeout: cfg.SocketTimeout,
	})
	if err != nil {
		return fmt.Errorf("gatewayd: etcd client: %w", err)
	}
	defer etcdClient.Close()

	placementRing, err := ring.New(ctx, &ring.EtcdSource{Client: etcdClient, Key: cfg.EtcdKey}, log)
	if err != nil {
		return fmt.Errorf("gatewayd: initial ring fetch: %w", err)
	}
	go placementRing.Run(ctx, cfg.RingPollInterval)

	pnodes := make([]string, 0, len(placementRing.Current().PnodeToVnodes))
	for pnode := range placementRing.Current().PnodeToVnodes {
		pnodes = append(pnodes, pnode)
	}
	shardPool := shard.NewPool(pnodes, func(pnode string) (shard.Client, error) {
		return shard.NewHTTPClient(pnode), nil
	})

	storageNodes, err := storagechooser.ParseNodes(cfg.StorageNodes)
	if err != nil {
		return fmt.Errorf("gatewayd: %w", err)
	}
	chooser := storagechooser.New(storageNodes)

	m := metrics.New()
	th := throttle.New(cfg.ThrottleSlots, cfg.ThrottleQueue, m.AsThrottleObserver())

	pc := &pipeline.Context{
		Log:            log,
		Ring:           placementRing,
		Shards:         shardPool,
		StorageChooser: chooser,
		StorageAgent:   shark.NewClient(),
		Authz:          nil,
		Config:         cfg,
		Probes:         m.AsThrottleObserver(),
	}

	apiServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handlers.NewRouter(pc, th, m),
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: m.Handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("gateway listening", zap.String("addr", cfg.ListenAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

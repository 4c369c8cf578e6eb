package redisholder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/config"
)

// Build connects to Redis and starts a health loop that swaps in a fresh
// client when pings fail. The loop stops and closes the client when ctx ends.
func Build(ctx context.Context, cfg config.RedisConfig, log *logrus.Entry) (*Holder, error) {
	log = log.WithField("component", "redis")

	cl, err := connect(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}

	h := NewHolder(cl)

	if cfg.HealthCheckInterval > 0 {
		go healthLoop(ctx, h, cfg, log)
	}

	return h, nil
}

func connect(ctx context.Context, cfg config.RedisConfig, log *logrus.Entry) (redis.UniversalClient, error) {
	switch cfg.Mode {
	case "cluster":
		return newClusterClient(ctx, cfg)
	case "single":
		return newClient(ctx, cfg)
	}

	cl, err := newClusterClient(ctx, cfg)
	if err == nil {
		return cl, nil
	}
	single, singleErr := newClient(ctx, cfg)
	if singleErr != nil {
		return nil, singleErr
	}
	log.WithError(err).Info("cluster client failed; using single-node client")
	return single, nil
}

func healthLoop(ctx context.Context, h *Holder, cfg config.RedisConfig, log *logrus.Entry) {
	log.WithField("interval", cfg.HealthCheckInterval).Info("health loop started")

	ping := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.Get().Ping(pingCtx).Err()
		cancel()

		if err == nil {
			log.Debug("ping ok")
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warn("ping failed; attempting reconnect")

		newCl, err := connect(ctx, cfg, log)
		if err != nil {
			log.WithError(err).Error("reconnect failed")
			return
		}

		if old := h.swap(newCl); old != nil {
			_ = old.Close()
		}
		log.Info("reconnected successfully")
	}

	t := time.NewTicker(cfg.HealthCheckInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = h.Close()
			log.WithError(ctx.Err()).Info("health loop stopped")
			return
		case <-t.C:
			ping()
		}
	}
}

func newClusterClient(ctx context.Context, cfg config.RedisConfig) (*redis.ClusterClient, error) {
	if len(cfg.Nodes) < 1 {
		return nil, errors.New("no nodes defined")
	}

	nodeAddrs := make([]string, 0, len(cfg.Nodes))
	for _, node := range cfg.Nodes {
		nodeAddrs = append(nodeAddrs, node.Addr())
	}

	cl := redis.NewClusterClient(&redis.ClusterOptions{
		RouteByLatency: true,
		Password:       cfg.Password,
		Addrs:          nodeAddrs,
		DialTimeout:    cfg.DialTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		PoolSize:       cfg.PoolSize,
		PoolTimeout:    30 * time.Second,
		MaxRetries:     5,
	})

	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("error pinging redis cluster: %w", err)
	}

	return cl, nil
}

func newClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	var stickyErr = errors.New("no nodes defined")

	for _, node := range cfg.Nodes {
		cl := redis.NewClient(&redis.Options{
			Addr:         node.Addr(),
			Password:     cfg.Password,
			DB:           cfg.DatabaseID,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
		})

		if err := cl.Ping(ctx).Err(); err != nil {
			_ = cl.Close()
			stickyErr = fmt.Errorf("error pinging redis server %s: %w", node.Addr(), err)
			continue
		}

		return cl, nil
	}

	return nil, stickyErr
}

package redisholder

import (
	"context"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/config"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func singleNodeConfig(t *testing.T, addr string) config.RedisConfig {
	t.Helper()
	host, port, _ := strings.Cut(addr, ":")
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return config.RedisConfig{
		Mode:        "single",
		DialTimeout: time.Second,
		ReadTimeout: time.Second,
		Nodes:       []config.RedisNode{{Host: host, Port: p}},
	}
}

func TestBuild_SingleNode(t *testing.T) {
	s := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := Build(ctx, singleNodeConfig(t, s.Addr()), quietLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := h.Get().Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.CheckGet(t, "k", "v")
}

func TestBuild_NoReachableNode(t *testing.T) {
	s := miniredis.RunT(t)
	cfg := singleNodeConfig(t, s.Addr())
	s.Close()

	if _, err := Build(context.Background(), cfg, quietLogger()); err == nil {
		t.Fatalf("expected error when no node answers")
	}
}

func TestHolder_Swap(t *testing.T) {
	a := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	b := redis.NewClient(&redis.Options{Addr: "127.0.0.1:2"})
	defer b.Close()

	h := NewHolder(a)
	if h.Reconnects() != 0 {
		t.Fatalf("fresh holder must report no reconnects")
	}
	if old := h.swap(b); old != a {
		t.Fatalf("swap must return the previous client")
	}
	if h.Get() != b {
		t.Fatalf("Get must return the new client")
	}
	if h.Reconnects() != 1 {
		t.Fatalf("Reconnects = %d, want 1", h.Reconnects())
	}
	_ = a.Close()
}

func TestHolder_Ping(t *testing.T) {
	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	h := NewHolder(rc)
	defer h.Close()

	if err := h.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	s.Close()
	if err := h.Ping(context.Background()); err == nil {
		t.Fatalf("Ping must fail once the server is gone")
	}
}

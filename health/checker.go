package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cluster "github.com/eth0jp/go-dbcluster"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// StatusSource is anything that can report pool status. *cluster.Pool
// implements it.
type StatusSource interface {
	Status() cluster.Status
}

type Config struct {
	// Pool is the pool name used in subjects.
	Pool string

	// Instance identifies this process in responses. Defaults to a random UUID.
	Instance string

	NATSURLs        []string
	NATSCredentials string
	Logger          *slog.Logger
}

func (c *Config) Validate() error {
	if c.Pool == "" {
		return fmt.Errorf("Pool is required")
	}
	if len(c.NATSURLs) == 0 {
		return fmt.Errorf("at least one NATS URL is required")
	}
	return nil
}

// Response is the reply to a status request.
type Response struct {
	Instance  string         `json:"instance"`
	Status    cluster.Status `json:"status"`
	UptimeMs  int64          `json:"uptimeMs"`
	Timestamp int64          `json:"timestamp"`
}

// Checker answers status requests for one pool over NATS request/reply.
type Checker struct {
	cfg       Config
	source    StatusSource
	logger    *slog.Logger
	subject   string
	mu        sync.RWMutex
	startedAt time.Time
	nc        *nats.Conn
	sub       *nats.Subscription
}

// StatusSubject returns the request subject for pool.
func StatusSubject(pool string) string {
	return fmt.Sprintf("dbcluster.%s.status", pool)
}

func NewChecker(cfg Config, source StatusSource) (*Checker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("status source is required")
	}
	if cfg.Instance == "" {
		cfg.Instance = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		cfg:     cfg,
		source:  source,
		logger:  logger.With("component", "health", "pool", cfg.Pool, "instance", cfg.Instance),
		subject: StatusSubject(cfg.Pool),
	}, nil
}

func connectOptions(cfg Config) []nats.Option {
	opts := []nats.Option{
		nats.Name("dbcluster-" + cfg.Pool),
	}
	if cfg.NATSCredentials != "" {
		opts = append(opts, nats.UserCredentials(cfg.NATSCredentials))
	}
	return opts
}

func (c *Checker) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc != nil {
		return nil
	}

	opts := append(connectOptions(c.cfg),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	nc, err := nats.Connect(strings.Join(c.cfg.NATSURLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}

	sub, err := nc.Subscribe(c.subject, c.handleRequest)
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe status subject: %w", err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		nc.Close()
		return fmt.Errorf("flush subscription: %w", err)
	}

	c.nc = nc
	c.sub = sub
	c.startedAt = time.Now()

	c.logger.Info("status responder started", "subject", c.subject)
	return nil
}

func (c *Checker) Stop() {
	c.mu.Lock()
	sub := c.sub
	nc := c.nc
	c.sub = nil
	c.nc = nil
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if nc != nil {
		nc.Close()
	}
	c.logger.Info("status responder stopped")
}

// Query asks any running Checker of pool for its status. It reuses the
// checker's connection when it has one.
func (c *Checker) Query(ctx context.Context, pool string, timeout time.Duration) (Response, error) {
	c.mu.RLock()
	nc := c.nc
	c.mu.RUnlock()

	if nc != nil && nc.IsConnected() {
		return request(ctx, nc, pool, timeout)
	}
	return Query(ctx, c.cfg, pool, timeout)
}

// Query connects with cfg's NATS settings and requests the status of pool.
func Query(ctx context.Context, cfg Config, pool string, timeout time.Duration) (Response, error) {
	if pool == "" {
		return Response{}, fmt.Errorf("pool is required")
	}
	if len(cfg.NATSURLs) == 0 {
		return Response{}, fmt.Errorf("at least one NATS URL is required")
	}

	opts := append(connectOptions(cfg), nats.Timeout(timeout))
	nc, err := nats.Connect(strings.Join(cfg.NATSURLs, ","), opts...)
	if err != nil {
		return Response{}, fmt.Errorf("connect NATS: %w", err)
	}
	defer nc.Close()
	return request(ctx, nc, pool, timeout)
}

func request(ctx context.Context, nc *nats.Conn, pool string, timeout time.Duration) (Response, error) {
	if pool == "" {
		return Response{}, fmt.Errorf("pool is required")
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := nc.RequestWithContext(reqCtx, StatusSubject(pool), nil)
	if err != nil {
		return Response{}, fmt.Errorf("request status of %s: %w", pool, err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode status response: %w", err)
	}
	return resp, nil
}

func (c *Checker) handleRequest(msg *nats.Msg) {
	if msg.Reply == "" {
		return
	}

	resp := c.buildResponse()
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("failed to marshal status response", "error", err)
		return
	}

	if err := msg.Respond(data); err != nil {
		c.logger.Error("failed to respond to status request", "error", err)
	}
}

func (c *Checker) buildResponse() Response {
	c.mu.RLock()
	startedAt := c.startedAt
	c.mu.RUnlock()

	now := time.Now()
	var uptimeMs int64
	if !startedAt.IsZero() {
		uptimeMs = now.Sub(startedAt).Milliseconds()
	}

	return Response{
		Instance:  c.cfg.Instance,
		Status:    c.source.Status(),
		UptimeMs:  uptimeMs,
		Timestamp: now.UnixMilli(),
	}
}

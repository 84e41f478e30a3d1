package signals

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HTTPProbe: здоров, если GET отвечает 2xx (например, /auth/session дашборда).
type HTTPProbe struct {
	url    string
	client *http.Client
}

func NewHTTPProbe(url string, client *http.Client) *HTTPProbe {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPProbe{url: url, client: client}
}

func (p *HTTPProbe) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("http probe: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http probe: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http probe: status %d", resp.StatusCode)
	}
	return nil
}

// RedisProbe: PING.
type RedisProbe struct {
	rdb *redis.Client
}

func NewRedisProbe(rdb *redis.Client) *RedisProbe {
	return &RedisProbe{rdb: rdb}
}

func (p *RedisProbe) Probe(ctx context.Context) error {
	if err := p.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis probe: %w", err)
	}
	return nil
}

// Pinger: *sql.DB и всё, что умеет PingContext.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type PostgresProbe struct {
	db Pinger
}

func NewPostgresProbe(db Pinger) *PostgresProbe {
	return &PostgresProbe{db: db}
}

func (p *PostgresProbe) Probe(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres probe: %w", err)
	}
	return nil
}

// GRPCProbe опрашивает стандартный grpc.health.v1 у внешнего сервиса.
type GRPCProbe struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
}

// NewGRPCProbe не устанавливает соединение сразу: grpc.NewClient подключается лениво.
func NewGRPCProbe(target, service string) (*GRPCProbe, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc probe %s: %w", target, err)
	}
	return &GRPCProbe{conn: conn, client: healthpb.NewHealthClient(conn), service: service}, nil
}

func (p *GRPCProbe) Probe(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return fmt.Errorf("grpc probe: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc probe: status %s", resp.GetStatus())
	}
	return nil
}

func (p *GRPCProbe) Close() error {
	return p.conn.Close()
}

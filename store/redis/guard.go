/*
Package redis provides a Redis-backed in-flight intent guard.

PURPOSE:
  Implements facade.Guard across processes: two engine instances signing
  as the same account must not both submit "processClaim:7". A key is
  held with SET NX and a TTL, so a crashed holder cannot block an intent
  forever. While the holder is alive the TTL is renewed every third of
  its length, so a confirmation that takes longer than the TTL does not
  let a second process in.

KEYS:
  <prefix><intent key>  ->  random owner token

  Release only deletes the key while it still holds this process's
  token, so an expired-then-reacquired key is never released by the
  previous holder.
*/
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/warp/claims-engine/facade"
)

const (
	DefaultPrefix = "claims:inflight:"
	DefaultTTL    = 10 * time.Minute
)

// renewScript extends KEYS[1] to ARGV[2] ms only if it still holds ARGV[1].
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes KEYS[1] only if it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Guard implements facade.Guard.
type Guard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	leases map[string]*lease
}

// lease is one held intent and its renewal loop.
type lease struct {
	token string
	stop  context.CancelFunc
	done  chan struct{}
}

var _ facade.Guard = (*Guard)(nil)

// Options configures a Guard. Zero values get the defaults. TTL bounds
// how long a crashed holder blocks an intent.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// New connects to Redis and checks the connection.
func New(ctx context.Context, opts Options) (*Guard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, opts), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, opts Options) *Guard {
	g := &Guard{
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		leases: make(map[string]*lease),
	}
	if g.prefix == "" {
		g.prefix = DefaultPrefix
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	return g
}

// Key is the Redis key holding intent.
func (g *Guard) Key(intent string) string {
	return g.prefix + intent
}

// Acquire claims intent. It returns false if another holder has it.
func (g *Guard) Acquire(ctx context.Context, intent string) (bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.Key(intent), token, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", intent, err)
	}
	if !ok {
		return false, nil
	}

	renewCtx, stop := context.WithCancel(context.Background())
	l := &lease{token: token, stop: stop, done: make(chan struct{})}
	go g.renew(renewCtx, intent, l)

	g.mu.Lock()
	g.leases[intent] = l
	g.mu.Unlock()
	return true, nil
}

// renew keeps the key alive until stopped or until the key is lost.
func (g *Guard) renew(ctx context.Context, intent string, l *lease) {
	defer close(l.done)

	interval := g.ttl / 3
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := renewScript.Run(ctx, g.client, []string{g.Key(intent)}, l.token, g.ttl.Milliseconds()).Int()
		if err != nil {
			// Transient; the next tick retries while the key still has TTL left.
			continue
		}
		if n == 0 {
			return
		}
	}
}

// Release gives intent back if this guard still holds it.
func (g *Guard) Release(ctx context.Context, intent string) error {
	g.mu.Lock()
	l, ok := g.leases[intent]
	delete(g.leases, intent)
	g.mu.Unlock()
	if !ok {
		return nil
	}
	l.stop()
	<-l.done

	if err := releaseScript.Run(ctx, g.client, []string{g.Key(intent)}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release %s: %w", intent, err)
	}
	return nil
}

// Close stops every renewal and closes the Redis connection. Keys still
// held expire after the TTL.
func (g *Guard) Close() error {
	g.mu.Lock()
	leases := g.leases
	g.leases = make(map[string]*lease)
	g.mu.Unlock()

	for _, l := range leases {
		l.stop()
		<-l.done
	}
	return g.client.Close()
}

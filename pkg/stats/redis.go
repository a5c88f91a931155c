package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps hit counters in Redis hashes:
//
//	<prefix>:total                  field per kind, never expires
//	<prefix>:minute:<yyyymmddhhmm>  field per kind, expires after ttl
//	<prefix>:animal:<name>          field per status code
type Redis struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = strings.Trim(prefix, ":") }
}

func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

func NewRedis(rdb redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:    rdb,
		prefix: "httpet:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := ev.Kind.String()

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.prefix+":total", field, 1)

	minuteKey := fmt.Sprintf("%s:minute:%s", r.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, minuteKey, field, 1)
	if r.ttl > 0 {
		pipe.Expire(ctx, minuteKey, r.ttl)
	}

	if ev.Animal != "" {
		codeField := "invalid"
		if ev.Code != 0 {
			codeField = ev.Code.String()
		}
		pipe.HIncrBy(ctx, r.prefix+":animal:"+ev.Animal, codeField, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

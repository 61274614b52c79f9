package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aluiziolira/go-scrape-figures/models"
)

const defaultRedisPrefix = "figscrape"

// upsertScript replaces the product hash and maintains the recency indexes
// in one atomic step. created_at survives every update. Every key it touches
// is declared, and all keys share the prefix hash tag, so the script also
// runs on a cluster. When the stored source no longer matches the one the
// caller read, it returns "stale" and the caller retries.
//
// KEYS: product hash, all-products zset, sources set, new source zset,
// previous source zset.
// ARGV: payload, source, now (unix nanos), expected previous source, id, score.
var upsertScript = redis.NewScript(`
local created = redis.call("HGET", KEYS[1], "created_at")
local previous = redis.call("HGET", KEYS[1], "source") or ""
if previous ~= ARGV[4] then
	return {"stale", ""}
end
local op = "updated"
if not created then
	created = ARGV[3]
	op = "inserted"
end
if previous ~= "" and previous ~= ARGV[2] then
	redis.call("ZREM", KEYS[5], ARGV[5])
end
redis.call("HSET", KEYS[1], "data", ARGV[1], "source", ARGV[2], "created_at", created, "updated_at", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[6], ARGV[5])
redis.call("ZADD", KEYS[4], ARGV[6], ARGV[5])
redis.call("SADD", KEYS[3], ARGV[2])
return {op, created}
`)

const upsertAttempts = 5

// Redis keeps each product in a hash, recency indexes in sorted sets and the
// ingestion log in streams.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// OpenRedis parses redisURL and verifies connectivity.
func OpenRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedis(client, defaultRedisPrefix), nil
}

// NewRedis wraps an existing client. All keys start with prefix, wrapped in
// a hash tag so they land in one cluster slot.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if !strings.HasPrefix(prefix, "{") {
		prefix = "{" + prefix + "}"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (s *Redis) productKey(id string) string { return s.prefix + ":product:" + id }
func (s *Redis) allKey() string { return s.prefix + ":products" }
func (s *Redis) sourcePrefix() string { return s.prefix + ":products:" }
func (s *Redis) sourcesKey() string { return s.prefix + ":sources" }
func (s *Redis) logKey(source string) string {
	if source == "" {
		return s.prefix + ":logs"
	}
	return s.prefix + ":logs:" + source
}

func (s *Redis) Upsert(ctx context.Context, p *models.Product) (UpsertResult, error) {
	if p == nil || p.ID == "" {
		return UpsertResult{}, ErrMissingID
	}
	data, err := json.Marshal(stripped(p))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encode product %s: %w", p.ID, err)
	}

	now := s.now().UTC()
	var reply []string
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		previous, err := s.client.HGet(ctx, s.productKey(p.ID), "source").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return UpsertResult{}, fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
		keys := []string{
			s.productKey(p.ID), s.allKey(), s.sourcesKey(),
			s.sourcePrefix() + p.Source, s.sourcePrefix() + previous,
		}
		reply, err = upsertScript.Run(ctx, s.client, keys,
			string(data), p.Source, strconv.FormatInt(now.UnixNano(), 10),
			previous, p.ID, now.UnixMicro(),
		).StringSlice()
		if err != nil {
			return UpsertResult{}, fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
		if len(reply) == 0 || reply[0] != "stale" {
			break
		}
	}
	if len(reply) > 0 && reply[0] == "stale" {
		return UpsertResult{}, fmt.Errorf("upsert product %s: source changed concurrently", p.ID)
	}
	if len(reply) != 2 {
		return UpsertResult{}, fmt.Errorf("upsert product %s: unexpected reply %v", p.ID, reply)
	}
	created, err := parseNanos(reply[1])
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return UpsertResult{
		ID:        p.ID,
		Operation: Operation(reply[0]),
		CreatedAt: created,
		UpdatedAt: now,
	}, nil
}

func (s *Redis) AppendLog(ctx context.Context, entry LogEntry) (string, error) {
	entry = prepareLog(entry, s.now())
	items, err := json.Marshal(entry.Items)
	if err != nil {
		return "", fmt.Errorf("encode log items: %w", err)
	}
	values := map[string]any{
		"id":              entry.ID,
		"source":          entry.Source,
		"keyword":         entry.Keyword,
		"state":           entry.State,
		"total_products":  entry.TotalProducts,
		"pages_processed": entry.PagesProcessed,
		"exhausted":       strconv.FormatBool(entry.Exhausted),
		"items":           string(items),
		"timestamp":       entry.CreatedAt.Format(time.RFC3339Nano),
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: s.logKey(""), Values: values})
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: s.logKey(entry.Source), Values: values})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return entry.ID, nil
}

func (s *Redis) Get(ctx context.Context, id string) (*models.Product, error) {
	vals, err := s.client.HMGet(ctx, s.productKey(id), "data", "created_at", "updated_at").Result()
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	p, err := decodeRedisProduct(vals)
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return p, nil
}

func (s *Redis) ListBySource(ctx context.Context, source string, limit int) ([]*models.Product, error) {
	index := s.allKey()
	if source != "" {
		index = s.sourcePrefix() + source
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, int64(clampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, s.productKey(id), "data", "created_at", "updated_at")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hmget: %w", err)
	}

	out := make([]*models.Product, 0, len(ids))
	for _, cmd := range cmds {
		p, err := decodeRedisProduct(cmd.Val())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Redis) RecentLogs(ctx context.Context, source string, limit int) ([]LogEntry, error) {
	messages, err := s.client.XRevRangeN(ctx, s.logKey(source), "+", "-", int64(clampLimit(limit))).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange: %w", err)
	}
	out := make([]LogEntry, 0, len(messages))
	for _, msg := range messages {
		out = append(out, parseLogMessage(msg))
	}
	return out, nil
}

func (s *Redis) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{BySource: make(map[string]int)}
	sources, err := s.client.SMembers(ctx, s.sourcesKey()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("smembers: %w", err)
	}

	var (
		total  *redis.IntCmd
		logs   *redis.IntCmd
		counts = make([]*redis.IntCmd, len(sources))
	)
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		total = pipe.ZCard(ctx, s.allKey())
		logs = pipe.XLen(ctx, s.logKey(""))
		for i, source := range sources {
			counts[i] = pipe.ZCard(ctx, s.sourcePrefix()+source)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}

	stats.Products = int(total.Val())
	stats.Logs = int(logs.Val())
	for i, source := range sources {
		if n := int(counts[i].Val()); n > 0 {
			stats.BySource[source] = n
		}
	}
	return stats, nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}

func decodeRedisProduct(vals []any) (*models.Product, error) {
	if len(vals) != 3 || vals[0] == nil {
		return nil, ErrNotFound
	}
	data, _ := vals[0].(string)
	var p models.Product
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	created, _ := vals[1].(string)
	updated, _ := vals[2].(string)
	var err error
	if p.CreatedAt, err = parseNanos(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseNanos(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func parseNanos(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return time.Unix(0, n).UTC(), nil
}

func parseLogMessage(msg redis.XMessage) LogEntry {
	str := func(key string) string {
		v, _ := msg.Values[key].(string)
		return v
	}
	num := func(key string) int {
		n, _ := strconv.Atoi(str(key))
		return n
	}
	entry := LogEntry{
		ID:             str("id"),
		Source:         str("source"),
		Keyword:        str("keyword"),
		State:          str("state"),
		TotalProducts:  num("total_products"),
		PagesProcessed: num("pages_processed"),
		Exhausted:      str("exhausted") == "true",
	}
	if ts, err := time.Parse(time.RFC3339Nano, str("timestamp")); err == nil {
		entry.CreatedAt = ts.UTC()
	}
	return entry
}

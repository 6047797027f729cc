package patientflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisPatientsKey = "patientflow:patients"
	redisOrderKey    = "patientflow:order"
	redisSeqKey      = "patientflow:seq"
)

// repoRedis keeps the floor in Redis for the length of a clinic session.
// Records live in one hash keyed by patient id; a sorted set keeps admission
// order. Every write pushes the expiry of all keys out by ttl.
type repoRedis struct {
	c   *redis.Client
	ttl time.Duration
}

// NewRepoRedis returns a Repository backed by Redis. A zero ttl keeps the
// keys forever.
func NewRepoRedis(c *redis.Client, ttl time.Duration) Repository {
	return &repoRedis{c: c, ttl: ttl}
}

func (r *repoRedis) Save(ctx context.Context, p *Patient) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode patient %s: %w", p.ID, err)
	}

	known, err := r.c.HExists(ctx, redisPatientsKey, p.ID).Result()
	if err != nil {
		return fmt.Errorf("save patient %s: %w", p.ID, err)
	}
	var seq int64
	if !known {
		if seq, err = r.c.Incr(ctx, redisSeqKey).Result(); err != nil {
			return fmt.Errorf("save patient %s: %w", p.ID, err)
		}
	}

	_, err = r.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisPatientsKey, p.ID, doc)
		if !known {
			pipe.ZAddNX(ctx, redisOrderKey, &redis.Z{Score: float64(seq), Member: p.ID})
		}
		r.touch(ctx, pipe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save patient %s: %w", p.ID, err)
	}
	return nil
}

func (r *repoRedis) touch(ctx context.Context, pipe redis.Pipeliner) {
	if r.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, redisPatientsKey, r.ttl)
	pipe.Expire(ctx, redisOrderKey, r.ttl)
	pipe.Expire(ctx, redisSeqKey, r.ttl)
}

func (r *repoRedis) List(ctx context.Context) ([]Patient, error) {
	ids, err := r.c.ZRange(ctx, redisOrderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := r.c.HMGet(ctx, redisPatientsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}

	out := make([]Patient, 0, len(docs))
	for i, d := range docs {
		s, ok := d.(string)
		if !ok {
			// order entry outlived its record
			continue
		}
		var p Patient
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return nil, fmt.Errorf("decode patient %s: %w", ids[i], err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *repoRedis) ReplaceAll(ctx context.Context, list []Patient) error {
	docs := make([]interface{}, 0, len(list)*2)
	members := make([]*redis.Z, 0, len(list))
	for i := range list {
		doc, err := json.Marshal(&list[i])
		if err != nil {
			return fmt.Errorf("encode patient %s: %w", list[i].ID, err)
		}
		docs = append(docs, list[i].ID, doc)
		members = append(members, &redis.Z{Score: float64(i + 1), Member: list[i].ID})
	}

	_, err := r.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisPatientsKey, redisOrderKey, redisSeqKey)
		if len(list) > 0 {
			pipe.HSet(ctx, redisPatientsKey, docs...)
			pipe.ZAdd(ctx, redisOrderKey, members...)
			pipe.Set(ctx, redisSeqKey, len(list), 0)
			r.touch(ctx, pipe)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace patients: %w", err)
	}
	return nil
}

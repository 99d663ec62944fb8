package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

var allStatuses = []schema.SessionStatus{
	schema.SessionRunning, schema.SessionPaused, schema.SessionCompleted, schema.SessionFailed,
}

// RedisStore keeps checkpoints as JSON strings with sorted-set indexes by
// status and by last update. Each save runs in one MULTI/EXEC block.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "strands:"
	}
	return &RedisStore{client: client, keyPrefix: prefix + "session:"}, nil
}

func (s *RedisStore) dataKey(id string) string     { return s.keyPrefix + "data:" + id }
func (s *RedisStore) snapshotKey(id string) string { return s.keyPrefix + "snapshot:" + id }
func (s *RedisStore) allKey() string               { return s.keyPrefix + "all" }
func (s *RedisStore) statusKey(st schema.SessionStatus) string {
	return s.keyPrefix + "status:" + string(st)
}

func (s *RedisStore) Load(ctx context.Context, id string) (*schema.SessionState, error) {
	data, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if err == redis.Nil {
		return nil, storeNotFound("session", id)
	}
	if err != nil {
		return nil, storeErr("load session", err)
	}
	var st schema.SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, storeErr("decode session", err)
	}
	return &st, nil
}

func (s *RedisStore) Save(ctx context.Context, state *schema.SessionState, specSnapshot []byte) error {
	if err := validateState(state); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return storeErr("encode session", err)
	}
	id := state.Metadata.SessionID
	score := float64(timeOr(state.Metadata.UpdatedAt, time.Now()).UnixNano())

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(id), data, 0)
		if specSnapshot != nil {
			pipe.SetNX(ctx, s.snapshotKey(id), specSnapshot, 0)
		}
		for _, st := range allStatuses {
			if st != state.Metadata.Status {
				pipe.ZRem(ctx, s.statusKey(st), id)
			}
		}
		pipe.ZAdd(ctx, s.statusKey(state.Metadata.Status), redis.Z{Score: score, Member: id})
		pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: id})
		return nil
	})
	if err != nil {
		return storeErr("save session", err)
	}
	return nil
}

func (s *RedisStore) LoadSpecSnapshot(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(id)).Bytes()
	if err == redis.Nil {
		return nil, storeNotFound("spec snapshot", id)
	}
	if err != nil {
		return nil, storeErr("load spec snapshot", err)
	}
	return data, nil
}

func (s *RedisStore) List(ctx context.Context, filter Filter) ([]*schema.SessionMetadata, error) {
	index := s.allKey()
	if filter.Status != "" {
		index = s.statusKey(filter.Status)
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, storeErr("list sessions", err)
	}

	all := make([]*schema.SessionMetadata, 0, len(ids))
	for _, id := range ids {
		st, err := s.Load(ctx, id)
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		all = append(all, &st.Metadata)
	}
	return filter.apply(all), nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, s.dataKey(id)).Result()
	if err != nil {
		return storeErr("delete session", err)
	}
	if n == 0 {
		return storeNotFound("session", id)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.dataKey(id), s.snapshotKey(id))
		pipe.ZRem(ctx, s.allKey(), id)
		for _, st := range allStatuses {
			pipe.ZRem(ctx, s.statusKey(st), id)
		}
		return nil
	})
	if err != nil {
		return storeErr("delete session", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error { return s.client.Close() }

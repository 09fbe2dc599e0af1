package audit

import (
	"encoding/json"
	"strconv"

	"github.com/garyburd/redigo/redis"
	"github.com/golang/groupcache/lru"
)

// auditKeyPrefix mirrors the teacher's driver/redis REDIS_PREFIX
// convention, namespaced for this module instead of job records.
const auditKeyPrefix = "peerslave:audit:"
const auditIndexKey = auditKeyPrefix + "index"

// auditCacheSize mirrors the teacher's driver/redis RedisDriver, which
// fronts every GET with a 1000-entry groupcache/lru.Cache.
const auditCacheSize = 1000

// RedisStore persists outcomes to Redis, grounded on the teacher's
// driver/redis.RedisDriver connection-pool pattern: one redis.Pool, Do
// calls checked out and returned per operation, with an in-process LRU
// in front of per-key GETs.
type RedisStore struct {
	pool  *redis.Pool
	cache *lru.Cache
}

// NewRedisStore dials server (host:port) through a small connection
// pool, the same pool size the teacher's RedisDriver uses.
func NewRedisStore(server string) *RedisStore {
	pool := redis.NewPool(func() (redis.Conn, error) {
		return redis.Dial("tcp", server)
	}, 3)
	return &RedisStore{pool: pool, cache: lru.New(auditCacheSize)}
}

func (r *RedisStore) Record(o JobOutcome) error {
	conn := r.pool.Get()
	defer conn.Close()

	seq, err := redis.Int64(conn.Do("INCR", auditKeyPrefix+"sequence"))
	if err != nil {
		return err
	}
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	key := auditKeyPrefix + strconv.FormatInt(seq, 10)
	if _, err := conn.Do("SET", key, data); err != nil {
		return err
	}
	if _, err := conn.Do("ZADD", auditIndexKey, o.FinishedAt.UnixNano(), key); err != nil {
		return err
	}
	r.cache.Add(key, o)
	return nil
}

func (r *RedisStore) Recent(limit int) ([]JobOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	conn := r.pool.Get()
	defer conn.Close()

	keys, err := redis.Strings(conn.Do("ZREVRANGE", auditIndexKey, 0, limit-1))
	if err != nil {
		return nil, err
	}
	out := make([]JobOutcome, 0, len(keys))
	for _, key := range keys {
		if val, hit := r.cache.Get(key); hit {
			out = append(out, val.(JobOutcome))
			continue
		}
		data, err := redis.Bytes(conn.Do("GET", key))
		if err != nil {
			continue
		}
		var o JobOutcome
		if err := json.Unmarshal(data, &o); err == nil {
			out = append(out, o)
			r.cache.Add(key, o)
		}
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.pool.Close()
}

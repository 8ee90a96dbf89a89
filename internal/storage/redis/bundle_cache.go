package redis

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/proofs"
)

// BundleCache 保存已生成的证明包。
type BundleCache interface {
	Put(ctx context.Context, bundle *proofs.Bundle) error
	Get(ctx context.Context, id uuid.UUID) (*proofs.Bundle, error)
	Close() error
}

// ErrBundleNotCached 表示缓存中没有该证明包，可能已过期。
var ErrBundleNotCached = xerrors.New(xerrors.CodeNotFound, "bundle not cached")

func encode(bundle *proofs.Bundle) ([]byte, error) {
	if bundle == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "bundle 不能为空")
	}
	raw, err := proofs.Marshal(bundle)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCacheFailure, err, "序列化证明包失败")
	}
	return snappy.Encode(nil, raw), nil
}

func decode(data []byte) (*proofs.Bundle, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCacheFailure, err, "解压证明包失败")
	}
	bundle, err := proofs.Unmarshal(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCacheFailure, err, "解析缓存证明包失败")
	}
	return bundle, nil
}

type kvClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Close() error
}

// RedisConfig 描述 Redis 缓存连接参数。
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisBundleCache 将证明包写入 Redis 并设置过期时间。
type RedisBundleCache struct {
	client kvClient
	prefix string
	ttl    time.Duration
}

// NewRedisBundleCache 连接 Redis 并校验可用性。
func NewRedisBundleCache(ctx context.Context, cfg RedisConfig) (*RedisBundleCache, error) {
	if cfg.Addr == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis 地址不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return newRedisBundleCache(client, cfg.KeyPrefix, cfg.TTL), nil
}

func newRedisBundleCache(client kvClient, prefix string, ttl time.Duration) *RedisBundleCache {
	if prefix == "" {
		prefix = "behavior:bundle:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisBundleCache{client: client, prefix: prefix, ttl: ttl}
}

// String 用于日志输出缓存后端。
func (c *RedisBundleCache) String() string {
	return fmt.Sprintf("redis(prefix=%s, ttl=%s)", c.prefix, c.ttl)
}

func (c *RedisBundleCache) key(id uuid.UUID) string {
	return c.prefix + id.String()
}

// Put 写入证明包。
func (c *RedisBundleCache) Put(ctx context.Context, bundle *proofs.Bundle) error {
	data, err := encode(bundle)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(bundle.ID), data, c.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "写入 Redis 失败", xerrors.WithRetryable(true))
	}
	return nil
}

// Get 读取证明包，未命中时返回 ErrBundleNotCached。
func (c *RedisBundleCache) Get(ctx context.Context, id uuid.UUID) (*proofs.Bundle, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if stdErrors.Is(err, goredis.Nil) {
			return nil, ErrBundleNotCached
		}
		return nil, xerrors.Wrap(xerrors.CodeCacheFailure, err, "读取 Redis 失败", xerrors.WithRetryable(true))
	}
	return decode(data)
}

// Close 关闭 Redis 连接。
func (c *RedisBundleCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// LocalBundleCache 使用 fastcache 在进程内保存证明包，超出容量时淘汰旧数据。
type LocalBundleCache struct {
	cache *fastcache.Cache
}

// NewLocalBundleCache 创建容量为 maxBytes 的本地缓存。
func NewLocalBundleCache(maxBytes int) *LocalBundleCache {
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &LocalBundleCache{cache: fastcache.New(maxBytes)}
}

// Put 写入证明包。
func (c *LocalBundleCache) Put(_ context.Context, bundle *proofs.Bundle) error {
	data, err := encode(bundle)
	if err != nil {
		return err
	}
	c.cache.SetBig(bundle.ID[:], data)
	return nil
}

// Get 读取证明包。
func (c *LocalBundleCache) Get(_ context.Context, id uuid.UUID) (*proofs.Bundle, error) {
	data := c.cache.GetBig(nil, id[:])
	if len(data) == 0 {
		return nil, ErrBundleNotCached
	}
	return decode(data)
}

// Close 释放缓存占用的内存。
func (c *LocalBundleCache) Close() error {
	c.cache.Reset()
	return nil
}

// String 用于日志输出缓存后端。
func (c *LocalBundleCache) String() string {
	var stats fastcache.Stats
	c.cache.UpdateStats(&stats)
	return fmt.Sprintf("fastcache(entries=%d, bytes=%d)", stats.EntriesCount, stats.BytesSize)
}

var (
	_ BundleCache = (*RedisBundleCache)(nil)
	_ BundleCache = (*LocalBundleCache)(nil)
)

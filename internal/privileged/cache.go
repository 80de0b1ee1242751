package privileged

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/protocol"
)

// DefaultCompressThreshold is the encoded size at which values are stored
// compressed.
const DefaultCompressThreshold = 64 << 10

// CacheConfig tunes a Cache.
type CacheConfig struct {
	// Wait bounds how long a cacheGet for an absent key waits for a
	// cacheSet. Zero answers absent keys immediately with a miss.
	Wait              time.Duration
	CompressThreshold int
	Metrics           Metrics
	Logger            *logging.Logger
}

type entry struct {
	data       []byte
	compressed bool
}

type waiter struct {
	token int64
	reply func(protocol.Message)
	timer eventloop.Timer
}

// Cache holds values page content hands across the boundary so that other
// documents can fetch them later. Values are stored encoded, which gives
// every reader its own copy.
type Cache struct {
	sched     eventloop.Scheduler
	wait      time.Duration
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	metrics   Metrics
	logger    *logging.Logger

	entries map[string]entry
	waiters map[string][]*waiter
}

// NewCache creates an empty cache whose wait timers run on sched.
func NewCache(sched eventloop.Scheduler, cfg CacheConfig) (*Cache, error) {
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &Cache{
		sched:     sched,
		wait:      cfg.Wait,
		threshold: cfg.CompressThreshold,
		enc:       enc,
		dec:       dec,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.Named("cache"),
		entries:   make(map[string]entry),
		waiters:   make(map[string][]*waiter),
	}, nil
}

// Set stores value under key and answers everyone waiting for it.
func (c *Cache) Set(key string, value any) {
	data, err := sonic.Marshal(value)
	if err != nil {
		c.logger.Warn("cacheSet value not serializable", zap.String("key", key), zap.Error(err))
		return
	}

	e := entry{data: data}
	if len(data) >= c.threshold {
		e.data = c.enc.EncodeAll(data, make([]byte, 0, len(data)/4))
		e.compressed = true
	}
	c.entries[key] = e
	c.logger.Debug("cacheSet",
		zap.String("key", key),
		zap.Int("bytes", len(data)),
		zap.Int("stored", len(e.data)),
	)

	waiting := c.waiters[key]
	delete(c.waiters, key)
	for _, w := range waiting {
		w.timer.Stop()
		c.answer(key, w.token, w.reply)
	}
}

// Get answers token with the value under key. An absent key parks the
// request until Set or the wait bound, whichever comes first.
func (c *Cache) Get(key string, token int64, reply func(protocol.Message)) {
	if _, ok := c.entries[key]; ok {
		c.answer(key, token, reply)
		return
	}
	if c.wait <= 0 {
		c.miss(key, token, reply)
		return
	}

	w := &waiter{token: token, reply: reply}
	w.timer = c.sched.AfterFunc(c.wait, func() { c.expire(key, w) })
	c.waiters[key] = append(c.waiters[key], w)
}

// Len is the number of stored keys.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Waiting is the number of parked requests.
func (c *Cache) Waiting() int {
	n := 0
	for _, ws := range c.waiters {
		n += len(ws)
	}
	return n
}

// Close stops pending wait timers and releases the codecs. Parked requests
// are never answered.
func (c *Cache) Close() {
	for key, ws := range c.waiters {
		for _, w := range ws {
			w.timer.Stop()
		}
		delete(c.waiters, key)
	}
	c.enc.Close()
	c.dec.Close()
}

func (c *Cache) expire(key string, w *waiter) {
	ws := c.waiters[key]
	for i, candidate := range ws {
		if candidate != w {
			continue
		}
		ws = append(ws[:i], ws[i+1:]...)
		if len(ws) == 0 {
			delete(c.waiters, key)
		} else {
			c.waiters[key] = ws
		}
		c.miss(key, w.token, w.reply)
		return
	}
}

func (c *Cache) answer(key string, token int64, reply func(protocol.Message)) {
	value, err := c.load(key)
	if err != nil {
		c.logger.Error("cached value unreadable", zap.String("key", key), zap.Error(err))
		c.miss(key, token, reply)
		return
	}
	c.metrics.CacheLookup(true)
	reply(protocol.NewCacheGetHit(token, value))
}

func (c *Cache) miss(key string, token int64, reply func(protocol.Message)) {
	c.logger.Debug("cacheGet miss", zap.String("key", key), zap.Int64("token", token))
	c.metrics.CacheLookup(false)
	reply(protocol.NewCacheGetMiss(token))
}

func (c *Cache) load(key string) (any, error) {
	e := c.entries[key]
	data := e.data
	if e.compressed {
		var err error
		data, err = c.dec.DecodeAll(e.data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
	}
	var value any
	if err := sonic.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return value, nil
}

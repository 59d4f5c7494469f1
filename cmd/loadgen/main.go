package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/hottrack/internal/access"
)

type Config struct {
	Mode       string
	Target     string
	Brokers    []string
	Topic      string
	Domain     string
	Objects    uint64
	RangeSize  uint64
	MaxRanges  uint64
	WriteRatio float64
	ZipfS      float64
	ZipfV      float64
	Rate       int
	Batch      int
	Duration   time.Duration
	RedisAddr  string
	Prefix     string
	Seed       int64
}

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func loadConfig() Config {
	var cfg Config
	var brokers string
	flag.StringVar(&cfg.Mode, "mode", "kafka", "Delivery: kafka|http")
	flag.StringVar(&cfg.Target, "target", getenv("HOTTRACK_URL", "http://localhost:8090"), "hottrackd base URL (http mode)")
	flag.StringVar(&brokers, "brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "Comma separated Kafka brokers")
	flag.StringVar(&cfg.Topic, "topic", getenv("KAFKA_TOPIC", "hottrack-access"), "Access event topic")
	flag.StringVar(&cfg.Domain, "domain", "default", "Tracked domain")
	flag.Uint64Var(&cfg.Objects, "objects", 10000, "Distinct object ids")
	flag.Uint64Var(&cfg.RangeSize, "range-size", 1<<20, "Range size the daemon tracks, in bytes")
	flag.Uint64Var(&cfg.MaxRanges, "max-ranges", 64, "Ranges per object offsets are drawn from")
	flag.Float64Var(&cfg.WriteRatio, "write-ratio", 0.2, "Fraction of writes")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.2, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.Rate, "rate", 500, "Accesses per second")
	flag.IntVar(&cfg.Batch, "batch", 50, "Accesses per HTTP request")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "Run duration")
	flag.StringVar(&cfg.RedisAddr, "redis", getenv("REDIS_ADDR", ""), "Redis address to print the exported top objects from")
	flag.StringVar(&cfg.Prefix, "prefix", "hottrack", "Redis key prefix")
	flag.Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()
	cfg.Brokers = strings.Split(brokers, ",")
	return cfg
}

// generator draws object ids from a zipf distribution so a few objects stay
// hot, and offsets from a second zipf over the object's ranges.
type generator struct {
	cfg    Config
	r      *rand.Rand
	object *rand.Zipf
	rng    *rand.Zipf
}

func newGenerator(cfg Config) *generator {
	r := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // load shape only
	return &generator{
		cfg:    cfg,
		r:      r,
		object: rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, max(cfg.Objects, 1)-1),
		rng:    rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, max(cfg.MaxRanges, 1)-1),
	}
}

func (g *generator) next() access.Event {
	op := access.OpRead
	if g.r.Float64() < g.cfg.WriteRatio {
		op = access.OpWrite
	}
	rangeIdx := g.rng.Uint64()
	return access.Event{
		Version:  1,
		Domain:   g.cfg.Domain,
		ObjectID: g.object.Uint64() + 1,
		Offset:   rangeIdx*g.cfg.RangeSize + uint64(g.r.Int63n(int64(g.cfg.RangeSize))),
		Length:   uint64(g.r.Intn(16)+1) * 4096,
		Op:       op,
		TS:       time.Now().UTC(),
	}
}

type sender interface {
	send(ctx context.Context, evs []access.Event) error
	Close() error
}

type kafkaSender struct {
	prod  sarama.SyncProducer
	topic string
}

func newKafkaSender(brokers []string, topic string) (*kafkaSender, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("producer create: %w", err)
	}
	return &kafkaSender{prod: prod, topic: topic}, nil
}

func (k *kafkaSender) send(_ context.Context, evs []access.Event) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(evs))
	for _, ev := range evs {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(fmt.Sprintf("%s/%d", ev.Domain, ev.ObjectID)),
			Value: sarama.ByteEncoder(b),
		})
	}
	return k.prod.SendMessages(msgs)
}

func (k *kafkaSender) Close() error { return k.prod.Close() }

type httpSender struct {
	client *http.Client
	url    string
}

type httpAccess struct {
	ObjectID uint64 `json:"object_id"`
	Offset   uint64 `json:"offset"`
	Length   uint64 `json:"length"`
	Op       string `json:"op"`
}

func newHTTPSender(base, domain string) *httpSender {
	return &httpSender{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    strings.TrimRight(base, "/") + "/v1/domains/" + domain + "/access",
	}
}

func (h *httpSender) send(ctx context.Context, evs []access.Event) error {
	batch := make([]httpAccess, len(evs))
	for i, ev := range evs {
		batch[i] = httpAccess{ObjectID: ev.ObjectID, Offset: ev.Offset, Length: ev.Length, Op: ev.Op}
	}
	body, err := json.Marshal(map[string]any{"accesses": batch})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (h *httpSender) Close() error { return nil }

func run(ctx context.Context, cfg Config, s sender) (sent, failed int) {
	gen := newGenerator(cfg)
	batch := max(cfg.Batch, 1)
	perTick := max(cfg.Rate/10, 1)
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return sent, failed
		case <-t.C:
		}
		for left := perTick; left > 0; left -= batch {
			n := min(left, batch)
			evs := make([]access.Event, n)
			for i := range evs {
				evs[i] = gen.next()
			}
			if err := s.send(ctx, evs); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return sent, failed
				}
				failed += n
				fmt.Println("send error:", err)
				continue
			}
			sent += n
		}
	}
}

func printTop(ctx context.Context, addr, prefix, domain string) error {
	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 2 * time.Second})
	defer func() { _ = client.Close() }()

	key := fmt.Sprintf("%s:%s:object", prefix, domain)
	top, err := client.ZRevRangeWithScores(ctx, key, 0, 9).Result()
	if err != nil {
		return fmt.Errorf("redis zrevrange %s: %w", key, err)
	}
	fmt.Printf("hottest objects in %s:\n", key)
	for i, z := range top {
		fmt.Printf("%2d. %v temperature=%.0f\n", i+1, z.Member, z.Score)
	}
	return nil
}

func main() {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var s sender
	switch cfg.Mode {
	case "kafka":
		ks, err := newKafkaSender(cfg.Brokers, cfg.Topic)
		if err != nil {
			fmt.Println("Kafka error:", err)
			os.Exit(1)
		}
		s = ks
	case "http":
		s = newHTTPSender(cfg.Target, cfg.Domain)
	default:
		fmt.Println("unknown mode:", cfg.Mode)
		os.Exit(2)
	}
	defer func() { _ = s.Close() }()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	start := time.Now()
	sent, failed := run(runCtx, cfg, s)
	fmt.Printf("sent=%d failed=%d elapsed=%s\n", sent, failed, time.Since(start).Round(time.Millisecond))

	if cfg.RedisAddr != "" {
		rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
		defer rcancel()
		if err := printTop(rctx, cfg.RedisAddr, cfg.Prefix, cfg.Domain); err != nil {
			fmt.Println("Redis error:", err)
		}
	}
}

package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env       string
	LogLevel  string
	HTTPAddr  string
	CORSAllow []string // also the websocket origin allow list
	StaticDir string

	RedisAddr  string // host:port, empty disables the activity feed
	RedisDB    int
	FeedPrefix string
	FeedBuffer int

	MaskVotes bool

	WSSendBuffer   int
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration
	WSReadLimit    int64

	RateLimit int // connection attempts per IP per minute
}

func LoadConfig() Config {
	cfg := Config{
		Env:        getEnv("APP_ENV", "dev"),
		HTTPAddr:   getEnv("HTTP_ADDR", ":8000"),
		StaticDir:  getEnv("STATIC_DIR", ""),
		RedisAddr:  getEnv("REDIS_ADDR", ""),
		FeedPrefix: getEnv("FEED_PREFIX", "poker"),
	}
	// PORT wins over HTTP_ADDR (PaaS style)
	if p := os.Getenv("PORT"); p != "" {
		cfg.HTTPAddr = ":" + p
	}
	cfg.LogLevel = getEnv("LOG_LEVEL", defaultLevel(cfg.Env))
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.FeedBuffer = getEnvInt("FEED_BUFFER", 256)
	cfg.MaskVotes = getEnvBool("MASK_VOTES", false)
	cfg.WSSendBuffer = getEnvInt("WS_SEND_BUFFER", 64)
	cfg.WSPingInterval = getEnvDuration("WS_PING_INTERVAL", 20*time.Second)
	cfg.WSWriteTimeout = getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second)
	cfg.WSReadLimit = int64(getEnvInt("WS_READ_LIMIT", 4096))
	cfg.RateLimit = getEnvInt("RATE_LIMIT", 60)
	cfg.CORSAllow = splitCSV(getEnv("CORS_ALLOW", "*"))
	return cfg
}

// String renders the config for the startup log line.
func (c Config) String() string {
	return fmt.Sprintf("env=%s addr=%s redis=%q mask=%t send_buffer=%d ping=%s rate=%d/min cors=%v",
		c.Env, c.HTTPAddr, c.RedisAddr, c.MaskVotes, c.WSSendBuffer, c.WSPingInterval, c.RateLimit, c.CORSAllow)
}

func defaultLevel(env string) string {
	if env == "prod" {
		return "info"
	}
	return "debug"
}

// getEnv returns the env var or a default
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getEnvInt parses an int env var with a fallback
func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i >= 0 {
			return i
		}
	}
	return def
}

func getEnvBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

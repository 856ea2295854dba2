package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	xutil "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/util"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ScannerSettings overrides one scanner's defaults. A nil Enabled keeps the default.
type ScannerSettings struct {
	ID         string             `yaml:"id"`
	Enabled    *bool              `yaml:"enabled"`
	Timeframe  string             `yaml:"timeframe"`
	Parameters map[string]float64 `yaml:"parameters"`
}

type Config struct {
	Environment string `yaml:"environment"`
	Log         struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Output    string `yaml:"output"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval"`
			Threshold int           `yaml:"threshold"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Engine struct {
		Interval         time.Duration `yaml:"interval"`
		Workers          int           `yaml:"workers"`
		ScannerTimeout   time.Duration `yaml:"scanner_timeout"`
		ScannerBudget    time.Duration `yaml:"scanner_budget"`
		MaxAttempts      int           `yaml:"max_attempts"`
		BaseDelay        time.Duration `yaml:"base_delay"`
		MaxDelay         time.Duration `yaml:"max_delay"`
		RunOnStart       *bool         `yaml:"run_on_start"`
		PauseWhenIdle    bool          `yaml:"pause_when_idle"`
		IdleThreshold    time.Duration `yaml:"idle_threshold"`
		MarketHoursOnly  bool          `yaml:"market_hours_only"`
		RecentErrorLimit int           `yaml:"recent_error_limit"`
		StopTimeout      time.Duration `yaml:"stop_timeout"`
	} `yaml:"engine"`
	Scanners []ScannerSettings `yaml:"scanners"`
	Universe struct {
		Symbols []string `yaml:"symbols"`
		Limit   int      `yaml:"limit"`
	} `yaml:"universe"`
	MarketData struct {
		BaseURL       string        `yaml:"base_url"`
		Timeout       time.Duration `yaml:"timeout"`
		RatePerSecond float64       `yaml:"rate_per_second"`
		Burst         int           `yaml:"burst"`
		CacheTTL      time.Duration `yaml:"cache_ttl"`
	} `yaml:"market_data"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Topics       struct {
			Snapshots string `yaml:"snapshots"`
			Control   string `yaml:"control"`
			Logs      string `yaml:"logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
		Table            string        `yaml:"table"`
		TTLDays          int           `yaml:"ttl_days"`
	} `yaml:"clickhouse"`
	Telegram struct {
		Enabled  bool          `yaml:"enabled"`
		BotToken string        `yaml:"bot_token"`
		ChatID   string        `yaml:"chat_id"`
		APIURL   string        `yaml:"api_url"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"telegram"`
	Notifications struct {
		Enabled     bool          `yaml:"enabled"`
		Delivery    string        `yaml:"delivery"` // direct or queue
		MinInterval time.Duration `yaml:"min_interval"`
		DedupWindow time.Duration `yaml:"dedup_window"`
		Queue       struct {
			Workers    int           `yaml:"workers"`
			RetryLimit int           `yaml:"retry_limit"`
			RetryDelay time.Duration `yaml:"retry_delay"`
		} `yaml:"queue"`
	} `yaml:"notifications"`
	Pipeline struct {
		BufferSize int           `yaml:"buffer_size"`
		MaxRetries int           `yaml:"max_retries"`
		BackoffMin time.Duration `yaml:"backoff_min"`
		BackoffMax time.Duration `yaml:"backoff_max"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"pipeline"`
	Housekeeping struct {
		Enabled           bool          `yaml:"enabled"`
		LivenessEvery     time.Duration `yaml:"liveness_every"`
		HistoryCheckEvery time.Duration `yaml:"history_check_every"`
		CachePurgeAt      string        `yaml:"cache_purge_at"` // HH:MM IST
	} `yaml:"housekeeping"`
}

// Load reads, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (if present) and the YAML file, then lets the
// environment override secrets and deployment-specific values.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
		c.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = xutil.SplitCSV(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("UNIVERSE_SYMBOLS"); v != "" {
		c.Universe.Symbols = xutil.SplitCSV(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SCAN_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCAN_INTERVAL: %w", err)
		}
		c.Engine.Interval = d
	}
	return nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	setString(&c.Log.Level, "info")
	setString(&c.Log.Format, "json")
	setString(&c.Log.Output, "stdout")
	setDuration(&c.Log.Collector.Interval, 30*time.Second)
	setInt(&c.Log.Collector.Threshold, 100)

	setInt(&c.Server.Port, 8080)
	setDuration(&c.Server.ReadTimeout, 10*time.Second)
	setDuration(&c.Server.WriteTimeout, 30*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 15*time.Second)
	setString(&c.Metrics.Path, "/metrics")

	e := &c.Engine
	setDuration(&e.Interval, 15*time.Minute)
	setInt(&e.Workers, 4)
	setDuration(&e.ScannerTimeout, 60*time.Second)
	setDuration(&e.ScannerBudget, 90*time.Second)
	setInt(&e.MaxAttempts, 3)
	setDuration(&e.BaseDelay, 2*time.Second)
	setDuration(&e.MaxDelay, 30*time.Second)
	if e.RunOnStart == nil {
		t := true
		e.RunOnStart = &t
	}
	setDuration(&e.IdleThreshold, 2*time.Minute)
	setInt(&e.RecentErrorLimit, 10)
	setDuration(&e.StopTimeout, 2*time.Minute)

	setInt(&c.Universe.Limit, 50)

	md := &c.MarketData
	setString(&md.BaseURL, "https://query1.finance.yahoo.com")
	setDuration(&md.Timeout, 20*time.Second)
	if md.RatePerSecond <= 0 {
		md.RatePerSecond = 10
	}
	setInt(&md.Burst, 5)
	setDuration(&md.CacheTTL, 5*time.Minute)

	setString(&c.Redis.Addr, "localhost:6379")
	setString(&c.Redis.Prefix, "scanner")

	k := &c.Kafka
	setString(&k.Compression, "gzip")
	if k.RequiredAcks == 0 {
		k.RequiredAcks = -1
	}
	setString(&k.Topics.Snapshots, "scanner.snapshots")
	setString(&k.Topics.Control, "scanner.control")
	setString(&k.Topics.Logs, "scanner.logs")
	setInt(&k.Producer.MaxAttempts, 3)
	setDuration(&k.Producer.Linger, 200*time.Millisecond)
	setInt(&k.Producer.BatchSize, 100)
	setInt(&k.Producer.BatchBytes, 1<<20)
	setDuration(&k.Producer.WriteTimeout, 10*time.Second)
	setDuration(&k.Producer.ReadTimeout, 10*time.Second)
	setString(&k.Consumer.GroupID, "scanner-engine")
	setInt(&k.Consumer.Workers, 1)
	setInt(&k.Consumer.BufferSize, 16)
	setInt(&k.Consumer.RetryMax, 3)
	setDuration(&k.Consumer.BackoffMin, 100*time.Millisecond)
	setDuration(&k.Consumer.BackoffMax, 2*time.Second)

	ch := &c.ClickHouse
	setInt(&ch.Port, 9000)
	setString(&ch.Database, "scanner")
	setString(&ch.User, "default")
	setDuration(&ch.DialTimeout, 5*time.Second)
	setDuration(&ch.ReadTimeout, 10*time.Second)
	setInt(&ch.TTLDays, 30)

	setString(&c.Telegram.APIURL, "https://api.telegram.org")
	setDuration(&c.Telegram.Timeout, 10*time.Second)

	n := &c.Notifications
	setString(&n.Delivery, "direct")
	setDuration(&n.MinInterval, 15*time.Minute)
	setDuration(&n.DedupWindow, 4*time.Hour)
	setInt(&n.Queue.Workers, 1)
	setInt(&n.Queue.RetryLimit, 3)
	setDuration(&n.Queue.RetryDelay, 30*time.Second)

	p := &c.Pipeline
	setInt(&p.BufferSize, 16)
	setInt(&p.MaxRetries, 3)
	setDuration(&p.BackoffMin, 200*time.Millisecond)
	setDuration(&p.BackoffMax, 5*time.Second)
	setDuration(&p.Timeout, 15*time.Second)

	h := &c.Housekeeping
	setDuration(&h.LivenessEvery, time.Minute)
	setDuration(&h.HistoryCheckEvery, 5*time.Minute)
	setString(&h.CachePurgeAt, "15:45")
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be positive")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1")
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1")
	}
	if c.Engine.MaxDelay < c.Engine.BaseDelay {
		return fmt.Errorf("engine.max_delay must not be below engine.base_delay")
	}

	seen := make(map[string]bool, len(c.Scanners))
	for i, s := range c.Scanners {
		if s.ID == "" {
			return fmt.Errorf("scanners[%d].id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("scanners: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id are required when telegram is enabled")
	}
	switch c.Notifications.Delivery {
	case "direct":
	case "queue":
		if !c.Redis.Enabled {
			return fmt.Errorf("notifications.delivery=queue requires redis")
		}
	default:
		return fmt.Errorf("notifications.delivery must be 'direct' or 'queue', got %q", c.Notifications.Delivery)
	}
	if c.Notifications.Enabled && !c.Telegram.Enabled {
		return fmt.Errorf("notifications require telegram to be enabled")
	}
	if _, err := time.Parse("15:04", c.Housekeeping.CachePurgeAt); err != nil {
		return fmt.Errorf("housekeeping.cache_purge_at: %w", err)
	}
	return nil
}

func setString(p *string, def string) {
	if *p == "" {
		*p = def
	}
}

func setInt(p *int, def int) {
	if *p == 0 {
		*p = def
	}
}

func setDuration(p *time.Duration, def time.Duration) {
	if *p == 0 {
		*p = def
	}
}

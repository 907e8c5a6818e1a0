package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig           `mapstructure:"app"`
	Server       ServerConfig        `mapstructure:"server"`
	Log          LogConfig           `mapstructure:"log"`
	Store        StoreConfig         `mapstructure:"store"`
	DB           DBConfig            `mapstructure:"db"`
	Redis        RedisConfig         `mapstructure:"redis"`
	Cron         CronConfig          `mapstructure:"cron"`
	MarketData   MarketDataConfig    `mapstructure:"market_data"`
	Automation   AutomationConfig    `mapstructure:"automation"`
	Evaluator    EvaluatorConfig     `mapstructure:"evaluator"`
	Supervisor   SupervisorConfig    `mapstructure:"supervisor"`
	Gate         GateConfig          `mapstructure:"gate"`
	Worker       WorkerConfig        `mapstructure:"worker"`
	Notify       NotifyConfig        `mapstructure:"notify"`
	Combinations []CombinationConfig `mapstructure:"combinations"`
	Groups       []GroupConfig       `mapstructure:"groups"`

	// StrategyDefaults overrides strategy parameters by strategy name.
	// Shape: { "RSIStrategy": { "rsi_period": 14, ... }, ... }
	StrategyDefaults map[string]any `mapstructure:"strategy_defaults"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr  string        `mapstructure:"http_addr"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	// Output overrides stdout. Worker processes log to stderr so stdout stays
	// reserved for heartbeats.
	Output string `mapstructure:"output"`
}

type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type CronConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Evaluator string `mapstructure:"evaluator"`
}

type MarketDataConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	StreamURL string        `mapstructure:"stream_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PageLimit int           `mapstructure:"page_limit"`
}

type AutomationConfig struct {
	RequiredPositiveDays          int    `mapstructure:"required_positive_days"`
	MinProfitThreshold            string `mapstructure:"min_profit_threshold"`
	EvaluationIntervalSeconds     int    `mapstructure:"evaluation_interval_seconds"`
	EmergencyOverride             bool   `mapstructure:"emergency_override"`
	SkippedDayPolicy              string `mapstructure:"skipped_day_policy"`
	DecisionStalenessBoundSeconds int    `mapstructure:"decision_staleness_bound_seconds"`
	HysteresisCycles              int    `mapstructure:"hysteresis_cycles"`
	LookbackDays                  int    `mapstructure:"lookback_days"`

	ScopeTimeout     time.Duration `mapstructure:"scope_timeout"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
	PersistRetries   int           `mapstructure:"persist_retries"`
	PersistBackoff   time.Duration `mapstructure:"persist_backoff"`
	PersistTimeout   time.Duration `mapstructure:"persist_timeout"`
	DefaultBotType   string        `mapstructure:"default_bot_type"`
	ManualTriggerTTL time.Duration `mapstructure:"manual_trigger_ttl"`
}

type EvaluatorConfig struct {
	Workers        int           `mapstructure:"workers"`
	LookbackDays   int           `mapstructure:"lookback_days"`
	WarmupBars     int           `mapstructure:"warmup_bars"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	FetchRetries   int           `mapstructure:"fetch_retries"`
	FetchBackoff   time.Duration `mapstructure:"fetch_backoff"`
	InitialBalance string        `mapstructure:"initial_balance"`
	PositionPct    string        `mapstructure:"position_pct"`
	StopLossPct    string        `mapstructure:"stop_loss_pct"`
	TakeProfitPct  string        `mapstructure:"take_profit_pct"`
	FeeRate        string        `mapstructure:"fee_rate"`
}

type SupervisorConfig struct {
	// WorkerCommand is the argv used to spawn a worker. "{scope}" and
	// "{bot_type}" are substituted.
	WorkerCommand    []string      `mapstructure:"worker_command"`
	StartTimeout     time.Duration `mapstructure:"start_timeout"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	BaseBackoff      time.Duration `mapstructure:"base_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	MaxFailures      int           `mapstructure:"max_failures"`
	MaxRestarts      int           `mapstructure:"max_restarts"`
	StableAfter      time.Duration `mapstructure:"stable_after"`
}

type GateConfig struct {
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	ClockSkew   time.Duration `mapstructure:"clock_skew"`
	// Source is "db" or "redis".
	Source string `mapstructure:"source"`
}

type WorkerConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HistoryBars       int           `mapstructure:"history_bars"`
	UseStream         bool          `mapstructure:"use_stream"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	OrderNotional     string        `mapstructure:"order_notional"`
	MinConfidence     float64       `mapstructure:"min_confidence"`
}

type NotifyConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Agent   string `mapstructure:"agent"`
}

type CombinationConfig struct {
	Symbol    string `mapstructure:"symbol"`
	Strategy  string `mapstructure:"strategy"`
	Timeframe string `mapstructure:"timeframe"`
	BotType   string `mapstructure:"bot_type"`
}

type GroupConfig struct {
	Name    string   `mapstructure:"name"`
	Members []string `mapstructure:"members"`
	BotType string   `mapstructure:"bot_type"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", "12h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("log.output", "stdout")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "streak:")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.evaluator", "0 10 0 * * *")
	v.SetDefault("market_data.base_url", "https://api.binance.com")
	v.SetDefault("market_data.stream_url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("market_data.timeout", "15s")
	v.SetDefault("market_data.page_limit", 1000)

	v.SetDefault("automation.required_positive_days", 5)
	v.SetDefault("automation.min_profit_threshold", "0")
	v.SetDefault("automation.evaluation_interval_seconds", 86400)
	v.SetDefault("automation.emergency_override", false)
	v.SetDefault("automation.skipped_day_policy", "neutral")
	v.SetDefault("automation.decision_staleness_bound_seconds", 172800)
	v.SetDefault("automation.hysteresis_cycles", 2)
	v.SetDefault("automation.lookback_days", 30)
	v.SetDefault("automation.scope_timeout", "4m")
	v.SetDefault("automation.shutdown_grace", "30s")
	v.SetDefault("automation.persist_retries", 3)
	v.SetDefault("automation.persist_backoff", "500ms")
	v.SetDefault("automation.persist_timeout", "10s")
	v.SetDefault("automation.default_bot_type", "test")
	v.SetDefault("automation.manual_trigger_ttl", "5m")

	v.SetDefault("evaluator.workers", 4)
	v.SetDefault("evaluator.lookback_days", 1)
	v.SetDefault("evaluator.warmup_bars", 100)
	v.SetDefault("evaluator.fetch_timeout", "20s")
	v.SetDefault("evaluator.fetch_retries", 3)
	v.SetDefault("evaluator.fetch_backoff", "1s")
	v.SetDefault("evaluator.initial_balance", "10000")
	v.SetDefault("evaluator.position_pct", "0.05")
	v.SetDefault("evaluator.stop_loss_pct", "0.02")
	v.SetDefault("evaluator.take_profit_pct", "0.06")
	v.SetDefault("evaluator.fee_rate", "0.001")

	v.SetDefault("supervisor.worker_command", []string{"streakworker", "--scope", "{scope}", "--bot-type", "{bot_type}"})
	v.SetDefault("supervisor.start_timeout", "30s")
	v.SetDefault("supervisor.grace_period", "15s")
	v.SetDefault("supervisor.heartbeat_timeout", "45s")
	v.SetDefault("supervisor.base_backoff", "2s")
	v.SetDefault("supervisor.max_backoff", "5m")
	v.SetDefault("supervisor.max_failures", 5)
	v.SetDefault("supervisor.max_restarts", 5)
	v.SetDefault("supervisor.stable_after", "10m")

	v.SetDefault("gate.read_timeout", "2s")
	v.SetDefault("gate.clock_skew", "1m")
	v.SetDefault("gate.source", "db")

	v.SetDefault("worker.heartbeat_interval", "10s")
	v.SetDefault("worker.history_bars", 200)
	v.SetDefault("worker.use_stream", true)
	v.SetDefault("worker.poll_interval", "30s")
	v.SetDefault("worker.order_notional", "500")
	v.SetDefault("worker.min_confidence", 0.5)

	v.SetDefault("notify.agent", "streak-automation")
}

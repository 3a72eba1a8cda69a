// Package config loads pipeline configuration from a YAML file plus
// environment overrides, following the teacher's Default*Config() idiom
// but wiring viper for real instead of leaving it declared and unused.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backpressure holds the linear cool-down parameters shared by every role
// that emits into a downstream queue.
type Backpressure struct {
	SoftLimit int           `mapstructure:"soft_limit"`
	Base      time.Duration `mapstructure:"base"`
	Increment time.Duration `mapstructure:"increment"`
	Max       time.Duration `mapstructure:"max"`
}

// Claim holds claim/lease parameters for a stage.
type Claim struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Config is the fully resolved pipeline configuration.
type Config struct {
	StoreDSN string `mapstructure:"store_dsn"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	OpsAddr string `mapstructure:"ops_addr"`

	Generator  GeneratorConfig  `mapstructure:"generator"`
	Validator  ValidatorConfig  `mapstructure:"validator"`
	Backtester BacktesterConfig `mapstructure:"backtester"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Deployer   DeployerConfig   `mapstructure:"deployer"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Emergency  EmergencyConfig  `mapstructure:"emergency"`

	ScoreWeights ScoreWeights `mapstructure:"score_weights"`
}

// GeneratorConfig configures the Generator role.
type GeneratorConfig struct {
	WorkerPoolSize int          `mapstructure:"worker_pool_size"`
	Backpressure   Backpressure `mapstructure:"backpressure"`
	DailyBudget    int          `mapstructure:"daily_budget"`
	BudgetFile     string       `mapstructure:"budget_file"`
	TopNSymbols    int          `mapstructure:"top_n_symbols"`
}

// ValidatorConfig configures the Validator role.
type ValidatorConfig struct {
	WorkerPoolSize        int           `mapstructure:"worker_pool_size"`
	ClaimTTL              time.Duration `mapstructure:"claim_ttl"`
	Backpressure          Backpressure  `mapstructure:"backpressure"`
	StabilityProbeEnabled bool          `mapstructure:"stability_probe_enabled"`
	StabilityCVThreshold  float64       `mapstructure:"stability_cv_threshold"`
	StabilityWindows      int           `mapstructure:"stability_windows"`
}

// BacktesterConfig configures the Backtester role.
type BacktesterConfig struct {
	WorkerPoolSize    int           `mapstructure:"worker_pool_size"`
	ClaimTTL          time.Duration `mapstructure:"claim_ttl"`
	Backpressure      Backpressure  `mapstructure:"backpressure"`
	RecentWindowBars  int           `mapstructure:"recent_window_bars"`
	MaxRecencyPenalty float64       `mapstructure:"max_recency_penalty"`
	AdmissionScore    float64       `mapstructure:"admission_score"`
}

// ClassifierConfig configures the Classifier role.
type ClassifierConfig struct {
	Cron                  string        `mapstructure:"cron"`
	PoolCapacity          int           `mapstructure:"pool_capacity"`
	MaxPerCategory        int           `mapstructure:"max_per_category"`
	MaxPerInterval        int           `mapstructure:"max_per_interval"`
	RetirementScoreFloor  float64       `mapstructure:"retirement_score_floor"`
	RetirementConsecutive int           `mapstructure:"retirement_consecutive"`
	RetirementDrawdownPct float64       `mapstructure:"retirement_drawdown_pct"`
	InactivityBound       time.Duration `mapstructure:"inactivity_bound"`
	ArchiveScoreFloor     float64       `mapstructure:"archive_score_floor"`
	ArchiveMinAge         time.Duration `mapstructure:"archive_min_age"`
}

// DeployerConfig configures the Deployer role.
type DeployerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ExecutorConfig configures the Executor role.
type ExecutorConfig struct {
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	BootstrapInterval    time.Duration `mapstructure:"bootstrap_interval"`
	MaxOpenPerSubaccount int           `mapstructure:"max_open_per_subaccount"`
	RiskPerTrade         float64       `mapstructure:"risk_per_trade"`
	MinNotional          float64       `mapstructure:"min_notional"`
	MaxCoinLeverage      float64       `mapstructure:"max_coin_leverage"`
	CandleBootstrapBars  int           `mapstructure:"candle_bootstrap_bars"`
	ShutdownGrace        time.Duration `mapstructure:"shutdown_grace"`
	CloseOnShutdown      bool          `mapstructure:"close_on_shutdown"`
	DryRun               bool          `mapstructure:"dry_run"`
}

// EmergencyConfig configures the EmergencyStopManager role.
type EmergencyConfig struct {
	EvalInterval        time.Duration `mapstructure:"eval_interval"`
	DrawdownPct         float64       `mapstructure:"drawdown_pct"`
	DailyLossAbs        float64       `mapstructure:"daily_loss_abs"`
	DailyLossPct        float64       `mapstructure:"daily_loss_pct"`
	ConsecutiveLosses   int           `mapstructure:"consecutive_losses"`
	GlobalExposureLimit float64       `mapstructure:"global_exposure_limit"`
	CooldownGlobal      time.Duration `mapstructure:"cooldown_global"`
	CooldownSubaccount  time.Duration `mapstructure:"cooldown_subaccount"`
	CooldownStrategy    time.Duration `mapstructure:"cooldown_strategy"`
}

// ScoreWeights weights the components of the shared scoring function.
type ScoreWeights struct {
	Expectancy  float64 `mapstructure:"expectancy"`
	Sharpe      float64 `mapstructure:"sharpe"`
	WinRate     float64 `mapstructure:"win_rate"`
	WalkForward float64 `mapstructure:"walk_forward"`
}

// Load reads config from defaults, the config file (if present) and the
// environment (PIPELINE_ prefix). Viper resolves each key as env over
// file over default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_dsn", "file:pipeline.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("ops_addr", ":9090")

	v.SetDefault("generator.worker_pool_size", 4)
	v.SetDefault("generator.backpressure.soft_limit", 200)
	v.SetDefault("generator.backpressure.base", 5*time.Second)
	v.SetDefault("generator.backpressure.increment", 2*time.Second)
	v.SetDefault("generator.backpressure.max", 5*time.Minute)
	v.SetDefault("generator.daily_budget", 500)
	v.SetDefault("generator.budget_file", "generator_budget.json")
	v.SetDefault("generator.top_n_symbols", 30)

	v.SetDefault("validator.worker_pool_size", 8)
	v.SetDefault("validator.claim_ttl", 2*time.Minute)
	v.SetDefault("validator.backpressure.soft_limit", 300)
	v.SetDefault("validator.backpressure.base", 5*time.Second)
	v.SetDefault("validator.backpressure.increment", 2*time.Second)
	v.SetDefault("validator.backpressure.max", 5*time.Minute)
	v.SetDefault("validator.stability_probe_enabled", true)
	v.SetDefault("validator.stability_cv_threshold", 0.5)
	v.SetDefault("validator.stability_windows", 4)

	v.SetDefault("backtester.worker_pool_size", 6)
	v.SetDefault("backtester.claim_ttl", 10*time.Minute)
	v.SetDefault("backtester.backpressure.soft_limit", 150)
	v.SetDefault("backtester.backpressure.base", 5*time.Second)
	v.SetDefault("backtester.backpressure.increment", 2*time.Second)
	v.SetDefault("backtester.backpressure.max", 5*time.Minute)
	v.SetDefault("backtester.recent_window_bars", 500)
	v.SetDefault("backtester.max_recency_penalty", 0.2)
	v.SetDefault("backtester.admission_score", 0.3)

	v.SetDefault("classifier.cron", "@every 5m")
	v.SetDefault("classifier.pool_capacity", 50)
	v.SetDefault("classifier.max_per_category", 10)
	v.SetDefault("classifier.max_per_interval", 15)
	v.SetDefault("classifier.retirement_score_floor", 0.1)
	v.SetDefault("classifier.retirement_consecutive", 3)
	v.SetDefault("classifier.retirement_drawdown_pct", 0.3)
	v.SetDefault("classifier.inactivity_bound", 72*time.Hour)
	v.SetDefault("classifier.archive_score_floor", 0.2)
	v.SetDefault("classifier.archive_min_age", 24*time.Hour)

	v.SetDefault("deployer.poll_interval", 10*time.Second)

	v.SetDefault("executor.tick_interval", 5*time.Second)
	v.SetDefault("executor.bootstrap_interval", 5*time.Minute)
	v.SetDefault("executor.max_open_per_subaccount", 3)
	v.SetDefault("executor.risk_per_trade", 0.01)
	v.SetDefault("executor.min_notional", 10.0)
	v.SetDefault("executor.max_coin_leverage", 20.0)
	v.SetDefault("executor.candle_bootstrap_bars", 500)
	v.SetDefault("executor.shutdown_grace", 30*time.Second)
	v.SetDefault("executor.close_on_shutdown", false)
	v.SetDefault("executor.dry_run", true)

	v.SetDefault("emergency.eval_interval", 30*time.Second)
	v.SetDefault("emergency.drawdown_pct", 0.25)
	v.SetDefault("emergency.daily_loss_abs", 0.0)
	v.SetDefault("emergency.daily_loss_pct", 0.1)
	v.SetDefault("emergency.consecutive_losses", 5)
	v.SetDefault("emergency.global_exposure_limit", 0.0)
	v.SetDefault("emergency.cooldown_global", 2*time.Hour)
	v.SetDefault("emergency.cooldown_subaccount", 2*time.Hour)
	v.SetDefault("emergency.cooldown_strategy", time.Hour)

	v.SetDefault("score_weights.expectancy", 0.35)
	v.SetDefault("score_weights.sharpe", 0.3)
	v.SetDefault("score_weights.win_rate", 0.15)
	v.SetDefault("score_weights.walk_forward", 0.2)
}

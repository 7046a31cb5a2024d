package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/justicehub-au/alma-engine/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Weights WeightsConfig `yaml:"weights" mapstructure:"weights"`
	Refresh RefreshConfig `yaml:"refresh" mapstructure:"refresh"`
	Signals SignalsConfig `yaml:"signals" mapstructure:"signals"`
	Gaps    GapsConfig    `yaml:"gaps" mapstructure:"gaps"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// WeightsConfig is the default weight vector applied when no weight set is
// named. The numbers are policy configuration, deliberately not constants
// in the scorer: they must survive stakeholder calibration without a code
// change.
type WeightsConfig struct {
	Name                     string  `yaml:"name" mapstructure:"name"`
	EvidenceStrength         float64 `yaml:"evidence_strength" mapstructure:"evidence_strength"`
	HarmRisk                 float64 `yaml:"harm_risk" mapstructure:"harm_risk"`
	ImplementationCapability float64 `yaml:"implementation_capability" mapstructure:"implementation_capability"`
	CommunityAuthority       float64 `yaml:"community_authority" mapstructure:"community_authority"`
	OptionValue              float64 `yaml:"option_value" mapstructure:"option_value"`

	// Recommendation thresholds.
	ScaleEvidenceMin   float64 `yaml:"scale_evidence_min" mapstructure:"scale_evidence_min"`
	ScaleSafetyMin     float64 `yaml:"scale_safety_min" mapstructure:"scale_safety_min"`
	PilotEvidenceMax   float64 `yaml:"pilot_evidence_max" mapstructure:"pilot_evidence_max"`
	PilotAuthorityMin  float64 `yaml:"pilot_authority_min" mapstructure:"pilot_authority_min"`
	PilotOptionMin     float64 `yaml:"pilot_option_min" mapstructure:"pilot_option_min"`
	MitigateSafetyMax  float64 `yaml:"mitigate_safety_max" mapstructure:"mitigate_safety_max"`
	MonitorComposite   float64 `yaml:"monitor_composite" mapstructure:"monitor_composite"`
}

// WeightSet converts the configured defaults into a model.WeightSet.
func (w WeightsConfig) WeightSet() model.WeightSet {
	return model.WeightSet{
		Name:                     w.Name,
		EvidenceStrength:         w.EvidenceStrength,
		HarmRisk:                 w.HarmRisk,
		ImplementationCapability: w.ImplementationCapability,
		CommunityAuthority:       w.CommunityAuthority,
		OptionValue:              w.OptionValue,
	}
}

// RefreshConfig configures the ranking refresher.
type RefreshConfig struct {
	// Schedule is a cron expression for the periodic batch refresh.
	Schedule    string  `yaml:"schedule" mapstructure:"schedule"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// SignalsConfig holds calculator tuning that is data-calibrated rather than
// structural: the harm keyword list scanned in free-text risk notes.
type SignalsConfig struct {
	HarmKeywords []string `yaml:"harm_keywords" mapstructure:"harm_keywords"`
}

// GapsConfig configures the evidence-gap reporter.
type GapsConfig struct {
	// CoverageTarget is the per-dimension coverage count at which a gap
	// score reaches zero.
	CoverageTarget int `yaml:"coverage_target" mapstructure:"coverage_target"`
	// OptionValueFloor is the minimum option-value signal for an
	// intervention to count as a worthwhile gap candidate.
	OptionValueFloor float64 `yaml:"option_value_floor" mapstructure:"option_value_floor"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ALMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Placeholder weights pending stakeholder calibration. They must sum
	// to 1.0; model.WeightSet.Validate enforces that on every score.
	v.SetDefault("weights.name", "default-v1")
	v.SetDefault("weights.evidence_strength", 0.30)
	v.SetDefault("weights.harm_risk", 0.20)
	v.SetDefault("weights.implementation_capability", 0.15)
	v.SetDefault("weights.community_authority", 0.25)
	v.SetDefault("weights.option_value", 0.10)

	v.SetDefault("weights.scale_evidence_min", 0.65)
	v.SetDefault("weights.scale_safety_min", 0.60)
	v.SetDefault("weights.pilot_evidence_max", 0.50)
	v.SetDefault("weights.pilot_authority_min", 0.60)
	v.SetDefault("weights.pilot_option_min", 0.60)
	v.SetDefault("weights.mitigate_safety_max", 0.35)
	v.SetDefault("weights.monitor_composite", 0.50)

	v.SetDefault("refresh.schedule", "0 */6 * * *")
	v.SetDefault("refresh.concurrency", 8)
	v.SetDefault("refresh.rate_per_sec", 50)

	v.SetDefault("signals.harm_keywords", []string{
		"restraint", "isolation", "detention extension", "strip search",
		"solitary", "coercion", "unsupervised custody",
	})

	v.SetDefault("gaps.coverage_target", 10)
	v.SetDefault("gaps.option_value_floor", 0.4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the parts of the config the given command relies on.
func (c *Config) Validate(scope string) error {
	switch scope {
	case "store":
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
		}
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required")
		}
	case "score":
		if err := c.Weights.WeightSet().Validate(); err != nil {
			return eris.Wrap(err, "config: weights")
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

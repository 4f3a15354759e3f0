package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/teemow/inboxresponder/internal/ai"
	"github.com/teemow/inboxresponder/internal/gmail"
	"github.com/teemow/inboxresponder/internal/instrumentation"
	"github.com/teemow/inboxresponder/internal/logging"
	"github.com/teemow/inboxresponder/internal/poller"
	"github.com/teemow/inboxresponder/internal/queue"
	"github.com/teemow/inboxresponder/internal/worker"
)

// EnvPrefix prefixes every environment variable, e.g. INBOXRESPONDER_PAGE_SIZE.
const EnvPrefix = "INBOXRESPONDER"

// Queue backends.
const (
	BackendSQLite = "sqlite"
	BackendValkey = "valkey"
)

// Config is the complete runtime configuration.
type Config struct {
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	EnqueueDelay           time.Duration `mapstructure:"enqueue_delay"`
	MaxAttempts            int           `mapstructure:"max_attempts"`
	InterJobPause          time.Duration `mapstructure:"inter_job_pause"`
	PageSize               int           `mapstructure:"page_size"`
	Query                  string        `mapstructure:"query"`
	MarkProcessedOnFailure bool          `mapstructure:"mark_processed_on_failure"`

	Queue   QueueConfig   `mapstructure:"queue"`
	Google  GoogleConfig  `mapstructure:"google"`
	Gmail   GmailConfig   `mapstructure:"gmail"`
	AI      AIConfig      `mapstructure:"ai"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// QueueConfig selects and configures the job queue backend.
type QueueConfig struct {
	Backend    string       `mapstructure:"backend"`
	SQLitePath string       `mapstructure:"sqlite_path"`
	Valkey     ValkeyConfig `mapstructure:"valkey"`
}

// ValkeyConfig configures the Valkey backend.
type ValkeyConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	TLS       bool   `mapstructure:"tls"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// GoogleConfig locates the OAuth client secret and token files.
type GoogleConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
}

// GmailConfig configures the Gmail client.
type GmailConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// AIConfig configures the generative engine.
type AIConfig struct {
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig configures the metrics and health server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TelemetryConfig configures OpenTelemetry metrics, tracing and the job
// audit log.
type TelemetryConfig struct {
	Enabled           bool        `mapstructure:"enabled"`
	ServiceName       string      `mapstructure:"service_name"`
	InstanceID        string      `mapstructure:"instance_id"`
	K8sNamespace      string      `mapstructure:"k8s_namespace"`
	K8sPodName        string      `mapstructure:"k8s_pod_name"`
	MetricsExporter   string      `mapstructure:"metrics_exporter"`
	TracingExporter   string      `mapstructure:"tracing_exporter"`
	OTLPEndpoint      string      `mapstructure:"otlp_endpoint"`
	OTLPInsecure      bool        `mapstructure:"otlp_insecure"`
	TraceSamplingRate float64     `mapstructure:"trace_sampling_rate"`
	DetailedLabels    bool        `mapstructure:"detailed_labels"`
	Audit             AuditConfig `mapstructure:"audit"`
}

// AuditConfig configures the per-job audit log.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	IncludePII bool `mapstructure:"include_pii"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Millisecond aliases for the duration keys. Both the snake_case and the
// camelCase spelling are accepted; viper keys are case-insensitive.
var msAliases = map[string][]string{
	"poll_interval":   {"poll_interval_ms", "pollIntervalMs"},
	"enqueue_delay":   {"enqueue_delay_ms", "enqueueDelayMs"},
	"inter_job_pause": {"inter_job_pause_ms", "interJobPauseMs"},
}

// Conventional environment variables accepted next to the prefixed ones.
var envAliases = map[string][]string{
	"ai.api_key":                    {"GEMINI_API_KEY"},
	"telemetry.enabled":             {"INSTRUMENTATION_ENABLED"},
	"telemetry.service_name":        {"OTEL_SERVICE_NAME"},
	"telemetry.instance_id":         {"OTEL_SERVICE_INSTANCE_ID"},
	"telemetry.k8s_namespace":       {"K8S_NAMESPACE", "POD_NAMESPACE"},
	"telemetry.k8s_pod_name":        {"K8S_POD_NAME", "HOSTNAME"},
	"telemetry.metrics_exporter":    {"METRICS_EXPORTER"},
	"telemetry.tracing_exporter":    {"TRACING_EXPORTER"},
	"telemetry.otlp_endpoint":       {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"telemetry.otlp_insecure":       {"OTEL_EXPORTER_OTLP_INSECURE"},
	"telemetry.trace_sampling_rate": {"OTEL_TRACES_SAMPLER_ARG"},
	"telemetry.detailed_labels":     {"METRICS_DETAILED_LABELS"},
	"telemetry.audit.enabled":       {"AUDIT_LOGGING_ENABLED"},
	"telemetry.audit.include_pii":   {"AUDIT_LOGGING_INCLUDE_PII"},
}

// FlagBindings maps configuration keys to the CLI flags that override them.
var FlagBindings = map[string]string{
	"poll_interval":             "poll-interval",
	"enqueue_delay":             "enqueue-delay",
	"max_attempts":              "max-attempts",
	"inter_job_pause":           "inter-job-pause",
	"page_size":                 "page-size",
	"query":                     "query",
	"mark_processed_on_failure": "mark-processed-on-failure",
	"queue.backend":             "queue-backend",
	"queue.sqlite_path":         "queue-sqlite-path",
	"queue.valkey.address":      "valkey-address",
	"google.credentials_file":   "credentials",
	"google.token_file":         "token",
	"ai.model":                  "model",
	"metrics.enabled":           "metrics",
	"metrics.addr":              "metrics-addr",
	"log.level":                 "log-level",
	"log.format":                "log-format",
}

// DataDir is where the queue database and the OAuth token live by default.
func DataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "inboxresponder")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poll_interval", poller.DefaultInterval)
	v.SetDefault("enqueue_delay", queue.DefaultDelay)
	v.SetDefault("max_attempts", queue.DefaultMaxAttempts)
	v.SetDefault("inter_job_pause", worker.DefaultInterJobPause)
	v.SetDefault("page_size", poller.DefaultPageSize)
	v.SetDefault("query", poller.DefaultQuery)
	v.SetDefault("mark_processed_on_failure", true)

	v.SetDefault("queue.backend", BackendSQLite)
	v.SetDefault("queue.sqlite_path", filepath.Join(DataDir(), "queue.db"))
	v.SetDefault("queue.valkey.address", "localhost:6379")
	v.SetDefault("queue.valkey.password", "")
	v.SetDefault("queue.valkey.db", 0)
	v.SetDefault("queue.valkey.tls", false)
	v.SetDefault("queue.valkey.key_prefix", queue.DefaultValkeyKeyPrefix)

	v.SetDefault("google.credentials_file", "credentials.json")
	v.SetDefault("google.token_file", filepath.Join(DataDir(), "google-token.json"))

	v.SetDefault("gmail.requests_per_second", float64(gmail.DefaultRequestsPerSecond))

	v.SetDefault("ai.model", ai.DefaultModel)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.timeout", ai.DefaultTimeout)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	tel := instrumentation.DefaultConfig()
	v.SetDefault("telemetry.enabled", tel.Enabled)
	v.SetDefault("telemetry.service_name", tel.ServiceName)
	v.SetDefault("telemetry.instance_id", "")
	v.SetDefault("telemetry.k8s_namespace", "")
	v.SetDefault("telemetry.k8s_pod_name", "")
	v.SetDefault("telemetry.metrics_exporter", tel.MetricsExporter)
	v.SetDefault("telemetry.tracing_exporter", tel.TracingExporter)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", false)
	v.SetDefault("telemetry.trace_sampling_rate", tel.TraceSamplingRate)
	v.SetDefault("telemetry.detailed_labels", tel.DetailedLabels)
	v.SetDefault("telemetry.audit.enabled", tel.AuditLogging.Enabled)
	v.SetDefault("telemetry.audit.include_pii", tel.AuditLogging.IncludePII)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Options controls where Load looks for configuration.
type Options struct {
	// ConfigFile is an explicit YAML file; it must exist. When empty,
	// inboxresponder.yaml is searched in SearchPaths.
	ConfigFile string
	// SearchPaths defaults to the working directory and the user config
	// directory.
	SearchPaths []string
	// EnvFiles are dotenv files loaded before reading the environment.
	// Missing files are skipped. Nil means ".env".
	EnvFiles []string
	// Flags, when set, override file and environment values for the flags
	// named in FlagBindings that were set on the command line.
	Flags *pflag.FlagSet
}

// Load builds the configuration from defaults, the YAML file, the
// environment and flags, in increasing precedence, and validates it.
func Load(opts Options) (*Config, error) {
	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if err := readConfigFile(v, opts); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		for key, name := range FlagBindings {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag --%s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyMillisecondAliases(v, cfg, opts.Flags)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if files == nil {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading env file %s: %w", f, err)
		}
	}
	return nil
}

func readConfigFile(v *viper.Viper, opts Options) error {
	v.SetConfigType("yaml")

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", opts.ConfigFile, err)
		}
		return nil
	}

	paths := opts.SearchPaths
	if paths == nil {
		paths = []string{"."}
		if dir, err := os.UserConfigDir(); err == nil {
			paths = append(paths, filepath.Join(dir, "inboxresponder"))
		}
	}
	v.SetConfigName("inboxresponder")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// applyMillisecondAliases lets integer millisecond keys override the
// duration keys. A duration given explicitly by flag wins.
func applyMillisecondAliases(v *viper.Viper, cfg *Config, flags *pflag.FlagSet) {
	targets := map[string]*time.Duration{
		"poll_interval":   &cfg.PollInterval,
		"enqueue_delay":   &cfg.EnqueueDelay,
		"inter_job_pause": &cfg.InterJobPause,
	}
	for key, aliases := range msAliases {
		if flags != nil && flags.Changed(FlagBindings[key]) {
			continue
		}
		for _, alias := range aliases {
			if v.IsSet(alias) {
				*targets[key] = time.Duration(v.GetInt64(alias)) * time.Millisecond
				break
			}
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.EnqueueDelay < 0 {
		errs = append(errs, errors.New("enqueue_delay must not be negative"))
	}
	if c.InterJobPause < 0 {
		errs = append(errs, errors.New("inter_job_pause must not be negative"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max_attempts must be at least 1"))
	}
	if c.PageSize < 1 || c.PageSize > 500 {
		errs = append(errs, fmt.Errorf("page_size must be between 1 and 500, got %d", c.PageSize))
	}
	switch c.Queue.Backend {
	case BackendSQLite:
		if c.Queue.SQLitePath == "" {
			errs = append(errs, errors.New("queue.sqlite_path is required for the sqlite backend"))
		}
	case BackendValkey:
		if c.Queue.Valkey.Address == "" {
			errs = append(errs, errors.New("queue.valkey.address is required for the valkey backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue backend %q", c.Queue.Backend))
	}
	if c.AI.Timeout < 0 {
		errs = append(errs, errors.New("ai.timeout must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Telemetry.Enabled {
		tel := c.Instrumentation("")
		if err := tel.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// QueueOptions returns the enqueue options derived from the configuration.
func (c *Config) QueueOptions() queue.Options {
	delay := c.EnqueueDelay
	if delay == 0 {
		// Zero means "no delay" here, not queue.DefaultDelay.
		delay = -1
	}
	return queue.Options{Delay: delay, MaxAttempts: c.MaxAttempts}
}

// Instrumentation returns the OpenTelemetry configuration for version.
func (c *Config) Instrumentation(version string) instrumentation.Config {
	t := c.Telemetry
	return instrumentation.Config{
		ServiceName:       t.ServiceName,
		ServiceVersion:    version,
		ServiceInstanceID: t.InstanceID,
		K8sNamespace:      t.K8sNamespace,
		K8sPodName:        t.K8sPodName,
		Enabled:           t.Enabled,
		MetricsExporter:   t.MetricsExporter,
		TracingExporter:   t.TracingExporter,
		OTLPEndpoint:      t.OTLPEndpoint,
		OTLPInsecure:      t.OTLPInsecure,
		TraceSamplingRate: t.TraceSamplingRate,
		DetailedLabels:    t.DetailedLabels,
		AuditLogging: instrumentation.AuditLoggingConfig{
			Enabled:    t.Audit.Enabled,
			IncludePII: t.Audit.IncludePII,
		},
	}
}

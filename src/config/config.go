package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// DefaultPort is the default port to expose the API server.
	DefaultPort = 8000

	// DefaultPredictPath is appended to every model endpoint base URL.
	DefaultPredictPath = "/models/qwen3_vl_2b/predict"

	// DefaultUpstreamTimeout bounds a single classification call.
	DefaultUpstreamTimeout = 60 * time.Second

	// DefaultDBInitWait caps how long a request waits on another caller's pool initialization.
	DefaultDBInitWait = 5 * time.Second

	// ServiceName is reported by the health endpoint.
	ServiceName = "LLM Age Classification API"
)

// ErrNoEndpoints is returned when no model endpoint candidates are configured.
var ErrNoEndpoints = errors.New("no model endpoints configured, set QWEN_VL_ENDPOINTS")

type Config struct {
	Port     int    `yaml:"port"`      // Port is the API server listen port.
	LogLevel string `yaml:"log_level"` // LogLevel is a zerolog level name or number.
	LogDir   string `yaml:"log_dir"`   // LogDir holds the rotating log file. Empty disables file logging.

	ModelEndpoints  []string      `yaml:"model_endpoints"`  // ModelEndpoints are the upstream base URL candidates.
	PredictPath     string        `yaml:"predict_path"`     // PredictPath is appended to the chosen endpoint.
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"` // UpstreamTimeout bounds one upstream call.

	ChatBaseURL     string  `yaml:"chat_base_url"`    // ChatBaseURL is the OpenAI compatible API root.
	ChatAPIKey      string  `yaml:"chat_api_key"`     // ChatAPIKey authenticates against ChatBaseURL.
	ChatModel       string  `yaml:"chat_model"`       // ChatModel is the model name sent with chat requests.
	ChatTemperature float64 `yaml:"chat_temperature"` // ChatTemperature is the sampling temperature.
	ChatMaxTokens   int     `yaml:"chat_max_tokens"`  // ChatMaxTokens limits the completion length.

	DBHost     string        `yaml:"db_host"`      // DBHost is the host machine running the postgres instance.
	DBPort     string        `yaml:"db_port"`      // DBPort is the port that exposes the db server.
	DBName     string        `yaml:"db_name"`      // DBName is the postgres database name.
	DBUser     string        `yaml:"db_user"`      // DBUser is the postgres user account.
	DBPassword string        `yaml:"db_password"`  // DBPassword is the password for the DBUser postgres account.
	DBSSLMode  string        `yaml:"db_ssl_mode"`  // DBSSLMode sets the SSL mode of the postgres client.
	DBPoolMin  int           `yaml:"db_pool_min"`  // DBPoolMin is the number of idle connections kept open.
	DBPoolMax  int           `yaml:"db_pool_max"`  // DBPoolMax is the pool capacity.
	DBInitWait time.Duration `yaml:"db_init_wait"` // DBInitWait bounds the wait on a concurrent pool initialization.
}

func missingEnvErr(envVar string) error {
	return fmt.Errorf("%s not found in environment", envVar)
}

// Defaults returns a Config with every optional field populated.
func Defaults() Config {
	return Config{
		Port:            DefaultPort,
		LogLevel:        "info",
		LogDir:          "logs",
		PredictPath:     DefaultPredictPath,
		UpstreamTimeout: DefaultUpstreamTimeout,
		ChatBaseURL:     "http://localhost:8000/v1",
		ChatModel:       "gpt-3.5-turbo",
		ChatTemperature: 0.7,
		ChatMaxTokens:   2000,
		DBHost:          "localhost",
		DBPort:          "5432",
		DBName:          "aigc_log",
		DBUser:          "postgres",
		DBSSLMode:       "disable",
		DBPoolMin:       1,
		DBPoolMax:       10,
		DBInitWait:      DefaultDBInitWait,
	}
}

// New builds the Config from the optional YAML file named by CONFIG_PATH and
// then the environment, which takes precedence.
func New() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports malformed configuration. An empty endpoint list is
// accepted here; commands that dispatch to models reject it themselves.
func (c Config) Validate() error {
	for _, e := range c.ModelEndpoints {
		if !strings.HasPrefix(e, "http://") && !strings.HasPrefix(e, "https://") {
			return fmt.Errorf("model endpoint %q must be an http or https URL", e)
		}
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got %s", c.UpstreamTimeout)
	}
	if c.DBPoolMin < 0 || c.DBPoolMax < 1 || c.DBPoolMin > c.DBPoolMax {
		return fmt.Errorf("invalid db pool bounds [%d, %d]", c.DBPoolMin, c.DBPoolMax)
	}
	switch c.DBSSLMode {
	case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("unsupported db ssl mode %q", c.DBSSLMode)
	}
	return nil
}

// RequireDB reports missing credentials for commands that cannot degrade
// without a database.
func (c Config) RequireDB() error {
	if c.DBPassword == "" {
		return missingEnvErr("DB_PASSWORD")
	}
	return nil
}

// DBAddr is the host:port of the postgres server.
func (c Config) DBAddr() string {
	return fmt.Sprintf("%s:%s", c.DBHost, c.DBPort)
}

// DSN is the libpq style connection URL used by migrations.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s", c.DBUser, c.DBPassword, c.DBAddr(), c.DBName, c.DBSSLMode)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func applyEnv(cfg *Config) error {
	var err error

	if v, ok := os.LookupEnv("AGE_PORT"); ok {
		if cfg.Port, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("AGE_PORT: %w", err)
		}
	}

	cfg.LogLevel = getEnvWithDefault("AGE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogDir = getEnvWithDefault("AGE_LOG_DIR", cfg.LogDir)

	if v := os.Getenv("QWEN_VL_ENDPOINTS"); v != "" {
		cfg.ModelEndpoints = splitList(v)
	}
	cfg.PredictPath = getEnvWithDefault("QWEN_VL_PREDICT_PATH", cfg.PredictPath)
	if cfg.UpstreamTimeout, err = durationEnv("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout); err != nil {
		return err
	}

	cfg.ChatBaseURL = getEnvWithDefault("RAY_BASE_URL", cfg.ChatBaseURL)
	cfg.ChatAPIKey = getEnvWithDefault("RAY_API_KEY", cfg.ChatAPIKey)
	cfg.ChatModel = getEnvWithDefault("LLM_MODEL", cfg.ChatModel)
	if v, ok := os.LookupEnv("LLM_TEMPERATURE"); ok {
		if cfg.ChatTemperature, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("LLM_TEMPERATURE: %w", err)
		}
	}
	if cfg.ChatMaxTokens, err = intEnv("LLM_MAX_TOKENS", cfg.ChatMaxTokens); err != nil {
		return err
	}

	cfg.DBHost = getEnvWithDefault("DB_HOST", cfg.DBHost)
	cfg.DBPort = getEnvWithDefault("DB_PORT", cfg.DBPort)
	cfg.DBName = getEnvWithDefault("DB_NAME", cfg.DBName)
	cfg.DBUser = getEnvWithDefault("DB_USER", cfg.DBUser)
	cfg.DBPassword = getEnvWithDefault("DB_PASSWORD", cfg.DBPassword)
	cfg.DBSSLMode = getEnvWithDefault("DB_SSL_MODE", cfg.DBSSLMode)
	if cfg.DBPoolMin, err = intEnv("DB_POOL_MIN", cfg.DBPoolMin); err != nil {
		return err
	}
	if cfg.DBPoolMax, err = intEnv("DB_POOL_MAX", cfg.DBPoolMax); err != nil {
		return err
	}
	if cfg.DBInitWait, err = durationEnv("DB_INIT_WAIT", cfg.DBInitWait); err != nil {
		return err
	}

	return nil
}

func getEnvWithDefault(name string, def string) string {
	res, found := os.LookupEnv(name)
	if !found {
		return def
	}
	return res
}

func intEnv(name string, def int) (int, error) {
	v, found := os.LookupEnv(name)
	if !found {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v, found := os.LookupEnv(name)
	if !found {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var res []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			res = append(res, strings.TrimRight(s, "/"))
		}
	}
	return res
}

// Package config loads mintd configuration from an optional .env file, an optional
// YAML file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the YAML file to load, if any.
const EnvConfigFile = "MINT_CONFIG_FILE"

// Config is the full process configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	Development bool   `yaml:"development"`
	LogLevel    string `yaml:"log_level"`
	// APIKeys, when non-empty, are accepted in the X-API-Key header.
	APIKeys []string `yaml:"api_keys"`

	Chain     ChainConfig     `yaml:"chain"`
	Queue     QueueConfig     `yaml:"queue"`
	Publisher PublisherConfig `yaml:"publisher"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
}

type ChainConfig struct {
	RPCURLs         []string      `yaml:"rpc_urls"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	PrivateKey      string        `yaml:"private_key"`
	MinterAddress   string        `yaml:"minter_address"`
	TokenAddress    string        `yaml:"token_address"`
	Confirmations   uint64        `yaml:"confirmations"`
	ReceiptPoll     time.Duration `yaml:"receipt_poll"`
	PermitDomain    string        `yaml:"permit_domain_name"`
	PermitDomainVer string        `yaml:"permit_domain_version"`
}

type QueueConfig struct {
	RedisURL          string        `yaml:"redis_url"`
	KeyPrefix         string        `yaml:"key_prefix"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	GuardTTL          time.Duration `yaml:"guard_ttl"`
	PopTimeout        time.Duration `yaml:"pop_timeout"`
	TaskDelay         time.Duration `yaml:"task_delay"`
	ContentionBackoff time.Duration `yaml:"contention_backoff"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	MaxWaiters        int           `yaml:"max_waiters"`
}

type PublisherConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type WorkflowConfig struct {
	FinalizeAttempts int           `yaml:"finalize_attempts"`
	FinalizeBackoff  time.Duration `yaml:"finalize_backoff"`
}

// Default returns a Config with every optional field set.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Chain: ChainConfig{
			MaxAttempts:   3,
			BaseDelay:     500 * time.Millisecond,
			Confirmations: 2,
			ReceiptPoll:   2 * time.Second,
		},
		Queue: QueueConfig{
			KeyPrefix:         "mint:",
			LockTTL:           10 * time.Minute,
			GuardTTL:          15 * time.Minute,
			PopTimeout:        5 * time.Second,
			TaskDelay:         time.Second,
			ContentionBackoff: 2 * time.Second,
			ReconnectInterval: 3 * time.Second,
			MaxWaiters:        1024,
		},
		Publisher: PublisherConfig{
			Timeout: 60 * time.Second,
		},
		Workflow: WorkflowConfig{
			FinalizeAttempts: 3,
			FinalizeBackoff:  2 * time.Second,
		},
	}
}

// Load builds the configuration. path overrides MINT_CONFIG_FILE when non-empty.
func Load(path string) (Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("MINT_LISTEN_ADDR", &c.ListenAddr)
	e.boolean("MINT_DEV", &c.Development)
	e.str("MINT_LOG_LEVEL", &c.LogLevel)
	e.list("MINT_API_KEYS", &c.APIKeys)

	e.list("MINT_RPC_URLS", &c.Chain.RPCURLs)
	e.integer("MINT_RPC_MAX_ATTEMPTS", &c.Chain.MaxAttempts)
	e.duration("MINT_RPC_BASE_DELAY", &c.Chain.BaseDelay)
	e.str("MINT_BACKEND_PRIVATE_KEY", &c.Chain.PrivateKey)
	e.str("MINT_MINTER_ADDRESS", &c.Chain.MinterAddress)
	e.str("MINT_TOKEN_ADDRESS", &c.Chain.TokenAddress)
	e.uint64("MINT_CONFIRMATIONS", &c.Chain.Confirmations)
	e.duration("MINT_RECEIPT_POLL", &c.Chain.ReceiptPoll)
	e.str("MINT_PERMIT_DOMAIN_NAME", &c.Chain.PermitDomain)
	e.str("MINT_PERMIT_DOMAIN_VERSION", &c.Chain.PermitDomainVer)

	e.str("MINT_REDIS_URL", &c.Queue.RedisURL)
	e.str("MINT_REDIS_KEY_PREFIX", &c.Queue.KeyPrefix)
	e.duration("MINT_LOCK_TTL", &c.Queue.LockTTL)
	e.duration("MINT_GUARD_TTL", &c.Queue.GuardTTL)
	e.duration("MINT_POP_TIMEOUT", &c.Queue.PopTimeout)
	e.duration("MINT_TASK_DELAY", &c.Queue.TaskDelay)
	e.duration("MINT_CONTENTION_BACKOFF", &c.Queue.ContentionBackoff)
	e.duration("MINT_RECONNECT_INTERVAL", &c.Queue.ReconnectInterval)
	e.integer("MINT_MAX_WAITERS", &c.Queue.MaxWaiters)

	e.str("MINT_PUBLISHER_URL", &c.Publisher.BaseURL)
	e.str("MINT_PUBLISHER_TOKEN", &c.Publisher.Token)
	e.duration("MINT_PUBLISHER_TIMEOUT", &c.Publisher.Timeout)

	e.integer("MINT_FINALIZE_ATTEMPTS", &c.Workflow.FinalizeAttempts)
	e.duration("MINT_FINALIZE_BACKOFF", &c.Workflow.FinalizeBackoff)

	return errors.Join(e.errs...)
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	var errs []error
	if len(c.Chain.RPCURLs) == 0 {
		errs = append(errs, errors.New("at least one RPC URL is required (MINT_RPC_URLS)"))
	}
	if c.Chain.PrivateKey == "" {
		errs = append(errs, errors.New("backend private key is required (MINT_BACKEND_PRIVATE_KEY)"))
	}
	if !common.IsHexAddress(c.Chain.MinterAddress) {
		errs = append(errs, fmt.Errorf("invalid minter address %q", c.Chain.MinterAddress))
	}
	if !common.IsHexAddress(c.Chain.TokenAddress) {
		errs = append(errs, fmt.Errorf("invalid token address %q", c.Chain.TokenAddress))
	}
	if (c.Chain.PermitDomain == "") != (c.Chain.PermitDomainVer == "") {
		errs = append(errs, errors.New("permit domain name and version must be set together"))
	}
	if c.Queue.RedisURL == "" {
		errs = append(errs, errors.New("redis URL is required (MINT_REDIS_URL)"))
	}
	if c.Publisher.BaseURL == "" {
		errs = append(errs, errors.New("publisher URL is required (MINT_PUBLISHER_URL)"))
	}
	if c.Chain.MaxAttempts < 1 {
		errs = append(errs, errors.New("rpc max attempts must be at least 1"))
	}
	if c.Chain.Confirmations < 1 {
		errs = append(errs, errors.New("confirmations must be at least 1"))
	}
	if c.Queue.LockTTL <= 0 || c.Queue.GuardTTL <= 0 {
		errs = append(errs, errors.New("lock and guard TTLs must be positive"))
	}
	if c.Queue.GuardTTL < c.Queue.LockTTL {
		errs = append(errs, errors.New("guard TTL must not be shorter than the lock TTL"))
	}
	if c.Queue.MaxWaiters < 1 {
		errs = append(errs, errors.New("max waiters must be at least 1"))
	}
	return errors.Join(errs...)
}

// PermitVerification reports whether permit signatures should be checked cryptographically.
func (c Config) PermitVerification() bool {
	return c.Chain.PermitDomain != ""
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) uint64(key string, dst *uint64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

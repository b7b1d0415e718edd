package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"golang.org/x/crypto/curve25519"

	"github.com/seantiz/keyturner/internal/device"
)

const (
	// DefaultPath is where the settings file lives unless overridden.
	DefaultPath = "./settings/config.json"

	envPrefix = "KEYTURNER"
)

// Settings keys.
const (
	keyAppName          = "app_name"
	keyAppID            = "app_id"
	keyPrivateKey       = "private_key"
	keyPublicKey        = "public_key"
	keyAPIBindAddress   = "api_bind_address"
	keyAPIPort          = "api_port"
	keyDBPath           = "db_path"
	keyLogLevel         = "log_level"
	keyRadio            = "radio"
	keyScanTimeout      = "scan_timeout"
	keyFindAttempts     = "find_attempts"
	keyOperationTimeout = "operation_timeout"
	keyRefreshSchedule  = "refresh_schedule"
	keyRateLimit        = "rate_limit"
	keyRateBurst        = "rate_burst"
	keyTrustedProxy     = "trusted_proxy"
	keyTraceStdout      = "trace_stdout"
)

// Config holds application configuration loaded from the settings file and
// KEYTURNER_* environment variables.
type Config struct {
	AppName    string `mapstructure:"app_name" validate:"required,max=32"`
	AppID      uint32 `mapstructure:"app_id" validate:"required"`
	PrivateKey string `mapstructure:"private_key" validate:"required,base64"`
	PublicKey  string `mapstructure:"public_key" validate:"required,base64"`

	APIBindAddress string `mapstructure:"api_bind_address" validate:"required,ip|hostname"`
	APIPort        int    `mapstructure:"api_port" validate:"min=1,max=65535"`
	DBPath         string `mapstructure:"db_path" validate:"required"`
	LogLevel       string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`

	Radio            string        `mapstructure:"radio" validate:"oneof=ble sim"`
	ScanTimeout      time.Duration `mapstructure:"scan_timeout" validate:"gt=0"`
	FindAttempts     int           `mapstructure:"find_attempts" validate:"min=1,max=10"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
	RefreshSchedule  string        `mapstructure:"refresh_schedule" validate:"omitempty,cron"`

	RateLimit    float64 `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst    int     `mapstructure:"rate_burst" validate:"gte=0"`
	TrustedProxy bool    `mapstructure:"trusted_proxy"`
	TraceStdout  bool    `mapstructure:"trace_stdout"`
}

// Load reads the settings file at path, applies environment overrides and
// fills every missing key with its default. A missing file yields the
// defaults, including a freshly generated bridge identity; a malformed file
// is an error.
func Load(path string) (Config, error) {
	id, err := GenerateIdentity()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v, id)

	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("stat config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, id device.Identity) {
	v.SetDefault(keyAppName, "keyturner")
	v.SetDefault(keyAppID, id.AppID)
	v.SetDefault(keyPrivateKey, base64.StdEncoding.EncodeToString(id.PrivateKey))
	v.SetDefault(keyPublicKey, base64.StdEncoding.EncodeToString(id.PublicKey))
	v.SetDefault(keyAPIBindAddress, "0.0.0.0")
	v.SetDefault(keyAPIPort, 51001)
	v.SetDefault(keyDBPath, "./settings/keyturner.db")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyRadio, "ble")
	v.SetDefault(keyScanTimeout, "5s")
	v.SetDefault(keyFindAttempts, 3)
	v.SetDefault(keyOperationTimeout, "30s")
	v.SetDefault(keyRefreshSchedule, "")
	v.SetDefault(keyRateLimit, 2.0)
	v.SetDefault(keyRateBurst, 5)
	v.SetDefault(keyTrustedProxy, false)
	v.SetDefault(keyTraceStdout, false)
}

// Save writes cfg to path as JSON, creating the directory if needed. Only
// known keys are written.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetConfigPermissions(0o600)
	for key, value := range cfg.settings() {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func (c Config) settings() map[string]any {
	return map[string]any{
		keyAppName:          c.AppName,
		keyAppID:            c.AppID,
		keyPrivateKey:       c.PrivateKey,
		keyPublicKey:        c.PublicKey,
		keyAPIBindAddress:   c.APIBindAddress,
		keyAPIPort:          c.APIPort,
		keyDBPath:           c.DBPath,
		keyLogLevel:         c.LogLevel,
		keyRadio:            c.Radio,
		keyScanTimeout:      c.ScanTimeout.String(),
		keyFindAttempts:     c.FindAttempts,
		keyOperationTimeout: c.OperationTimeout.String(),
		keyRefreshSchedule:  c.RefreshSchedule,
		keyRateLimit:        c.RateLimit,
		keyRateBurst:        c.RateBurst,
		keyTrustedProxy:     c.TrustedProxy,
		keyTraceStdout:      c.TraceStdout,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and that the key pair belongs together.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on the '%s' tag", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := c.Identity(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Identity decodes the bridge identity presented to locks.
func (c Config) Identity() (device.Identity, error) {
	priv, err := base64.StdEncoding.DecodeString(c.PrivateKey)
	if err != nil {
		return device.Identity{}, fmt.Errorf("decode private key: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(c.PublicKey)
	if err != nil {
		return device.Identity{}, fmt.Errorf("decode public key: %w", err)
	}
	if len(priv) != curve25519.ScalarSize || len(pub) != curve25519.PointSize {
		return device.Identity{}, fmt.Errorf("key pair must be %d bytes each", curve25519.ScalarSize)
	}
	derived, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return device.Identity{}, fmt.Errorf("derive public key: %w", err)
	}
	if string(derived) != string(pub) {
		return device.Identity{}, errors.New("public key does not match private key")
	}

	return device.Identity{
		AppID:      c.AppID,
		AppName:    c.AppName,
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// GenerateIdentity creates a random app id and curve25519 key pair.
func GenerateIdentity() (device.Identity, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return device.Identity{}, fmt.Errorf("generate private key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return device.Identity{}, fmt.Errorf("derive public key: %w", err)
	}

	var idBytes [4]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return device.Identity{}, fmt.Errorf("generate app id: %w", err)
	}
	appID := binary.BigEndian.Uint32(idBytes[:])
	if appID == 0 {
		appID = 1
	}

	return device.Identity{AppID: appID, PublicKey: pub, PrivateKey: priv}, nil
}

// ListenAddr is the HTTP listen address.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.APIBindAddress, strconv.Itoa(c.APIPort))
}

// Level is the parsed log level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	c.PrivateKey = "REDACTED"
	return c
}

// Settings returns the configuration as written to the settings file.
func (c Config) Settings() map[string]any {
	return c.settings()
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

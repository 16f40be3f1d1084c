// Package config loads settings for the ipcf command and its engines.
//
// Load reads a .env file from the working directory into the environment,
// then resolves values in order: built-in defaults, an optional TOML file,
// IPCF_* environment variables. Variables already set in the environment win
// over .env entries.
package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
)

// Engine backends.
const (
	BackendWasm  = "wasm"
	BackendMSIPC = "msipc"
)

// FileName is the default config file name inside the config directory.
const FileName = "ipcf.toml"

// Config is the complete ipcf configuration.
type Config struct {
	Engine  EngineConfig  `toml:"engine"`
	Protect ProtectConfig `toml:"protect"`
	Log     LogConfig     `toml:"log"`
	Watch   WatchConfig   `toml:"watch"`
}

// EngineConfig selects and configures the engine backend.
type EngineConfig struct {
	Backend string `toml:"backend"`

	// wasm backend
	WasmPath         string            `toml:"wasm_path"`
	MountDir         string            `toml:"mount_dir"`
	CacheDir         string            `toml:"cache_dir"`
	MemoryLimitPages uint32            `toml:"memory_limit_pages"`
	Env              map[string]string `toml:"env"`

	// msipc backend
	DLLPath string `toml:"dll_path"`
}

// ProtectConfig holds defaults for encrypt and decrypt calls.
type ProtectConfig struct {
	Template       string   `toml:"template"`
	OutputDir      string   `toml:"output_dir"`
	EncryptFlags   []string `toml:"encrypt_flags"`
	OpenAsRMSAware bool     `toml:"open_as_rms_aware"`

	SuppressUI     bool `toml:"suppress_ui"`
	Offline        bool `toml:"offline"`
	HasUserConsent bool `toml:"has_user_consent"`

	Key KeyConfig `toml:"key"`
}

// KeyConfig is an optional symmetric key credential.
type KeyConfig struct {
	Base64Key      string `toml:"base64_key"`
	AppPrincipalID string `toml:"app_principal_id"`
	TenantID       string `toml:"tenant_id"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// WatchConfig configures drop-folder protection.
type WatchConfig struct {
	Debounce  time.Duration `toml:"debounce"`
	Recursive bool          `toml:"recursive"`

	// Rate caps protections per second. 0 means unlimited.
	Rate float64 `toml:"rate"`

	// After FailureThreshold consecutive engine faults the watcher stops
	// calling the engine for Cooldown.
	FailureThreshold uint32        `toml:"failure_threshold"`
	Cooldown         time.Duration `toml:"cooldown"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Backend: defaultBackend(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Watch: WatchConfig{
			Debounce:         500 * time.Millisecond,
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
	}
}

func defaultBackend() string {
	if filepath.Separator == '\\' {
		return BackendMSIPC
	}
	return BackendWasm
}

// Dir returns the per-user config directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "ipcf"), nil
}

// Path returns the config file location: IPCF_CONFIG if set, otherwise
// FileName inside Dir.
func Path() (string, error) {
	if p := os.Getenv("IPCF_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the configuration. An empty path uses Path; a missing file at
// the default location is not an error, a missing explicit path is.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "load .env")
	}

	explicit := path != ""
	if !explicit {
		p, err := Path()
		if err == nil {
			path = p
		}
	}

	cfg := Default()
	if path != "" {
		if err := LoadTOML(cfg, path); err != nil {
			if explicit || !stderrors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "invalid config")
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path over cfg.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return err
		}
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode "+path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.InvalidData(errors.PhaseConfig, "unknown keys in "+path+": "+strings.Join(keys, ", "))
	}
	return nil
}

// Save writes cfg as TOML to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := Encode(f, cfg); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Encode writes cfg to w as TOML.
func Encode(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies IPCF_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	c.Engine.Backend = getEnv("IPCF_BACKEND", c.Engine.Backend)
	c.Engine.WasmPath = getEnv("IPCF_WASM", c.Engine.WasmPath)
	c.Engine.MountDir = getEnv("IPCF_MOUNT_DIR", c.Engine.MountDir)
	c.Engine.CacheDir = getEnv("IPCF_CACHE_DIR", c.Engine.CacheDir)
	c.Engine.DLLPath = getEnv("IPCF_DLL", c.Engine.DLLPath)

	c.Protect.Template = getEnv("IPCF_TEMPLATE", c.Protect.Template)
	c.Protect.OutputDir = getEnv("IPCF_OUTPUT_DIR", c.Protect.OutputDir)
	c.Protect.Key.Base64Key = getEnv("IPCF_KEY", c.Protect.Key.Base64Key)
	c.Protect.Key.AppPrincipalID = getEnv("IPCF_APP_PRINCIPAL_ID", c.Protect.Key.AppPrincipalID)
	c.Protect.Key.TenantID = getEnv("IPCF_TENANT_ID", c.Protect.Key.TenantID)

	c.Log.Level = getEnv("IPCF_LOG_LEVEL", c.Log.Level)

	var err error
	if c.Engine.MemoryLimitPages, err = getUint32Env("IPCF_MEMORY_LIMIT_PAGES", c.Engine.MemoryLimitPages); err != nil {
		return err
	}
	if c.Protect.SuppressUI, err = getBoolEnv("IPCF_SUPPRESS_UI", c.Protect.SuppressUI); err != nil {
		return err
	}
	if c.Protect.Offline, err = getBoolEnv("IPCF_OFFLINE", c.Protect.Offline); err != nil {
		return err
	}
	if c.Log.Development, err = getBoolEnv("IPCF_LOG_DEVELOPMENT", c.Log.Development); err != nil {
		return err
	}
	if c.Watch.Debounce, err = getDurationEnv("IPCF_WATCH_DEBOUNCE", c.Watch.Debounce); err != nil {
		return err
	}
	return nil
}

// SetDefaults fills in unset values and normalizes case.
func (c *Config) SetDefaults() {
	d := Default()
	c.Engine.Backend = strings.ToLower(strings.TrimSpace(c.Engine.Backend))
	if c.Engine.Backend == "" {
		c.Engine.Backend = d.Engine.Backend
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = d.Watch.Debounce
	}
	if c.Watch.FailureThreshold == 0 {
		c.Watch.FailureThreshold = d.Watch.FailureThreshold
	}
	if c.Watch.Cooldown == 0 {
		c.Watch.Cooldown = d.Watch.Cooldown
	}
}

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid setting found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidationErrors when any
// setting is invalid. Settings that are only needed to open an engine are
// checked by Ready.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Engine.Backend {
	case BackendWasm:
		if c.Engine.MemoryLimitPages > 65536 {
			add("engine.memory_limit_pages", "%d exceeds 65536", c.Engine.MemoryLimitPages)
		}
	case BackendMSIPC:
	default:
		add("engine.backend", "invalid backend %q, must be one of: %s, %s", c.Engine.Backend, BackendWasm, BackendMSIPC)
	}

	if c.Protect.Template != "" {
		if _, err := uuid.Parse(c.Protect.Template); err != nil {
			add("protect.template", "not a GUID: %v", err)
		}
	}
	for _, name := range c.Protect.EncryptFlags {
		if _, ok := ipcf.ParseEncryptFlag(name); !ok {
			add("protect.encrypt_flags", "unknown flag %q", name)
		}
	}

	k := c.Protect.Key
	if k.Base64Key != "" || k.AppPrincipalID != "" || k.TenantID != "" {
		if k.Base64Key == "" || k.AppPrincipalID == "" || k.TenantID == "" {
			add("protect.key", "base64_key, app_principal_id and tenant_id must be set together")
		}
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	if c.Watch.Debounce < 0 {
		add("watch.debounce", "must not be negative")
	}
	if c.Watch.Rate < 0 {
		add("watch.rate", "must not be negative")
	}
	if c.Watch.Cooldown < 0 {
		add("watch.cooldown", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Ready reports whether the engine settings are complete enough to open the
// configured backend.
func (c *Config) Ready() error {
	if c.Engine.Backend == BackendWasm && c.Engine.WasmPath == "" {
		err := ValidationErrors{{Field: "engine.wasm_path", Message: "required for the " + BackendWasm + " backend"}}
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "engine not configured")
	}
	return nil
}

// EncryptFlags combines the configured encrypt flag names.
func (c *Config) EncryptFlags() (ipcf.EncryptFlags, error) {
	var flags ipcf.EncryptFlags
	for _, name := range c.Protect.EncryptFlags {
		f, ok := ipcf.ParseEncryptFlag(name)
		if !ok {
			return 0, errors.InvalidInput(errors.PhaseConfig, "unknown encrypt flag "+name)
		}
		flags |= f
	}
	return flags, nil
}

// DecryptFlags returns the configured decrypt flags.
func (c *Config) DecryptFlags() ipcf.DecryptFlags {
	if c.Protect.OpenAsRMSAware {
		return ipcf.DecryptFlagOpenAsRMSAware
	}
	return ipcf.DecryptFlagDefault
}

// PromptParams returns the configured prompt settings.
func (c *Config) PromptParams() ipcf.PromptParams {
	p := ipcf.PromptParams{
		SuppressUI:     c.Protect.SuppressUI,
		Offline:        c.Protect.Offline,
		HasUserConsent: c.Protect.HasUserConsent,
	}
	if k := c.Protect.Key; k.Base64Key != "" {
		p.SymmetricKey = &ipcf.SymmetricKey{
			Base64Key:      k.Base64Key,
			AppPrincipalID: k.AppPrincipalID,
			TenantID:       k.TenantID,
		}
	}
	return p
}

// Template returns the default template as a license, or nil if none is set.
func (c *Config) Template() ipcf.License {
	if c.Protect.Template == "" {
		return nil
	}
	return ipcf.TemplateID(c.Protect.Template)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, envError(key, err)
	}
	return b, nil
}

func getUint32Env(key string, defaultValue uint32) (uint32, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, envError(key, err)
	}
	return uint32(n), nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, envError(key, err)
	}
	return d, nil
}

func envError(key string, err error) error {
	return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse "+key)
}

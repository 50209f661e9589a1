package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "GUARD_"
	// ConfigFileEnv names an optional YAML file loaded between defaults and env.
	ConfigFileEnv = envPrefix + "CONFIG_FILE"
)

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log         LoggingConfig     `koanf:"log"`
	Blocklist   BlocklistConfig   `koanf:"blocklist"`
	EventLog    EventLogConfig    `koanf:"eventlog"`
	Bridge      BridgeConfig      `koanf:"bridge"`
	Control     ControlConfig     `koanf:"control"`
	Mitigation  MitigationConfig  `koanf:"mitigation"`
	Permissions PermissionsConfig `koanf:"permissions"`
	Indicator   IndicatorConfig   `koanf:"indicator"`
}

type LoggingConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

type BlocklistConfig struct {
	DB string `koanf:"db" validate:"required"`
	// CacheSize bounds the decision cache; zero disables it.
	CacheSize   int     `koanf:"cache_size" validate:"gte=0"`
	BloomFPRate float64 `koanf:"bloom_fp_rate" validate:"gt=0,lt=1"`
}

type EventLogConfig struct {
	DB string `koanf:"db" validate:"required"`
	// MaxEntries caps each event bucket; zero keeps everything.
	MaxEntries int `koanf:"max_entries" validate:"gte=0"`
}

type BridgeConfig struct {
	Listen string `koanf:"listen" validate:"required,listen_addr"`
}

type ControlConfig struct {
	Listen    string  `koanf:"listen" validate:"required,listen_addr"`
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
	Burst     int     `koanf:"burst" validate:"gte=1"`
}

type MitigationConfig struct {
	// Commands are tried in order; {number} and {session} are substituted.
	Commands []string      `koanf:"commands" validate:"dive,required"`
	Timeout  time.Duration `koanf:"timeout" validate:"gt=0"`
	// Bridge appends the HANGUP-over-UDP strategy after the commands.
	Bridge bool `koanf:"bridge"`
}

type PermissionsConfig struct {
	Granted []string `koanf:"granted" validate:"dive,oneof=read_phone_state receive_sms answer_phone_calls read_call_log read_sms process_outgoing_calls"`
}

type IndicatorConfig struct {
	// Path of the status file shown while interception runs; empty disables it.
	Path string `koanf:"path"`
}

// DEFAULT_APP_CONFIG holds the defaults loaded before any file or env override.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LoggingConfig{Level: "info"},
	Blocklist: BlocklistConfig{
		DB:          "/var/lib/callguard/blocklist.db",
		CacheSize:   1000,
		BloomFPRate: 0.01,
	},
	EventLog: EventLogConfig{
		DB:         "/var/lib/callguard/events.db",
		MaxEntries: 10000,
	},
	Bridge: BridgeConfig{Listen: "127.0.0.1:5454"},
	Control: ControlConfig{
		Listen:    "127.0.0.1:8454",
		RateLimit: 10,
		Burst:     20,
	},
	Mitigation: MitigationConfig{
		Commands: []string{},
		Timeout:  5 * time.Second,
		Bridge:   true,
	},
	Permissions: PermissionsConfig{
		Granted: []string{
			"read_phone_state",
			"receive_sms",
			"answer_phone_calls",
			"read_call_log",
			"read_sms",
			"process_outgoing_calls",
		},
	},
	Indicator: IndicatorConfig{Path: "/run/callguard/active"},
}

// validListenAddr accepts "host:port" and ":port" where port is numeric.
// The host may be empty, an IP literal or a name.
func validListenAddr(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || port == "" {
		return false
	}
	if strings.ContainsAny(host, " /") {
		return false
	}
	_, err = strconv.ParseUint(port, 10, 16)
	return err == nil
}

// envLoader loads GUARD_* variables. A double underscore separates nested
// keys (GUARD_BLOCKLIST__CACHE_SIZE → blocklist.cache_size) and comma
// separated values become lists.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			key = strings.ReplaceAll(key, "__", ".")
			value = strings.TrimSpace(value)

			if strings.Contains(value, ",") {
				parts := strings.Split(value, ",")
				out := make([]string, 0, len(parts))
				for _, p := range parts {
					if p = strings.TrimSpace(p); p != "" {
						out = append(out, p)
					}
				}
				return key, out
			}
			return key, value
		},
	}), nil)
}

// fileLoader loads the YAML file named by GUARD_CONFIG_FILE, if any.
var fileLoader = func(k *koanf.Koanf) error {
	path := strings.TrimSpace(os.Getenv(ConfigFileEnv))
	if path == "" {
		return nil
	}
	return k.Load(file.Provider(path), yaml.Parser())
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the "listen_addr" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("listen_addr", validListenAddr)
}

// Load merges defaults, the optional config file and the environment, then
// validates the result.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := fileLoader(k); err != nil {
		return nil, fmt.Errorf("error loading config file: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

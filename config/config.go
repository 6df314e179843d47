package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/sigtrader/internal/domain"
)

// ErrUserKeysMismatch users and pushover_user_keys name different users.
var ErrUserKeysMismatch = errors.New("the user names in users and pushover_user_keys must match")

const (
	RoleAll     = "all"
	RoleMarket  = "market"
	RoleUser    = "user"
	RoleIngress = "ingress"
)

const (
	PlatformBinance  = "binance"
	PlatformBybit    = "bybit"
	PlatformSimulate = "simulate"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const (
	defaultPair                = "BTC_USDT"
	defaultFeeAsset            = "BNB"
	defaultWebhookAddr         = ":8080"
	defaultLogDir              = "logs"
	defaultStateDir            = "state"
	defaultCrashExitCode       = 1
	defaultFxPollInterval      = 5 * time.Second
	defaultBalancePollInterval = 30 * time.Second
)

// Credentials exchange API keys of a user.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Config everything a process needs to start its workers.
type Config struct {
	Role  string
	User  string
	Debug bool

	PushoverToken    string
	PushoverUserKeys map[string]string
	Users            map[string]Credentials

	Pair     domain.Pair
	TakerFee decimal.Decimal
	FeeAsset string

	ExchangeRateURL string
	WebhookAddr     string
	WebhookPin      string

	// Platform venue of the user workers.
	Platform string
	// MarketPlatform venue of the market data worker.
	MarketPlatform string
	StateBackend   string
	LogDir         string
	// StateDir holds the order journals and the last-trade memory.
	StateDir      string
	SubmitOrders  bool
	CrashExitCode int

	FxPollInterval      time.Duration
	BalancePollInterval time.Duration
}

// UserNames returns the configured users in sorted order.
func (c Config) UserNames() []string {
	names := make([]string, 0, len(c.Users))
	for name := range c.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigTmp is the raw YAML form of Config.
type ConfigTmp struct {
	PushoverApplicationToken string               `yaml:"pushover_application_token"`
	PushoverUserKeys         map[string]string    `yaml:"pushover_user_keys"`
	Users                    map[string]UserTmp   `yaml:"users"`
	ExchangeVariables        ExchangeVariablesTmp `yaml:"exchange_variables"`
	EurUsdExchangeRateURL    string               `yaml:"eur_usd_exchange_rate_url"`
	Webhook                  WebhookTmp           `yaml:"webhook"`
	Platform                 string               `yaml:"platform"`
	MarketPlatform           string               `yaml:"market_platform,omitempty"`
	StateBackend             string               `yaml:"state_backend,omitempty"`
	LogDir                   string               `yaml:"log_dir,omitempty"`
	StateDir                 string               `yaml:"state_dir,omitempty"`
	SubmitOrders             bool                 `yaml:"submit_orders"`
	CrashExitCode            *int                 `yaml:"crash_exit_code,omitempty"`
	FxPollInterval           time.Duration        `yaml:"fx_poll_interval,omitempty"`
	BalancePollInterval      time.Duration        `yaml:"balance_poll_interval,omitempty"`
}

// UserTmp API keys of one user. Both may be left empty and provided via environment.
type UserTmp struct {
	APIKey    string `yaml:"api_key,omitempty"`
	APISecret string `yaml:"api_secret,omitempty"`
}

// ExchangeVariablesTmp trading parameters.
type ExchangeVariablesTmp struct {
	TakerFee string `yaml:"taker_fee"`
	Pair     string `yaml:"pair,omitempty"`
	FeeAsset string `yaml:"fee_asset,omitempty"`
}

// WebhookTmp signal ingress settings.
type WebhookTmp struct {
	Addr string `yaml:"addr,omitempty"`
	Pin  string `yaml:"pin"`
}

// Get loads .env, parses command line args and reads the configured YAML file.
// With -setup the returned config only carries the flags.
func Get(args []string, output io.Writer) (Config, Flags, error) {
	_ = godotenv.Load()

	flags, err := ParseFlags(args, output)
	if err != nil {
		return Config{}, Flags{}, err
	}
	if flags.Setup {
		return Config{Role: flags.Role, User: flags.User, Debug: flags.Debug}, flags, nil
	}

	data, err := os.ReadFile(flags.ConfigPath)
	if err != nil {
		return Config{}, flags, errors.Wrapf(err, "read config %s", flags.ConfigPath)
	}

	conf, err := Parse(data, flags)
	if err != nil {
		return Config{}, flags, errors.Wrapf(err, "config %s", flags.ConfigPath)
	}
	return conf, flags, nil
}

// Parse converts YAML into a validated Config for the process described by flags.
func Parse(data []byte, flags Flags) (Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "decode yaml")
	}
	return tmp.toConfig(flags)
}

func (c ConfigTmp) toConfig(flags Flags) (Config, error) {
	conf := Config{
		Role:                flags.Role,
		User:                flags.User,
		Debug:               flags.Debug,
		PushoverToken:       c.PushoverApplicationToken,
		PushoverUserKeys:    c.PushoverUserKeys,
		ExchangeRateURL:     c.EurUsdExchangeRateURL,
		WebhookAddr:         c.Webhook.Addr,
		WebhookPin:          c.Webhook.Pin,
		Platform:            strings.ToLower(c.Platform),
		MarketPlatform:      strings.ToLower(c.MarketPlatform),
		StateBackend:        strings.ToLower(c.StateBackend),
		LogDir:              c.LogDir,
		StateDir:            c.StateDir,
		SubmitOrders:        c.SubmitOrders,
		CrashExitCode:       defaultCrashExitCode,
		FxPollInterval:      c.FxPollInterval,
		BalancePollInterval: c.BalancePollInterval,
	}
	if conf.Role == "" {
		conf.Role = RoleAll
	}

	if len(c.Users) == 0 {
		return Config{}, fmt.Errorf("'users' must name at least one user")
	}
	if err := checkUserKeys(c.Users, c.PushoverUserKeys); err != nil {
		return Config{}, err
	}

	if c.ExchangeVariables.TakerFee == "" {
		return Config{}, fmt.Errorf("'exchange_variables.taker_fee' is required")
	}
	fee, err := decimal.NewFromString(c.ExchangeVariables.TakerFee)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'taker_fee' param in yaml config (must be a decimal), error: %w", err)
	}
	if fee.IsNegative() {
		return Config{}, fmt.Errorf("incorrect 'taker_fee' param in yaml config (must not be negative): %s", fee)
	}
	conf.TakerFee = fee

	pairStr := c.ExchangeVariables.Pair
	if pairStr == "" {
		pairStr = defaultPair
	}
	if conf.Pair, err = domain.ParsePair(pairStr); err != nil {
		return Config{}, fmt.Errorf("incorrect 'pair' param in yaml config: %s, error: %w", pairStr, err)
	}

	conf.FeeAsset = strings.ToUpper(c.ExchangeVariables.FeeAsset)
	if conf.FeeAsset == "" {
		conf.FeeAsset = defaultFeeAsset
	}

	if conf.Platform == "" {
		conf.Platform = PlatformBinance
	}
	switch conf.Platform {
	case PlatformBinance, PlatformBybit, PlatformSimulate:
	default:
		return Config{}, fmt.Errorf("unsupported platform: %s", conf.Platform)
	}

	if conf.MarketPlatform == "" {
		conf.MarketPlatform = conf.Platform
		if conf.Platform == PlatformSimulate {
			conf.MarketPlatform = PlatformBinance
		}
	}
	switch conf.MarketPlatform {
	case PlatformBinance, PlatformBybit:
	default:
		return Config{}, fmt.Errorf("unsupported market_platform: %s", conf.MarketPlatform)
	}

	if conf.StateBackend == "" {
		conf.StateBackend = BackendMemory
		if conf.Role != RoleAll {
			conf.StateBackend = BackendRedis
		}
	}
	switch conf.StateBackend {
	case BackendMemory:
		if conf.Role != RoleAll {
			return Config{}, fmt.Errorf("role %s shares state with other processes and needs state_backend %s", conf.Role, BackendRedis)
		}
	case BackendRedis:
	default:
		return Config{}, fmt.Errorf("unsupported state_backend: %s", conf.StateBackend)
	}

	if conf.Role == RoleUser {
		if _, ok := c.Users[conf.User]; !ok {
			return Config{}, fmt.Errorf("user %q is not configured", conf.User)
		}
	}

	if conf.WebhookAddr == "" {
		conf.WebhookAddr = defaultWebhookAddr
	}
	if conf.WebhookPin == "" && (conf.Role == RoleAll || conf.Role == RoleIngress) {
		return Config{}, fmt.Errorf("'webhook.pin' is required")
	}

	if conf.LogDir == "" {
		conf.LogDir = defaultLogDir
	}
	if conf.StateDir == "" {
		conf.StateDir = defaultStateDir
	}
	if c.CrashExitCode != nil {
		conf.CrashExitCode = *c.CrashExitCode
	}
	if conf.CrashExitCode == 0 {
		return Config{}, fmt.Errorf("'crash_exit_code' must differ from the clean exit code 0")
	}
	if conf.FxPollInterval <= 0 {
		conf.FxPollInterval = defaultFxPollInterval
	}
	if conf.BalancePollInterval <= 0 {
		conf.BalancePollInterval = defaultBalancePollInterval
	}

	conf.Users = make(map[string]Credentials, len(c.Users))
	for name, u := range c.Users {
		creds := Credentials{APIKey: u.APIKey, APISecret: u.APISecret}
		if creds.APIKey == "" {
			creds.APIKey = os.Getenv(envKey(name, "API_KEY"))
		}
		if creds.APISecret == "" {
			creds.APISecret = os.Getenv(envKey(name, "API_SECRET"))
		}
		if conf.Platform != PlatformSimulate && (creds.APIKey == "" || creds.APISecret == "") {
			return Config{}, fmt.Errorf("api keys of user %s are missing, set them in yaml or %s and %s",
				name, envKey(name, "API_KEY"), envKey(name, "API_SECRET"))
		}
		conf.Users[name] = creds
	}

	return conf, nil
}

func checkUserKeys(users map[string]UserTmp, pushoverKeys map[string]string) error {
	if len(pushoverKeys) == 0 {
		return nil
	}
	if len(users) != len(pushoverKeys) {
		return ErrUserKeysMismatch
	}
	for name := range users {
		if _, ok := pushoverKeys[name]; !ok {
			return errors.Wrapf(ErrUserKeysMismatch, "no pushover key for %s", name)
		}
	}
	return nil
}

// envKey returns SIGTRADER_<USER>_<suffix>.
func envKey(user, suffix string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, user)
	return "SIGTRADER_" + name + "_" + suffix
}

// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken     = "TELEGRAM_TOKEN"
	KeyBotOwner          = "BOT_OWNER"
	KeyMongoURI          = "MONGO_URI"
	KeyMongoDB           = "MONGO_DB"
	KeyAppEnv            = "APP_ENV"
	KeyLogLevel          = "LOG_LEVEL"
	KeyHTTPPort          = "HTTP_PORT"
	KeyWebhookURL        = "WEBHOOK_URL"
	KeyWebhookSecret     = "WEBHOOK_SECRET"
	KeyRequiredChannel   = "REQUIRED_CHANNEL"
	KeyRequiredGroup     = "REQUIRED_GROUP"
	KeyChannelInviteLink = "REQUIRED_CHANNEL_LINK"
	KeyGroupInviteLink   = "REQUIRED_GROUP_LINK"
	KeyLookupBaseURL     = "LOOKUP_BASE_URL"
	KeyLookupTimeout     = "LOOKUP_TIMEOUT"
	KeyLookupRate        = "LOOKUP_RATE"
	KeyMembershipTimeout = "MEMBERSHIP_TIMEOUT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv            = EnvProduction
	DefaultLogLevel          = "info"
	DefaultHTTPPort          = 8080
	DefaultRequiredChannel   = "@tech_master_a2z"
	DefaultRequiredGroup     = "@tech_chatx"
	DefaultLookupBaseURL     = "https://instagram-x-info.vercel.app/api/insta/r2x_4y"
	DefaultLookupTimeout     = 10 * time.Second
	DefaultLookupRate        = 5.0
	DefaultMembershipTimeout = 5 * time.Second

	// Recommended database names by environment.
	DefaultMongoDBProd = "gate_bot"
	DefaultMongoDBDev  = "gate_bot_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Required:    true,
		Description: "Telegram user_id allowed to see statistics and the admin panel.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP port serving /healthz, /metrics and the webhook endpoint.",
	},
	{
		Key:         KeyWebhookURL,
		Example:     "https://bot.example.com",
		Description: "Externally reachable base URL. When set the bot registers a webhook, otherwise it long-polls.",
	},
	{
		Key:         KeyWebhookSecret,
		Example:     "s3cr3t",
		Description: "Secret token Telegram echoes on every webhook request.",
	},
	{
		Key:         KeyRequiredChannel,
		Example:     DefaultRequiredChannel,
		Default:     DefaultRequiredChannel,
		Description: "Public channel users must join.",
	},
	{
		Key:         KeyRequiredGroup,
		Example:     DefaultRequiredGroup,
		Default:     DefaultRequiredGroup,
		Description: "Discussion group users must join.",
	},
	{
		Key:         KeyChannelInviteLink,
		Example:     "https://t.me/+AbCdEf123",
		Description: "Join link shown for the channel.",
		Notes:       "Required when " + KeyRequiredChannel + " is a numeric chat id; defaults to https://t.me/<handle>.",
	},
	{
		Key:         KeyGroupInviteLink,
		Example:     "https://t.me/+XyZ987",
		Description: "Join link shown for the group.",
		Notes:       "Required when " + KeyRequiredGroup + " is a numeric chat id; defaults to https://t.me/<handle>.",
	},
	{
		Key:         KeyLookupBaseURL,
		Example:     DefaultLookupBaseURL,
		Default:     DefaultLookupBaseURL,
		Description: "Profile API base; the username is appended as the last path segment.",
	},
	{
		Key:         KeyLookupTimeout,
		Example:     DefaultLookupTimeout.String(),
		Default:     DefaultLookupTimeout.String(),
		Description: "Timeout for a single profile lookup request.",
	},
	{
		Key:         KeyLookupRate,
		Example:     strconv.FormatFloat(DefaultLookupRate, 'f', -1, 64),
		Default:     strconv.FormatFloat(DefaultLookupRate, 'f', -1, 64),
		Description: "Maximum profile lookups per second sent to the API.",
	},
	{
		Key:         KeyMembershipTimeout,
		Example:     DefaultMembershipTimeout.String(),
		Default:     DefaultMembershipTimeout.String(),
		Description: "Timeout for each chat membership query.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken     string
	BotOwnerID        int64
	MongoURI          string
	MongoDB           string
	AppEnv            string
	LogLevel          string
	HTTPPort          int
	WebhookURL        string
	WebhookSecret     string
	RequiredChannel   string
	RequiredGroup     string
	ChannelLink       string
	GroupLink         string
	LookupBaseURL     string
	LookupTimeout     time.Duration
	LookupRate        float64
	MembershipTimeout time.Duration
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:            firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:     strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		MongoURI:          strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:           strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:          firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:          DefaultHTTPPort,
		WebhookURL:        strings.TrimRight(strings.TrimSpace(os.Getenv(KeyWebhookURL)), "/"),
		WebhookSecret:     strings.TrimSpace(os.Getenv(KeyWebhookSecret)),
		RequiredChannel:   chatHandle(firstNonEmpty(os.Getenv(KeyRequiredChannel), DefaultRequiredChannel)),
		RequiredGroup:     chatHandle(firstNonEmpty(os.Getenv(KeyRequiredGroup), DefaultRequiredGroup)),
		LookupBaseURL:     strings.TrimRight(firstNonEmpty(os.Getenv(KeyLookupBaseURL), DefaultLookupBaseURL), "/"),
		LookupTimeout:     DefaultLookupTimeout,
		LookupRate:        DefaultLookupRate,
		MembershipTimeout: DefaultMembershipTimeout,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	ownerRaw := strings.TrimSpace(os.Getenv(KeyBotOwner))
	if ownerRaw == "" {
		missing = append(missing, KeyBotOwner)
	} else {
		ownerID, parseErr := strconv.ParseInt(ownerRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBotOwner, parseErr)
		}
		cfg.BotOwnerID = ownerID
	}

	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}

	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateMongoURI(cfg.MongoURI); err != nil {
		return Config{}, err
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	if cfg.WebhookURL != "" {
		parsed, parseErr := url.Parse(cfg.WebhookURL)
		if parseErr != nil || parsed.Scheme != "https" || parsed.Host == "" {
			return Config{}, fmt.Errorf("invalid %s: must be an absolute https URL", KeyWebhookURL)
		}
	}

	if cfg.ChannelLink, err = joinLink(KeyRequiredChannel, cfg.RequiredChannel, KeyChannelInviteLink); err != nil {
		return Config{}, err
	}
	if cfg.GroupLink, err = joinLink(KeyRequiredGroup, cfg.RequiredGroup, KeyGroupInviteLink); err != nil {
		return Config{}, err
	}

	if parsed, parseErr := url.Parse(cfg.LookupBaseURL); parseErr != nil || parsed.Host == "" {
		return Config{}, fmt.Errorf("invalid %s: must be an absolute URL", KeyLookupBaseURL)
	}

	if cfg.LookupTimeout, err = parsePositiveDuration(KeyLookupTimeout, DefaultLookupTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MembershipTimeout, err = parsePositiveDuration(KeyMembershipTimeout, DefaultMembershipTimeout); err != nil {
		return Config{}, err
	}

	if rateRaw := strings.TrimSpace(os.Getenv(KeyLookupRate)); rateRaw != "" {
		lookupRate, parseErr := strconv.ParseFloat(rateRaw, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyLookupRate, parseErr)
		}
		if lookupRate <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyLookupRate)
		}
		cfg.LookupRate = lookupRate
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// WebhookMode reports whether updates arrive by webhook rather than long polling.
func (c Config) WebhookMode() bool {
	return c.WebhookURL != ""
}

// FormatRedacted renders the configuration with secrets masked so it can be
// printed or logged safely.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"telegram_token: " + redactSecret(cfg.TelegramToken),
		"bot_owner: " + strconv.FormatInt(cfg.BotOwnerID, 10),
		"mongo_uri: " + redactURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"webhook_url: " + firstNonEmpty(cfg.WebhookURL, "(polling)"),
		"webhook_secret: " + redactSecret(cfg.WebhookSecret),
		"required_channel: " + cfg.RequiredChannel,
		"required_group: " + cfg.RequiredGroup,
		"channel_link: " + cfg.ChannelLink,
		"group_link: " + cfg.GroupLink,
		"lookup_base_url: " + cfg.LookupBaseURL,
		"lookup_timeout: " + cfg.LookupTimeout.String(),
		"lookup_rate: " + strconv.FormatFloat(cfg.LookupRate, 'f', -1, 64),
		"membership_timeout: " + cfg.MembershipTimeout.String(),
	}

	return strings.Join(lines, "\n")
}

func redactSecret(value string) string {
	if value == "" {
		return "(unset)"
	}
	if len(value) <= 4 {
		return "...redacted"
	}
	return value[:4] + "...redacted"
}

func redactURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	parsed.User = nil
	return parsed.String()
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func validateMongoURI(uri string) error {
	if strings.HasPrefix(uri, "mongodb://") || strings.HasPrefix(uri, "mongodb+srv://") {
		return nil
	}

	return fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
}

func parsePositiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return value, nil
}

// chatHandle normalizes a public chat reference to the @username form
// accepted by getChatMember.
func chatHandle(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "https://t.me/")
	if value == "" || strings.HasPrefix(value, "@") || strings.HasPrefix(value, "-") {
		return value
	}
	return "@" + value
}

// joinLink resolves the link users follow to join chat. Public handles map to
// t.me; numeric chat ids have no public link and need an explicit invite link.
func joinLink(chatKey, chat, linkKey string) (string, error) {
	if explicit := strings.TrimSpace(os.Getenv(linkKey)); explicit != "" {
		parsed, err := url.Parse(explicit)
		if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
			return "", fmt.Errorf("invalid %s: must be an absolute https URL", linkKey)
		}
		return explicit, nil
	}

	if strings.HasPrefix(chat, "-") {
		return "", fmt.Errorf("%s is a numeric chat id; set %s to its invite link", chatKey, linkKey)
	}

	return "https://t.me/" + strings.TrimPrefix(chat, "@"), nil
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

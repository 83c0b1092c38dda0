//nolint:lll // struct tags can't be split
package vendcord

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	EnvvarSetEnvPrefix = "VENDCORD_ENV_PREFIX"
	DefaultEnvPrefix   = "VC"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "vendcord.sqlite3"
	DefaultLogLevel              = slog.LevelInfo
	DefaultDatabaseLogLevel      = slog.LevelInfo
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultAPILogLevel           = slog.LevelInfo
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultAPIListen     = "127.0.0.1:5000"
	defaultListenNetwork = "tcp"

	// DefaultDiscordGatewayIntent includes the guild/member/invite intents
	// needed for invite attribution, in addition to the defaults.
	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildInvites |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages

	DefaultDiscordErrorMessage   = "Sorry, something went wrong!"
	DefaultDiscordStartupMessage = "I'm here!"

	// DefaultInviteFakeAge is the minimum account age for a join to count
	// as a valid invite rather than a fake.
	DefaultInviteFakeAge = 7 * 24 * time.Hour

	// DefaultDMsPerSecond limits outbound direct messages (deliveries and
	// reveals), under Discord's own REST rate limits.
	DefaultDMsPerSecond = 1

	DefaultBrandName   = "VendCord Store"
	DefaultBrandColor  = 0x00ff99
	DefaultBrandFooter = "VendCord • Secure Auto Delivery"

	// vouchMessageMaxLength caps the free-text portion of a review
	vouchMessageMaxLength = 1000

	discordMaxMessageLength = 2000
)

var DefaultCORSConfig = CORSConfig{
	AllowOrigins:     []string{},
	AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead},
	AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
	ExposeHeaders:    []string{"Content-Type", "Content-Length"},
	AllowCredentials: false,
	MaxAge:           12 * time.Hour,
}

// Config is the static, environment-sourced bot configuration. It's read
// once at startup and immutable afterward.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the read-only status API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Branding configures storefront presentation strings
	Branding BrandingConfig `yaml:"branding" mapstructure:"branding" json:"branding"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits the time the bot has to connect and register
	// commands before startup is aborted
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// AdminRoleID is the role required to add stock and decide orders
	AdminRoleID string `yaml:"admin_role_id" mapstructure:"admin_role_id" json:"admin_role_id" binding:"required"`

	// AdminChannelID is where new purchase requests are posted for review
	AdminChannelID string `yaml:"admin_channel_id" mapstructure:"admin_channel_id" json:"admin_channel_id" binding:"required"`

	// VouchChannelID is where accepted reviews are announced. Optional.
	VouchChannelID string `yaml:"vouch_channel_id" mapstructure:"vouch_channel_id" json:"vouch_channel_id"`

	// LogChannelID receives bot startup notices. Optional.
	LogChannelID string `yaml:"log_channel_id" mapstructure:"log_channel_id" json:"log_channel_id"`

	// StartupMessage is sent to LogChannelID on gateway connect, if both are set
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// ErrorMessage is the generic user-facing reply for unexpected failures
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message"`

	// InviteFakeAge is the minimum account age for a join to count as valid
	InviteFakeAge time.Duration `yaml:"invite_fake_age" mapstructure:"invite_fake_age" json:"invite_fake_age"`

	// DMsPerSecond limits outbound direct message sends. 0 disables the limiter.
	DMsPerSecond float64 `yaml:"dms_per_second" mapstructure:"dms_per_second" json:"dms_per_second"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// BrandingConfig holds storefront presentation strings used in embeds.
type BrandingConfig struct {
	Name       string `yaml:"name" mapstructure:"name" json:"name"`
	Color      int    `yaml:"color" mapstructure:"color" json:"color"`
	Footer     string `yaml:"footer" mapstructure:"footer" json:"footer"`
	SupportURL string `yaml:"support_url" mapstructure:"support_url" json:"support_url"`
}

// APIConfig configures the read-only status API server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// Determines if the API server should be active
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000")
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix")
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// Token is the bearer token required on every request
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required_if=Enabled true"`

	// The logging level for the API server
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,min=1s"`

	// Amount of time allowed to read request headers
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true,min=1s"`

	// Maximum duration before timing out writes of the response
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true,min=1s"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
			ErrorMessage:      DefaultDiscordErrorMessage,
			InviteFakeAge:     DefaultInviteFakeAge,
			DMsPerSecond:      DefaultDMsPerSecond,
		},
		Branding: BrandingConfig{
			Name:   DefaultBrandName,
			Color:  DefaultBrandColor,
			Footer: DefaultBrandFooter,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig,
		},
	}
}

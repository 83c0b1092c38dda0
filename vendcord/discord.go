package vendcord

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandBuy         = "buy"
	DiscordSlashCommandAddStock    = "addstock"
	DiscordSlashCommandStockCount  = "stockcount"
	DiscordSlashCommandImportStock = "importstock"
	DiscordSlashCommandVouch       = "vouch"
	DiscordSlashCommandInvites     = "invites"

	commandOptionProduct = "product"
	commandOptionPayload = "payload"
	commandOptionFile    = "file"
	commandOptionOrderID = "order_id"
	commandOptionRating  = "rating"
	commandOptionMessage = "message"
	commandOptionUser    = "user"

	customIDFormat = "%s:%s"

	// maskedPayload is shown in the delivery DM until the buyer clicks
	// the reveal button
	maskedPayload = "••••••••••"
)

// buttonAction is the kind of message component a custom_id belongs to.
type buttonAction string

const (
	buttonActionApprove buttonAction = "approve"
	buttonActionReject  buttonAction = "reject"
	buttonActionReveal  buttonAction = "reveal"
)

// CustomID represents a decoded `custom_id` discord button component
// field: the button action, and the order ID it applies to.
type CustomID struct {
	Action  buttonAction
	OrderID string
}

func (c CustomID) String() string {
	return fmt.Sprintf(customIDFormat, c.Action, c.OrderID)
}

func (c CustomID) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("action", string(c.Action)),
		slog.String("order_id", c.OrderID),
	)
}

// decodeCustomID accepts a `custom_id` value that's been set in a discord
// button component, and decodes it into a CustomID struct.
func decodeCustomID(customID string) (CustomID, error) {
	action, orderID, found := strings.Cut(customID, ":")
	if !found || action == "" || orderID == "" {
		return CustomID{}, fmt.Errorf("invalid custom_id format: %q", customID)
	}

	switch buttonAction(action) {
	case buttonActionApprove, buttonActionReject, buttonActionReveal:
		return CustomID{
			Action:  buttonAction(action),
			OrderID: orderID,
		}, nil
	default:
		return CustomID{}, fmt.Errorf("unknown custom_id action: %q", action)
	}
}

// Discord manages the Discord session for VendCord: connection lifecycle,
// command registration, and outbound sends. Inbound events are dispatched
// to the bot by handlers registered in [VendCord.initDiscordSession].
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config == nil {
		return nil, fmt.Errorf("nil discord config")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes a new Discord session for the Discord struct.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}

	return session, nil
}

// channelMessageSend sends the given message to the given discord channel ID
func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", r.SessionID,
			"user_id", r.User.ID,
			"username", r.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, r *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("Connected", "session_id", sessionID)

		if d.config.LogChannelID != "" && d.config.StartupMessage != "" {
			if sendErr := d.channelMessageSend(
				d.config.LogChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, r *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected")
	}
}

// appCommandBuy creates the `/buy` command, which submits a purchase
// request for admin approval.
func (*Discord) appCommandBuy() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandBuy,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Buy a product",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionProduct,
				Description: "Product name",
				Required:    true,
			},
		},
	}
}

// appCommandAddStock creates the `/addstock` command (admin only).
func (*Discord) appCommandAddStock() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandAddStock,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Add stock (admin only)",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionProduct,
				Description: "Product name",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionPayload,
				Description: "Code / account",
				Required:    true,
			},
		},
	}
}

// appCommandImportStock creates the `/importstock` command (admin only),
// which bulk-imports stock from an attached text file, one unit per line.
func (*Discord) appCommandImportStock() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandImportStock,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Bulk import stock from a .txt file (admin only)",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionProduct,
				Description: "Product name",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        commandOptionFile,
				Description: "Text file, one code/account per line",
				Required:    true,
			},
		},
	}
}

// appCommandStockCount creates the `/stockcount` command.
func (*Discord) appCommandStockCount() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandStockCount,
		Type:        discordgo.ChatApplicationCommand,
		Description: "View remaining stock",
	}
}

// appCommandVouch creates the `/vouch` command for post-delivery reviews.
func (*Discord) appCommandVouch() *discordgo.ApplicationCommand {
	minRating := 1.0
	maxRating := float64(5)
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandVouch,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Leave a review for a delivered order",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionOrderID,
				Description: "Order ID from your delivery message",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        commandOptionRating,
				Description: "Rating from 1 to 5",
				Required:    true,
				MinValue:    &minRating,
				MaxValue:    maxRating,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionMessage,
				Description: "Optional review message",
				Required:    false,
			},
		},
	}
}

// appCommandInvites creates the `/invites` command.
func (*Discord) appCommandInvites() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandInvites,
		Type:        discordgo.ChatApplicationCommand,
		Description: "View invite counts",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        commandOptionUser,
				Description: "User to look up (defaults to you)",
				Required:    false,
			},
		},
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands := []*discordgo.ApplicationCommand{
		d.appCommandBuy(),
		d.appCommandAddStock(),
		d.appCommandImportStock(),
		d.appCommandStockCount(),
		d.appCommandVouch(),
		d.appCommandInvites(),
	}

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name)
	}

	return created, nil
}

// DiscordSessionHandler defines the interface for handling Discord
// sessions. This basically defines methods from `discordgo.Session` which
// are used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// ChannelMessageSend sends a message to a specified channel
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendComplex sends a message with embeds/components
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// UserChannelCreate creates (or fetches) a DM channel with a user
	UserChannelCreate(
		recipientID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// ApplicationCommandBulkOverwrite overwrites Discord application
	// commands in bulk
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GuildInvites returns the active invites for a guild
	GuildInvites(
		guildID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Invite, error)

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendComplex(channelID, data, opts...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(recipientID, opts...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name)
	}

	return created, nil
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) GuildInvites(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Invite, error) {
	return d.session.GuildInvites(guildID, options...)
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

package vendcord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Set via:
// -ldflags "-X github.com/mvarley/vendcord/vendcord.Version=$$(date +'%Y%m%d')"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// structValidator validates config structs via their `binding` tags
var structValidator = validator.New(validator.WithRequiredStructEnabled())

//nolint:gochecknoinits // gotta register the tag name
func init() {
	structValidator.SetTagName("binding")
}

// VendCord is the storefront bot: it connects to the Discord gateway,
// registers the storefront slash commands, and dispatches interactions to
// the [Storefront] service. One instance runs at a time per process.
type VendCord struct {
	config *Config

	db      *gorm.DB
	writeDB DBI
	store   *Storefront

	discord *Discord
	invites *inviteTracker
	api     *API

	// dmLimiter throttles outbound direct messages (payload deliveries
	// and reveal responses)
	dmLimiter *rate.Limiter

	logger     *slog.Logger
	logHandler slog.Handler

	// runMu prevents overlapping Run calls
	runMu sync.Mutex

	// signalStop cancels the Run context (used by shutdown tests and the
	// signal handler)
	signalStop context.CancelFunc

	// getInteractionHandlerFunc returns the handler used to respond to a
	// given interaction. Overridden in tests to capture responses.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates and validates a new VendCord instance from the given config.
// The bot doesn't touch the database or Discord until [VendCord.Run].
func New(config *Config) (*VendCord, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := structValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logHandler := tint.NewHandler(
		defaultLogWriter,
		&tint.Options{Level: config.LogLevel, AddSource: true},
	)
	logger := slog.New(logHandler).With(loggerNameKey, "vendcord")
	slog.SetDefault(logger)

	bot := &VendCord{
		config:     config,
		logger:     logger,
		logHandler: logHandler,
	}

	discord, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	discord.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter,
			&tint.Options{Level: config.Discord.LogLevel, AddSource: true},
		),
	).With(loggerNameKey, "discord")
	discord.config.httpClient = config.HTTPClient
	bot.discord = discord

	if config.Discord.DMsPerSecond > 0 {
		bot.dmLimiter = rate.NewLimiter(
			rate.Limit(config.Discord.DMsPerSecond),
			1,
		)
	} else {
		bot.dmLimiter = rate.NewLimiter(rate.Inf, 0)
	}

	bot.getInteractionHandlerFunc = bot.getInteractionHandler

	return bot, nil
}

// Run validates remaining runtime state, connects to the database and to
// Discord, registers commands, and blocks until the context is canceled
// or a SIGINT/SIGTERM is received, then shuts down gracefully.
func (v *VendCord) Run(ctx context.Context) error {
	v.runMu.Lock()
	defer v.runMu.Unlock()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	v.signalStop = cancel

	startupCtx, startupCancel := context.WithTimeout(ctx, v.config.StartupTimeout)
	defer startupCancel()

	db, err := CreateDB(startupCtx, v.config.DatabaseType, v.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	v.db = db
	v.writeDB = NewDatabase(
		db,
		v.logger,
		v.config.DatabaseType != dbTypeSQLite,
	)
	v.store = NewStorefront(db, v.writeDB, v.logger)
	v.invites = newInviteTracker(v)

	if err = v.initDiscordSession(startupCtx); err != nil {
		return err
	}

	if _, err = v.discord.registerCommands(); err != nil {
		_ = v.discord.session.Close()
		return fmt.Errorf("error registering commands: %w", err)
	}

	var apiErrCh chan error
	if v.config.API != nil && v.config.API.Enabled {
		v.api, err = newAPI(v, v.config.API)
		if err != nil {
			_ = v.discord.session.Close()
			return err
		}
		apiErrCh = make(chan error, 1)
		go func() {
			apiErrCh <- v.api.Serve(ctx)
		}()
	}

	v.logger.InfoContext(ctx, "started", "config", v.config)

	select {
	case <-ctx.Done():
		v.logger.Info("shutting down")
	case apiErr := <-apiErrCh:
		if apiErr != nil && !errors.Is(apiErr, http.ErrServerClosed) {
			v.logger.Error("api server failed", tint.Err(apiErr))
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		v.config.ShutdownTimeout,
	)
	defer shutdownCancel()

	if v.api != nil {
		if shutdownErr := v.api.Shutdown(shutdownCtx); shutdownErr != nil {
			v.logger.Warn("error shutting down api server", tint.Err(shutdownErr))
		}
	}
	if closeErr := v.discord.session.Close(); closeErr != nil {
		v.logger.Warn("error closing discord session", tint.Err(closeErr))
	}
	for _, removeHandler := range v.discord.discordgoRemoveHandlerFuncs {
		removeHandler()
	}

	sqlDB, dbErr := v.db.DB()
	if dbErr == nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			v.logger.Warn("error closing database", tint.Err(closeErr))
		}
	}

	v.logger.Info("stopped")
	return nil
}

// initDiscordSession creates the gateway session, registers event
// handlers, and opens the websocket connection.
func (v *VendCord) initDiscordSession(ctx context.Context) error {
	session, err := v.discord.newSession()
	if err != nil {
		return err
	}
	v.discord.session = session

	discordgo.Logger = discordgoLoggerFunc(
		context.WithoutCancel(ctx),
		v.logHandler,
	)

	v.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(v.discord.handlerReady()),
		session.AddHandler(v.discord.handlerConnect()),
		session.AddHandler(v.discord.handlerDisconnect()),
		session.AddHandler(v.handlerInteractionCreate()),
		session.AddHandler(v.invites.handlerReady()),
		session.AddHandler(v.invites.handlerInviteCreate()),
		session.AddHandler(v.invites.handlerInviteDelete()),
		session.AddHandler(v.invites.handlerGuildMemberAdd()),
		session.AddHandler(v.invites.handlerGuildMemberRemove()),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	return nil
}

// handlerInteractionCreate returns the gateway InteractionCreate handler.
// Each interaction is dispatched in its own goroutine, so a slow handler
// can't block the gateway event loop.
func (v *VendCord) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		go v.handleInteraction(
			WithLogger(context.Background(), v.logger),
			i,
		)
	}
}

// handleInteraction routes a single inbound interaction: slash commands by
// name, buttons by custom_id action, and modal submissions.
func (v *VendCord) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	u := getDiscordUser(i)
	if u == nil {
		v.logger.WarnContext(
			ctx,
			"no user found for interaction",
			interactionLogAttrs(*i)...,
		)
		return
	}

	logger := v.logger.With(
		slog.Group(
			"interaction",
			append(interactionLogAttrs(*i), "user_id", u.ID)...,
		),
	)
	ctx = WithLogger(ctx, logger)
	handler := v.getInteractionHandlerFunc(ctx, i)

	go v.auditInteraction(ctx, i, u)

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		switch data.Name {
		case DiscordSlashCommandBuy:
			v.handleBuy(ctx, handler)
		case DiscordSlashCommandAddStock:
			v.handleAddStock(ctx, handler)
		case DiscordSlashCommandImportStock:
			v.handleImportStock(ctx, handler)
		case DiscordSlashCommandStockCount:
			v.handleStockCount(ctx, handler)
		case DiscordSlashCommandVouch:
			v.handleVouch(ctx, handler)
		case DiscordSlashCommandInvites:
			v.handleInvites(ctx, handler)
		default:
			logger.WarnContext(ctx, "unknown command", "command", data.Name)
		}
	case discordgo.InteractionMessageComponent:
		customID, err := decodeCustomID(i.MessageComponentData().CustomID)
		if err != nil {
			logger.ErrorContext(ctx, "bad custom_id", tint.Err(err))
			return
		}
		switch customID.Action {
		case buttonActionApprove:
			v.handleDecision(ctx, handler, customID.OrderID, DecisionApprove)
		case buttonActionReject:
			v.handleDecision(ctx, handler, customID.OrderID, DecisionReject)
		case buttonActionReveal:
			v.handleReveal(ctx, handler, customID.OrderID)
		}
	case discordgo.InteractionModalSubmit:
		v.handleVouchModal(ctx, handler)
	default:
		logger.WarnContext(ctx, "unhandled interaction type", "type", i.Type.String())
	}
}

// auditInteraction records the inbound interaction. Failures are logged
// and don't affect handling.
func (v *VendCord) auditInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *discordgo.User,
) {
	record, err := newInteractionLog(i, u)
	if err != nil {
		v.logger.ErrorContext(ctx, "error creating interaction log", tint.Err(err))
		return
	}
	if _, err = v.writeDB.Create(ctx, record); err != nil {
		v.logger.ErrorContext(ctx, "error saving interaction log", tint.Err(err))
	}
}

// sendDM creates (or fetches) a DM channel with the given user and sends
// the message, waiting on the DM rate limiter first.
func (v *VendCord) sendDM(
	ctx context.Context,
	userID string,
	data *discordgo.MessageSend,
) (*discordgo.Message, error) {
	if err := v.dmLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("dm limiter: %w", err)
	}
	channel, err := v.discord.session.UserChannelCreate(userID)
	if err != nil {
		return nil, fmt.Errorf("error creating DM channel: %w", err)
	}
	return v.discord.session.ChannelMessageSendComplex(channel.ID, data)
}

func (v *VendCord) getInteractionHandler(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) InteractionHandler {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = v.logger
	}
	return GatewayHandler{
		session:     v.discord.session,
		interaction: i,
		config:      v.config.Discord,
		logger:      logger.With(loggerNameKey, "gateway_handler"),
	}
}

// InteractionHandler abstracts responding to a Discord interaction, so
// command handlers can be exercised in tests without a gateway connection.
type InteractionHandler interface {
	// Respond sends the initial interaction response
	Respond(ctx context.Context, response *discordgo.InteractionResponse)

	// Edit modifies the original interaction response
	Edit(ctx context.Context, edit *discordgo.WebhookEdit)

	// GetInteraction returns the interaction being handled
	GetInteraction() *discordgo.InteractionCreate

	Logger() *slog.Logger
}

// GatewayHandler responds to interactions received over the gateway
// websocket connection. Implements [InteractionHandler].
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	config      *DiscordConfig
	logger      *slog.Logger
}

func (g GatewayHandler) Logger() *slog.Logger {
	return g.logger
}

func (g GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return g.interaction
}

func (g GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = g.logger
	}
	start := time.Now()
	err := g.session.InteractionRespond(g.interaction.Interaction, response)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error responding to interaction",
			tint.Err(err),
			"duration", time.Since(start),
		)
		return
	}
	logger.InfoContext(ctx, "sent interaction response", "duration", time.Since(start))
}

func (g GatewayHandler) Edit(ctx context.Context, edit *discordgo.WebhookEdit) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = g.logger
	}
	if _, err := g.session.InteractionResponseEdit(
		g.interaction.Interaction,
		edit,
	); err != nil {
		logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
}

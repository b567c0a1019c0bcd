// Package discord exposes the generation service as Discord slash
// commands.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/pixelsmith-dev/pixelsmith/pkg/config"
	"github.com/pixelsmith-dev/pixelsmith/pkg/services"
	"github.com/pixelsmith-dev/pixelsmith/pkg/storage"
)

// requestTimeout bounds a single command end to end, including the
// upstream image call.
const requestTimeout = 5 * time.Minute

// Bot owns the gateway session and routes interactions to the
// generation service.
type Bot struct {
	session     *discordgo.Session
	generations services.GenerationService
	fetcher     storage.AttachmentFetcher
	cfg         config.DiscordConfig
	limits      config.LimitsConfig
	logger      *zap.Logger
}

// NewSession creates an unopened gateway session for the bot token.
// Creating the session separately lets the staff notifier share it.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	return session, nil
}

// NewBot creates the bot over an unopened session. The session is not
// opened until Start.
func NewBot(
	session *discordgo.Session,
	cfg config.DiscordConfig,
	limits config.LimitsConfig,
	generations services.GenerationService,
	fetcher storage.AttachmentFetcher,
	logger *zap.Logger,
) *Bot {
	return &Bot{
		session:     session,
		generations: generations,
		fetcher:     fetcher,
		cfg:         cfg,
		limits:      limits,
		logger:      logger.Named("discord"),
	}
}

// Start opens the gateway connection and registers the slash commands.
func (b *Bot) Start() error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("gateway session ready",
			zap.String("username", r.User.Username))
	})
	b.session.AddHandler(b.handleInteraction)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway connection: %w", err)
	}

	appID := b.session.State.User.ID
	registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.cfg.GuildID, commandDefinitions())
	if err != nil {
		b.session.Close()
		return fmt.Errorf("failed to register slash commands: %w", err)
	}
	b.logger.Info("slash commands registered", zap.Int("count", len(registered)))

	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error {
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("failed to close gateway connection: %w", err)
	}
	return nil
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	name := i.ApplicationCommandData().Name
	logger := b.logger.With(
		zap.String("command", name),
		zap.String("user_id", interactionUserID(i)))

	var err error
	switch name {
	case "prompt":
		err = b.handlePrompt(ctx, s, i)
	case "edit":
		err = b.handleEdit(ctx, s, i)
	case "blend":
		err = b.handleBlend(ctx, s, i)
	case "history":
		err = b.handleHistory(ctx, s, i)
	default:
		return
	}

	if err != nil {
		logger.Error("command failed", zap.Error(err))
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

package discord

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/pixelsmith-dev/pixelsmith/pkg/apperrors"
	"github.com/pixelsmith-dev/pixelsmith/pkg/imagegen"
	"github.com/pixelsmith-dev/pixelsmith/pkg/services"
	"github.com/pixelsmith-dev/pixelsmith/pkg/storage"
)

func deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		return fmt.Errorf("failed to defer response: %w", err)
	}
	return nil
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) error {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to respond: %w", err)
	}
	return nil
}

func editContent(s *discordgo.Session, i *discordgo.InteractionCreate, content string) error {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
	if err != nil {
		return fmt.Errorf("failed to edit response: %w", err)
	}
	return nil
}

func editWithImage(s *discordgo.Session, i *discordgo.InteractionCreate, content, filename string, image []byte) error {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
		Files: []*discordgo.File{
			{
				Name:        filename,
				ContentType: "image/png",
				Reader:      bytes.NewReader(image),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to edit response with image: %w", err)
	}
	return nil
}

// editWithError maps a service error onto the deferred reply. Denials
// and upstream failures each get their own user-facing message; the
// operator detail stays in the log.
func (b *Bot) editWithError(s *discordgo.Session, i *discordgo.InteractionCreate, err error) error {
	b.logger.Warn("request failed", zap.Error(err))
	return editContent(s, i, userMessage(err))
}

func userMessage(err error) string {
	var denied *services.PolicyDeniedError
	if errors.As(err, &denied) {
		switch denied.Decision.Reason {
		case services.DenialDailyLimit:
			return fmt.Sprintf(
				"You reached the maximum number of images you can generate today (%d). Please try again tomorrow.",
				denied.Decision.DailyLimit)
		case services.DenialBudgetExceeded:
			return "The image budget for this month has been exhausted. Please contact the server staff."
		}
	}

	if errors.Is(err, apperrors.ErrSlotOutOfRange) {
		return "That history slot does not exist. Use `/history` to see your recent generations."
	}
	if errors.Is(err, apperrors.ErrGenerationNotFound) {
		return "No generation with that id was found in your history."
	}

	var download *storage.DownloadFailedError
	if errors.As(err, &download) {
		return "The attached image could not be downloaded. Please try again."
	}

	var imgErr *imagegen.Error
	if errors.As(err, &imgErr) {
		return imgErr.UserMessage()
	}

	return "An unexpected error occurred while executing this command. Please try again later."
}

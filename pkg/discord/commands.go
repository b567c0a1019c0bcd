package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/pixelsmith-dev/pixelsmith/pkg/services"
)

var sizeChoices = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "1024 x 1024", Value: "1024x1024"},
	{Name: "1536 x 1024 (landscape)", Value: "1536x1024"},
	{Name: "1024 x 1536 (portrait)", Value: "1024x1536"},
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "prompt",
			Description: "Generate an AI image from a text prompt.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "prompt",
					Description: "Describe the image you want to generate",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "image",
					Description: "Optional base image to transform",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "size",
					Description: "Output image size",
					Choices:     sizeChoices,
				},
			},
		},
		{
			Name:        "edit",
			Description: "Edit one of your previous generations.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "prompt",
					Description: "Describe how you want to change the image",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "slot",
					Description: "History position to edit (1 = most recent)",
					MinValue:    &minSlot,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "id",
					Description: "Generation id to edit (see /history)",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "size",
					Description: "Output image size",
					Choices:     sizeChoices,
				},
			},
		},
		{
			Name:        "blend",
			Description: "Generate an image from a prompt and a reference image.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "image",
					Description: "Reference image",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "prompt",
					Description: "Describe how you want the final image to look",
					Required:    true,
				},
			},
		},
		{
			Name:        "history",
			Description: "Show your recent generations.",
		},
	}
}

var minSlot = float64(1)

func (b *Bot) handlePrompt(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	opts := newOptionReader(i)
	prompt := opts.stringOption("prompt")
	size := opts.stringOption("size")
	attachment := opts.attachmentOption("image")

	if attachment != nil && !isImageAttachment(attachment) {
		return respondEphemeral(s, i, "Please upload a valid image file.")
	}

	if err := deferResponse(s, i); err != nil {
		return err
	}

	req := services.GenerateRequest{
		UserID: interactionUserID(i),
		Prompt: prompt,
		Size:   size,
	}
	if attachment != nil {
		data, err := b.fetcher.Fetch(ctx, attachment.URL)
		if err != nil {
			return b.editWithError(s, i, err)
		}
		req.BaseImage = data
	}

	result, err := b.generations.Generate(ctx, req)
	if err != nil {
		return b.editWithError(s, i, err)
	}

	return b.deliver(s, i, prompt, result)
}

func (b *Bot) handleBlend(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	opts := newOptionReader(i)
	prompt := opts.stringOption("prompt")
	attachment := opts.attachmentOption("image")

	if attachment == nil || !isImageAttachment(attachment) {
		return respondEphemeral(s, i, "Please upload a valid image file.")
	}

	if err := deferResponse(s, i); err != nil {
		return err
	}

	data, err := b.fetcher.Fetch(ctx, attachment.URL)
	if err != nil {
		return b.editWithError(s, i, err)
	}

	result, err := b.generations.Generate(ctx, services.GenerateRequest{
		UserID:    interactionUserID(i),
		Prompt:    prompt,
		BaseImage: data,
	})
	if err != nil {
		return b.editWithError(s, i, err)
	}

	return b.deliver(s, i, prompt, result)
}

func (b *Bot) handleEdit(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	opts := newOptionReader(i)
	prompt := opts.stringOption("prompt")
	size := opts.stringOption("size")
	slot := int(opts.intOption("slot"))
	id := opts.intOption("id")

	if slot > 0 && id > 0 {
		return respondEphemeral(s, i, "Use either `slot` or `id`, not both.")
	}
	if slot == 0 && id == 0 {
		// Editing the most recent image is the common case.
		slot = 1
	}

	if err := deferResponse(s, i); err != nil {
		return err
	}

	result, err := b.generations.Edit(ctx, services.EditRequest{
		UserID:       interactionUserID(i),
		Slot:         slot,
		GenerationID: id,
		Prompt:       prompt,
		Size:         size,
	})
	if err != nil {
		return b.editWithError(s, i, err)
	}

	return b.deliver(s, i, prompt, result)
}

func (b *Bot) handleHistory(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	// History lookups are local and fast; no deferral needed.
	recent, err := b.generations.ListRecent(ctx, interactionUserID(i), b.limits.HistoryPerUser)
	if err != nil {
		return respondEphemeral(s, i, "Could not load your history. Please try again later.")
	}
	if len(recent) == 0 {
		return respondEphemeral(s, i, "You have no generations yet. Try `/prompt` to create one.")
	}

	var sb strings.Builder
	sb.WriteString("Your recent generations (newest first):\n")
	for idx, gen := range recent {
		line := fmt.Sprintf("`%2d.` id %d · %s · %s",
			idx+1, gen.ID, gen.SourceType, gen.CreatedAt.UTC().Format("Jan 2 15:04"))
		if gen.ParentGenerationID != nil {
			line += fmt.Sprintf(" · from %d", *gen.ParentGenerationID)
		}
		sb.WriteString(line + "\n")
		sb.WriteString(fmt.Sprintf("     %s\n", truncatePrompt(gen.Prompt, 80)))
	}
	sb.WriteString("\nUse `/edit slot:<n>` or `/edit id:<id>` to continue from one of these.")

	return respondEphemeral(s, i, sb.String())
}

// deliver sends the finished image back through the deferred reply.
func (b *Bot) deliver(s *discordgo.Session, i *discordgo.InteractionCreate, prompt string, result *services.GenerationResult) error {
	filename := "image.png"
	content := fmt.Sprintf("Here is your image.\nPrompt: `%s`", truncatePrompt(prompt, 500))
	if result.Generation != nil {
		filename = fmt.Sprintf("ai-image-%d.png", result.Generation.ID)
	}
	if result.Unrecorded {
		content += "\n_This image could not be saved to your history._"
	} else if result.Quota != nil && result.Quota.RemainingToday >= 0 {
		content += fmt.Sprintf("\n_%d of %d daily images remaining._",
			result.Quota.RemainingToday, result.Quota.DailyLimit)
	}

	return editWithImage(s, i, content, filename, result.Image)
}

// isImageAttachment requires a declared image content type; an absent
// type is rejected rather than sent upstream on faith.
func isImageAttachment(a *discordgo.MessageAttachment) bool {
	return strings.HasPrefix(a.ContentType, "image/")
}

// truncatePrompt bounds the prompt to max runes, never splitting a
// multi-byte character.
func truncatePrompt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// optionReader flattens interaction options and resolved attachments.
type optionReader struct {
	options  map[string]*discordgo.ApplicationCommandInteractionDataOption
	resolved *discordgo.ApplicationCommandInteractionDataResolved
}

func newOptionReader(i *discordgo.InteractionCreate) *optionReader {
	data := i.ApplicationCommandData()
	options := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options))
	for _, opt := range data.Options {
		options[opt.Name] = opt
	}
	return &optionReader{options: options, resolved: data.Resolved}
}

func (r *optionReader) stringOption(name string) string {
	if opt, ok := r.options[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (r *optionReader) intOption(name string) int64 {
	if opt, ok := r.options[name]; ok {
		return opt.IntValue()
	}
	return 0
}

func (r *optionReader) attachmentOption(name string) *discordgo.MessageAttachment {
	opt, ok := r.options[name]
	if !ok || r.resolved == nil {
		return nil
	}
	return r.resolved.Attachments[opt.Value.(string)]
}

package vendcord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleAddStock handles the `/addstock` slash command (admin only):
// insert one unit of stock for a product.
func (v *VendCord) handleAddStock(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	u := getDiscordUser(i)

	if !memberHasRole(i, v.config.Discord.AdminRoleID) {
		v.respondEphemeral(ctx, handler, userErrorMessage(ErrUnauthorized, ""))
		return
	}

	opts := discordInteractionOptions(i)
	productOpt, productOK := opts[commandOptionProduct]
	payloadOpt, payloadOK := opts[commandOptionPayload]
	if !productOK || !payloadOK {
		v.respondEphemeral(ctx, handler, v.config.Discord.ErrorMessage)
		return
	}

	item, err := v.store.AddStock(
		ctx,
		productOpt.StringValue(),
		payloadOpt.StringValue(),
		u.ID,
	)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error adding stock", tint.Err(err))
		v.respondEphemeral(ctx, handler, v.config.Discord.ErrorMessage)
		return
	}

	v.respondEphemeral(
		ctx,
		handler,
		fmt.Sprintf("Added 1 unit of **%s**.", item.Product),
	)
}

// handleImportStock handles the `/importstock` slash command (admin
// only): download the attached text file and import one unit per line.
// The response is deferred since the download can take a moment.
func (v *VendCord) handleImportStock(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	u := getDiscordUser(i)

	if !memberHasRole(i, v.config.Discord.AdminRoleID) {
		v.respondEphemeral(ctx, handler, userErrorMessage(ErrUnauthorized, ""))
		return
	}

	opts := discordInteractionOptions(i)
	productOpt, productOK := opts[commandOptionProduct]
	fileOpt, fileOK := opts[commandOptionFile]
	if !productOK || !fileOK {
		v.respondEphemeral(ctx, handler, v.config.Discord.ErrorMessage)
		return
	}

	attachment, ok := i.ApplicationCommandData().
		Resolved.Attachments[fileOpt.Value.(string)]
	if !ok {
		v.respondEphemeral(ctx, handler, v.config.Discord.ErrorMessage)
		return
	}

	handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Flags: discordgo.MessageFlagsEphemeral,
			},
		},
	)

	body, err := v.fetchAttachment(ctx, attachment.URL)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error downloading stock attachment",
			tint.Err(err),
			"url", attachment.URL,
		)
		content := v.config.Discord.ErrorMessage
		handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
		return
	}
	defer func() {
		_ = body.Close()
	}()

	imported, skipped, err := v.store.ImportStock(
		ctx,
		productOpt.StringValue(),
		u.ID,
		body,
	)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error importing stock", tint.Err(err))
	}

	content := fmt.Sprintf(
		"Imported **%d** unit(s) of **%s** (%d line(s) skipped).",
		imported,
		strings.TrimSpace(productOpt.StringValue()),
		skipped,
	)
	handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
}

// fetchAttachment downloads a Discord CDN attachment. The caller closes
// the returned body.
func (v *VendCord) fetchAttachment(ctx context.Context, url string) (
	io.ReadCloser,
	error,
) {
	client := v.config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected attachment status: %s", resp.Status)
	}
	return resp.Body, nil
}

// handleStockCount handles the `/stockcount` slash command, posting the
// per-product counts of unused stock.
func (v *VendCord) handleStockCount(ctx context.Context, handler InteractionHandler) {
	counts, err := v.store.StockCounts(ctx)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error counting stock", tint.Err(err))
		v.respondEphemeral(ctx, handler, v.config.Discord.ErrorMessage)
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:  fmt.Sprintf("%s - Stock", v.config.Branding.Name),
		Color:  v.config.Branding.Color,
		Footer: &discordgo.MessageEmbedFooter{Text: v.config.Branding.Footer},
	}
	if len(counts) == 0 {
		embed.Description = "Nothing in stock right now - check back later!"
	}
	for _, c := range counts {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:   c.Product,
				Value:  fmt.Sprintf("%d in stock", c.Count),
				Inline: true,
			},
		)
	}

	handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
			},
		},
	)
}

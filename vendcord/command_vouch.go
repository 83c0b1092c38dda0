package vendcord

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	vouchModalPrefix         = "vouchmodal"
	vouchModalMessageInputID = "vouch_message"
)

// handleVouch handles the `/vouch` slash command. When the message option
// is omitted, a modal is opened to collect it, since slash command options
// are a cramped place to write a review.
func (v *VendCord) handleVouch(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	opts := discordInteractionOptions(i)

	orderOpt, orderOK := opts[commandOptionOrderID]
	ratingOpt, ratingOK := opts[commandOptionRating]
	if !orderOK || !ratingOK {
		v.respondEphemeral(ctx, handler, v.config.Discord.ErrorMessage)
		return
	}
	orderID := strings.TrimSpace(orderOpt.StringValue())
	rating := int(ratingOpt.IntValue())

	if messageOpt, ok := opts[commandOptionMessage]; ok {
		v.submitVouch(ctx, handler, orderID, rating, messageOpt.StringValue())
		return
	}

	handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: &discordgo.InteractionResponseData{
				CustomID: fmt.Sprintf(
					"%s:%s:%d", vouchModalPrefix, orderID, rating,
				),
				Title: "Leave a review",
				Components: []discordgo.MessageComponent{
					discordgo.ActionsRow{
						Components: []discordgo.MessageComponent{
							discordgo.TextInput{
								CustomID:    vouchModalMessageInputID,
								Label:       "Your review",
								Style:       discordgo.TextInputParagraph,
								Placeholder: "How was your order?",
								Required:    false,
								MaxLength:   vouchMessageMaxLength,
							},
						},
					},
				},
			},
		},
	)
}

// handleVouchModal handles the submission of the review modal opened by
// handleVouch.
func (v *VendCord) handleVouchModal(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	data := i.ModalSubmitData()

	parts := strings.Split(data.CustomID, ":")
	if len(parts) != 3 || parts[0] != vouchModalPrefix {
		handler.Logger().ErrorContext(
			ctx,
			"bad modal custom_id",
			"custom_id", data.CustomID,
		)
		v.respondEphemeral(ctx, handler, v.config.Discord.ErrorMessage)
		return
	}
	rating, err := strconv.Atoi(parts[2])
	if err != nil {
		v.respondEphemeral(ctx, handler, userErrorMessage(ErrInvalidRating, ""))
		return
	}

	var message string
	for _, component := range data.Components {
		row, ok := component.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, rowComponent := range row.Components {
			if input, inputOK := rowComponent.(*discordgo.TextInput); inputOK &&
				input.CustomID == vouchModalMessageInputID {
				message = input.Value
			}
		}
	}

	v.submitVouch(ctx, handler, parts[1], rating, message)
}

// submitVouch records the review and announces it to the vouch channel,
// if one is configured.
func (v *VendCord) submitVouch(
	ctx context.Context,
	handler InteractionHandler,
	orderID string,
	rating int,
	message string,
) {
	i := handler.GetInteraction()
	u := getDiscordUser(i)

	vouch, err := v.store.SubmitVouch(ctx, orderID, u.ID, rating, message)
	if err != nil {
		handler.Logger().WarnContext(ctx, "vouch rejected", tint.Err(err))
		v.respondEphemeral(
			ctx,
			handler,
			userErrorMessage(err, v.config.Discord.ErrorMessage),
		)
		return
	}

	v.respondEphemeral(ctx, handler, "Thanks for your review!")

	if v.config.Discord.VouchChannelID == "" {
		return
	}

	order, err := v.store.GetOrder(ctx, orderID)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error loading order for vouch announcement",
			tint.Err(err),
		)
		return
	}

	embed := &discordgo.MessageEmbed{
		Title: "New Vouch",
		Color: v.config.Branding.Color,
		Description: fmt.Sprintf(
			"%s\n<@%s> on **%s**",
			strings.Repeat("⭐", vouch.Rating),
			vouch.UserID,
			order.Product,
		),
		Footer: &discordgo.MessageEmbedFooter{Text: v.config.Branding.Footer},
	}
	if vouch.Message != "" {
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Review", Value: vouch.Message},
		}
	}

	if _, err = v.discord.session.ChannelMessageSendComplex(
		v.config.Discord.VouchChannelID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error announcing vouch",
			tint.Err(err),
			"vouch", *vouch,
		)
	}
}

package vendcord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleBuy handles the `/buy` slash command: record a pending order and
// post it to the admin channel for review. The buyer gets an ephemeral
// acknowledgement either way.
func (v *VendCord) handleBuy(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	u := getDiscordUser(i)
	opts := discordInteractionOptions(i)

	productOpt, ok := opts[commandOptionProduct]
	if !ok {
		v.respondEphemeral(ctx, handler, v.config.Discord.ErrorMessage)
		return
	}

	order := NewOrder(u, productOpt.StringValue())
	order.ChannelID = i.ChannelID
	order.GuildID = i.GuildID

	if _, err := v.store.SubmitOrder(ctx, order); err != nil {
		handler.Logger().ErrorContext(ctx, "error submitting order", tint.Err(err))
		v.respondEphemeral(ctx, handler, v.config.Discord.ErrorMessage)
		return
	}

	if _, err := v.discord.session.ChannelMessageSendComplex(
		v.config.Discord.AdminChannelID,
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{v.orderReviewEmbed(order)},
			Components: orderReviewComponents(order.OrderID),
		},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error posting order to admin channel",
			tint.Err(err),
			"order", *order,
		)
	}

	v.respondEphemeral(
		ctx,
		handler,
		fmt.Sprintf(
			"Order `%s` for **%s** submitted! You'll receive a DM once it's reviewed.",
			order.OrderID,
			order.Product,
		),
	)
}

// orderReviewEmbed is the embed posted to the admin channel when a new
// order comes in, and updated in place when the order is decided.
func (v *VendCord) orderReviewEmbed(order *Order) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "New Order",
		Color: v.config.Branding.Color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Order ID", Value: order.OrderID, Inline: true},
			{Name: "Product", Value: order.Product, Inline: true},
			{
				Name:   "Buyer",
				Value:  fmt.Sprintf("<@%s> (%s)", order.UserID, order.Username),
				Inline: true,
			},
			{Name: "Status", Value: order.Status.String(), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: v.config.Branding.Footer},
	}
	if order.Status.Terminal() {
		embed.Title = "Order " + order.Status.String()
		if order.DecidedBy != "" {
			embed.Fields = append(
				embed.Fields,
				&discordgo.MessageEmbedField{
					Name:   "Decided by",
					Value:  fmt.Sprintf("<@%s>", order.DecidedBy),
					Inline: true,
				},
			)
		}
	}
	return embed
}

// orderReviewComponents returns the approve/reject button row for a
// pending order's admin message.
func orderReviewComponents(orderID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Approve",
					Style:    discordgo.SuccessButton,
					CustomID: CustomID{Action: buttonActionApprove, OrderID: orderID}.String(),
				},
				discordgo.Button{
					Label:    "Reject",
					Style:    discordgo.DangerButton,
					CustomID: CustomID{Action: buttonActionReject, OrderID: orderID}.String(),
				},
			},
		},
	}
}

// respondEphemeral sends a plain ephemeral message as the interaction
// response.
func (v *VendCord) respondEphemeral(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: truncate(content, discordMaxMessageLength),
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

package vendcord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleDecision handles the approve/reject buttons on an admin review
// message. Authorization is checked here; the allocation itself is
// [Storefront.Decide]'s job.
func (v *VendCord) handleDecision(
	ctx context.Context,
	handler InteractionHandler,
	orderID string,
	decision Decision,
) {
	i := handler.GetInteraction()
	u := getDiscordUser(i)

	if !memberHasRole(i, v.config.Discord.AdminRoleID) {
		v.respondEphemeral(ctx, handler, userErrorMessage(ErrUnauthorized, ""))
		return
	}

	order, item, err := v.store.Decide(ctx, orderID, u.ID, decision)
	switch {
	case err == nil:
		//
	case errors.Is(err, ErrAlreadyProcessed):
		// reflect the terminal state on the message so the stale
		// buttons go away
		v.updateReviewMessage(ctx, handler, order)
		return
	case errors.Is(err, ErrOutOfStock):
		v.respondEphemeral(
			ctx,
			handler,
			fmt.Sprintf(
				"No stock left for **%s** - the order stays pending. "+
					"Restock and approve again.",
				order.Product,
			),
		)
		return
	default:
		handler.Logger().ErrorContext(ctx, "error deciding order", tint.Err(err))
		v.respondEphemeral(
			ctx,
			handler,
			userErrorMessage(err, v.config.Discord.ErrorMessage),
		)
		return
	}

	v.updateReviewMessage(ctx, handler, order)

	switch {
	case decision == DecisionApprove && item != nil:
		v.deliverPayload(ctx, order, item)
	case decision == DecisionReject:
		v.notifyRejected(ctx, order)
	}
}

// updateReviewMessage replaces the admin review message with the order's
// current state and removes the decision buttons.
func (v *VendCord) updateReviewMessage(
	ctx context.Context,
	handler InteractionHandler,
	order *Order,
) {
	handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Embeds:     []*discordgo.MessageEmbed{v.orderReviewEmbed(order)},
				Components: []discordgo.MessageComponent{},
			},
		},
	)
}

// deliverPayload DMs the claimed payload to the buyer, masked behind a
// reveal button. DM failures (typically closed DMs) are logged and
// swallowed: the order stays completed, and Delivered stays false.
func (v *VendCord) deliverPayload(
	ctx context.Context,
	order *Order,
	item *StockItem,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = v.logger
	}

	embed := &discordgo.MessageEmbed{
		Title: "Order Delivered",
		Color: v.config.Branding.Color,
		Description: fmt.Sprintf(
			"Your order from **%s** was approved!", v.config.Branding.Name,
		),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Order ID", Value: order.OrderID, Inline: true},
			{Name: "Product", Value: order.Product, Inline: true},
			{Name: "Payload", Value: maskedPayload, Inline: false},
			{
				Name: "Vouch",
				Value: fmt.Sprintf(
					"Happy with your order? Use `/vouch %s <rating>`!",
					order.OrderID,
				),
				Inline: false,
			},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: v.config.Branding.Footer},
	}

	_, err := v.sendDM(
		ctx,
		order.UserID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{embed},
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							Label: "Reveal",
							Style: discordgo.PrimaryButton,
							CustomID: CustomID{
								Action:  buttonActionReveal,
								OrderID: order.OrderID,
							}.String(),
						},
					},
				},
			},
		},
	)
	if err != nil {
		logger.WarnContext(
			ctx,
			"payload DM failed (buyer may have DMs disabled)",
			tint.Err(err),
			"order", *order,
			"stock_item", *item,
		)
		return
	}

	v.store.MarkDelivered(ctx, order)
	logger.InfoContext(ctx, "payload delivered", "order", *order, "stock_item", *item)
}

// notifyRejected DMs the buyer that their order was turned down. Like
// delivery, a DM failure is logged and swallowed.
func (v *VendCord) notifyRejected(ctx context.Context, order *Order) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = v.logger
	}

	_, err := v.sendDM(
		ctx,
		order.UserID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title: "Order Rejected",
					Color: v.config.Branding.Color,
					Description: fmt.Sprintf(
						"Your order `%s` for **%s** was rejected.",
						order.OrderID,
						order.Product,
					),
					Footer: &discordgo.MessageEmbedFooter{
						Text: v.config.Branding.Footer,
					},
				},
			},
		},
	)
	if err != nil {
		logger.WarnContext(
			ctx,
			"rejection DM failed (buyer may have DMs disabled)",
			tint.Err(err),
			"order", *order,
		)
	}
}

// handleReveal handles the reveal button on a delivery DM, responding
// with the actual payload. Only the order's buyer gets it.
func (v *VendCord) handleReveal(
	ctx context.Context,
	handler InteractionHandler,
	orderID string,
) {
	i := handler.GetInteraction()
	u := getDiscordUser(i)

	order, err := v.store.GetOrder(ctx, orderID)
	if err != nil {
		v.respondEphemeral(
			ctx,
			handler,
			userErrorMessage(err, v.config.Discord.ErrorMessage),
		)
		return
	}
	if order.UserID != u.ID {
		v.respondEphemeral(ctx, handler, userErrorMessage(ErrUnauthorized, ""))
		return
	}

	item, err := v.store.ClaimedItem(ctx, orderID)
	if err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error loading claimed item",
			tint.Err(err),
			"order", *order,
		)
		v.respondEphemeral(
			ctx,
			handler,
			userErrorMessage(err, v.config.Discord.ErrorMessage),
		)
		return
	}

	v.respondEphemeral(
		ctx,
		handler,
		fmt.Sprintf("`%s`\n```\n%s\n```", order.OrderID, item.Payload),
	)
}

package vendcord

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleBuy(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	u := newDiscordUser(t)
	i := newMemberInteraction(
		t, u, nil,
		commandData(
			DiscordSlashCommandBuy,
			stringOption(commandOptionProduct, "nitro"),
		),
	)
	handler := newStubHandler(bot, i)

	bot.handleBuy(ctx, handler)

	// the buyer gets an ephemeral acknowledgement with the order ID
	response := requireRespond(t, handler)
	assert.Equal(
		t,
		discordgo.InteractionResponseChannelMessageWithSource,
		response.Type,
	)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, response.Data.Flags)
	assert.Contains(t, response.Data.Content, "ORD-")
	assert.Contains(t, response.Data.Content, "nitro")

	// the admin channel gets the review embed with decision buttons
	sent := requireMessageSent(t, mockSession(t, bot))
	assert.Equal(t, testAdminChannelID, sent.ChannelID)
	require.Len(t, sent.Data.Embeds, 1)
	assert.Equal(t, "New Order", sent.Data.Embeds[0].Title)
	require.Len(t, sent.Data.Components, 1)

	// and a pending order exists
	orders, err := bot.store.RecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, OrderStatusPending, orders[0].Status)
	assert.Equal(t, u.ID, orders[0].UserID)
}

func TestHandleDecisionRequiresAdminRole(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	u := newDiscordUser(t)
	order, err := bot.store.SubmitOrder(ctx, NewOrder(u, "nitro"))
	require.NoError(t, err)

	i := newMemberInteraction(
		t, u, []string{"some_other_role"},
		discordgo.MessageComponentInteractionData{
			CustomID: CustomID{
				Action:  buttonActionApprove,
				OrderID: order.OrderID,
			}.String(),
		},
	)
	handler := newStubHandler(bot, i)

	bot.handleDecision(ctx, handler, order.OrderID, DecisionApprove)

	response := requireRespond(t, handler)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, response.Data.Flags)
	assert.Contains(t, response.Data.Content, "allowed")

	found, err := bot.store.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPending, found.Status)
}

func TestHandleApproveDeliversPayload(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	_, err := bot.store.AddStock(ctx, "nitro", "CODE-SECRET", "admin_1")
	require.NoError(t, err)

	buyer := newDiscordUser(t)
	order, err := bot.store.SubmitOrder(ctx, NewOrder(buyer, "nitro"))
	require.NoError(t, err)

	admin := &discordgo.User{ID: "admin_1", Username: "admin"}
	i := newMemberInteraction(
		t, admin, []string{testAdminRoleID},
		discordgo.MessageComponentInteractionData{
			CustomID: CustomID{
				Action:  buttonActionApprove,
				OrderID: order.OrderID,
			}.String(),
		},
	)
	handler := newStubHandler(bot, i)

	bot.handleDecision(ctx, handler, order.OrderID, DecisionApprove)

	// the admin message is replaced and the buttons removed
	response := requireRespond(t, handler)
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, response.Type)
	assert.Empty(t, response.Data.Components)
	require.Len(t, response.Data.Embeds, 1)
	assert.Contains(t, response.Data.Embeds[0].Title, "completed")

	// the buyer gets a DM with a masked payload and a reveal button
	dm := requireMessageSent(t, mockSession(t, bot))
	assert.Equal(t, "dm_"+buyer.ID, dm.ChannelID)
	require.Len(t, dm.Data.Embeds, 1)
	var payloadField *discordgo.MessageEmbedField
	for _, field := range dm.Data.Embeds[0].Fields {
		if field.Name == "Payload" {
			payloadField = field
		}
	}
	require.NotNil(t, payloadField)
	assert.Equal(t, maskedPayload, payloadField.Value)
	assert.NotContains(t, fmt.Sprint(dm.Data.Embeds[0]), "CODE-SECRET")
	require.Len(t, dm.Data.Components, 1)

	found, err := bot.store.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCompleted, found.Status)
	assert.True(t, found.Delivered)
}

func TestHandleApproveDMFailure(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	_, err := bot.store.AddStock(ctx, "nitro", "CODE-SECRET", "admin_1")
	require.NoError(t, err)

	buyer := newDiscordUser(t)
	order, err := bot.store.SubmitOrder(ctx, NewOrder(buyer, "nitro"))
	require.NoError(t, err)

	session := mockSession(t, bot)
	session.userChannelErr[buyer.ID] = fmt.Errorf("cannot send messages to this user")

	admin := &discordgo.User{ID: "admin_1", Username: "admin"}
	i := newMemberInteraction(
		t, admin, []string{testAdminRoleID},
		discordgo.MessageComponentInteractionData{
			CustomID: CustomID{
				Action:  buttonActionApprove,
				OrderID: order.OrderID,
			}.String(),
		},
	)
	handler := newStubHandler(bot, i)

	bot.handleDecision(ctx, handler, order.OrderID, DecisionApprove)

	// delivery failure doesn't roll back the order or the stock claim
	found, err := bot.store.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCompleted, found.Status)
	assert.False(t, found.Delivered)

	item, err := bot.store.ClaimedItem(ctx, order.OrderID)
	require.NoError(t, err)
	assert.True(t, item.Used)
}

func TestHandleRejectNotifiesBuyer(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	buyer := newDiscordUser(t)
	order, err := bot.store.SubmitOrder(ctx, NewOrder(buyer, "nitro"))
	require.NoError(t, err)

	admin := &discordgo.User{ID: "admin_1", Username: "admin"}
	i := newMemberInteraction(
		t, admin, []string{testAdminRoleID},
		discordgo.MessageComponentInteractionData{
			CustomID: CustomID{
				Action:  buttonActionReject,
				OrderID: order.OrderID,
			}.String(),
		},
	)
	handler := newStubHandler(bot, i)

	bot.handleDecision(ctx, handler, order.OrderID, DecisionReject)

	response := requireRespond(t, handler)
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, response.Type)

	// the buyer gets a rejection DM, without any payload
	dm := requireMessageSent(t, mockSession(t, bot))
	assert.Equal(t, "dm_"+buyer.ID, dm.ChannelID)
	require.Len(t, dm.Data.Embeds, 1)
	assert.Equal(t, "Order Rejected", dm.Data.Embeds[0].Title)
	assert.Empty(t, dm.Data.Components)
}

func TestHandleReveal(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	_, err := bot.store.AddStock(ctx, "nitro", "CODE-SECRET", "admin_1")
	require.NoError(t, err)

	buyer := newDiscordUser(t)
	order, err := bot.store.SubmitOrder(ctx, NewOrder(buyer, "nitro"))
	require.NoError(t, err)
	_, _, err = bot.store.Decide(ctx, order.OrderID, "admin_1", DecisionApprove)
	require.NoError(t, err)

	// reveal arrives over the DM channel
	i := newDMInteraction(
		t, buyer,
		discordgo.MessageComponentInteractionData{
			CustomID: CustomID{
				Action:  buttonActionReveal,
				OrderID: order.OrderID,
			}.String(),
		},
	)
	handler := newStubHandler(bot, i)
	bot.handleReveal(ctx, handler, order.OrderID)

	response := requireRespond(t, handler)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, response.Data.Flags)
	assert.Contains(t, response.Data.Content, "CODE-SECRET")
}

func TestHandleRevealOnlyBuyer(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	_, err := bot.store.AddStock(ctx, "nitro", "CODE-SECRET", "admin_1")
	require.NoError(t, err)

	buyer := newDiscordUser(t)
	order, err := bot.store.SubmitOrder(ctx, NewOrder(buyer, "nitro"))
	require.NoError(t, err)
	_, _, err = bot.store.Decide(ctx, order.OrderID, "admin_1", DecisionApprove)
	require.NoError(t, err)

	snoop := &discordgo.User{ID: "u_snoop", Username: "snoop"}
	i := newDMInteraction(
		t, snoop,
		discordgo.MessageComponentInteractionData{
			CustomID: CustomID{
				Action:  buttonActionReveal,
				OrderID: order.OrderID,
			}.String(),
		},
	)
	handler := newStubHandler(bot, i)
	bot.handleReveal(ctx, handler, order.OrderID)

	response := requireRespond(t, handler)
	assert.NotContains(t, response.Data.Content, "CODE-SECRET")
}

func TestHandleAddStock(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	admin := &discordgo.User{ID: "admin_1", Username: "admin"}
	i := newMemberInteraction(
		t, admin, []string{testAdminRoleID},
		commandData(
			DiscordSlashCommandAddStock,
			stringOption(commandOptionProduct, "nitro"),
			stringOption(commandOptionPayload, "CODE-1111"),
		),
	)
	handler := newStubHandler(bot, i)
	bot.handleAddStock(ctx, handler)

	response := requireRespond(t, handler)
	assert.Contains(t, response.Data.Content, "nitro")

	counts, err := bot.store.StockCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(1), counts[0].Count)
}

func TestHandleAddStockRequiresAdminRole(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	u := newDiscordUser(t)
	i := newMemberInteraction(
		t, u, nil,
		commandData(
			DiscordSlashCommandAddStock,
			stringOption(commandOptionProduct, "nitro"),
			stringOption(commandOptionPayload, "CODE-1111"),
		),
	)
	handler := newStubHandler(bot, i)
	bot.handleAddStock(ctx, handler)

	response := requireRespond(t, handler)
	assert.Contains(t, response.Data.Content, "allowed")

	counts, err := bot.store.StockCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestHandleImportStock(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	fileServer := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("CODE-1\nCODE-2\n\nCODE-3\n"))
			},
		),
	)
	t.Cleanup(fileServer.Close)
	bot.config.HTTPClient = fileServer.Client()

	admin := &discordgo.User{ID: "admin_1", Username: "admin"}
	data := commandData(
		DiscordSlashCommandImportStock,
		stringOption(commandOptionProduct, "nitro"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  commandOptionFile,
			Type:  discordgo.ApplicationCommandOptionAttachment,
			Value: "attachment_1",
		},
	)
	data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{
		Attachments: map[string]*discordgo.MessageAttachment{
			"attachment_1": {
				ID:       "attachment_1",
				Filename: "stock.txt",
				URL:      fileServer.URL + "/stock.txt",
			},
		},
	}
	i := newMemberInteraction(t, admin, []string{testAdminRoleID}, data)
	handler := newStubHandler(bot, i)

	bot.handleImportStock(ctx, handler)

	// deferred response first, then the summary edit
	response := requireRespond(t, handler)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredChannelMessageWithSource,
		response.Type,
	)
	select {
	case edit := <-handler.callEdit:
		require.NotNil(t, edit.Content)
		assert.Contains(t, *edit.Content, "3")
	default:
		t.Fatal("no edit sent")
	}

	counts, err := bot.store.StockCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(3), counts[0].Count)
}

func TestHandleStockCount(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	_, err := bot.store.AddStock(ctx, "nitro", "CODE-1", "admin_1")
	require.NoError(t, err)
	_, err = bot.store.AddStock(ctx, "vpn", "CODE-2", "admin_1")
	require.NoError(t, err)

	u := newDiscordUser(t)
	i := newMemberInteraction(t, u, nil, commandData(DiscordSlashCommandStockCount))
	handler := newStubHandler(bot, i)

	bot.handleStockCount(ctx, handler)

	response := requireRespond(t, handler)
	require.Len(t, response.Data.Embeds, 1)
	assert.Len(t, response.Data.Embeds[0].Fields, 2)
}

func TestHandleVouchWithMessage(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	buyer := newDiscordUser(t)
	order := completedOrder(t, bot.store, buyer)

	i := newMemberInteraction(
		t, buyer, nil,
		commandData(
			DiscordSlashCommandVouch,
			stringOption(commandOptionOrderID, order.OrderID),
			intOption(commandOptionRating, 5),
			stringOption(commandOptionMessage, "fast delivery"),
		),
	)
	handler := newStubHandler(bot, i)
	bot.handleVouch(ctx, handler)

	response := requireRespond(t, handler)
	assert.Contains(t, response.Data.Content, "Thanks")

	// the vouch is announced to the vouch channel
	sent := requireMessageSent(t, mockSession(t, bot))
	assert.Equal(t, testVouchChannelID, sent.ChannelID)
	require.Len(t, sent.Data.Embeds, 1)
	assert.Contains(t, sent.Data.Embeds[0].Description, "⭐⭐⭐⭐⭐")
	require.Len(t, sent.Data.Embeds[0].Fields, 1)
	assert.Equal(t, "fast delivery", sent.Data.Embeds[0].Fields[0].Value)
}

func TestHandleVouchOpensModal(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	buyer := newDiscordUser(t)
	order := completedOrder(t, bot.store, buyer)

	i := newMemberInteraction(
		t, buyer, nil,
		commandData(
			DiscordSlashCommandVouch,
			stringOption(commandOptionOrderID, order.OrderID),
			intOption(commandOptionRating, 4),
		),
	)
	handler := newStubHandler(bot, i)
	bot.handleVouch(ctx, handler)

	response := requireRespond(t, handler)
	require.Equal(t, discordgo.InteractionResponseModal, response.Type)
	assert.Equal(
		t,
		fmt.Sprintf("%s:%s:4", vouchModalPrefix, order.OrderID),
		response.Data.CustomID,
	)
}

func TestHandleVouchModalSubmit(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	buyer := newDiscordUser(t)
	order := completedOrder(t, bot.store, buyer)

	i := newMemberInteraction(
		t, buyer, nil,
		discordgo.ModalSubmitInteractionData{
			CustomID: fmt.Sprintf("%s:%s:4", vouchModalPrefix, order.OrderID),
			Components: []discordgo.MessageComponent{
				&discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						&discordgo.TextInput{
							CustomID: vouchModalMessageInputID,
							Value:    "would buy again",
						},
					},
				},
			},
		},
	)
	handler := newStubHandler(bot, i)
	bot.handleVouchModal(ctx, handler)

	response := requireRespond(t, handler)
	assert.Contains(t, response.Data.Content, "Thanks")

	var vouch Vouch
	require.NoError(
		t,
		bot.db.Where("order_id = ?", order.OrderID).Take(&vouch).Error,
	)
	assert.Equal(t, 4, vouch.Rating)
	assert.Equal(t, "would buy again", vouch.Message)
}

func TestHandleVouchRejected(t *testing.T) {
	t.Parallel()
	bot := newTestBot(t)
	ctx := context.Background()

	buyer := newDiscordUser(t)
	order, err := bot.store.SubmitOrder(ctx, NewOrder(buyer, "nitro"))
	require.NoError(t, err)

	i := newMemberInteraction(
		t, buyer, nil,
		commandData(
			DiscordSlashCommandVouch,
			stringOption(commandOptionOrderID, order.OrderID),
			intOption(commandOptionRating, 5),
			stringOption(commandOptionMessage, "premature"),
		),
	)
	handler := newStubHandler(bot, i)
	bot.handleVouch(ctx, handler)

	response := requireRespond(t, handler)
	assert.Contains(t, response.Data.Content, "delivered order")

	// nothing announced
	session := mockSession(t, bot)
	select {
	case msg := <-session.messagesSent:
		t.Fatalf("unexpected message sent: %#v", msg)
	default:
	}
}

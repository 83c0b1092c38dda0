package vendcord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTerminal(t *testing.T) {
	t.Parallel()
	assert.False(t, OrderStatusPending.Terminal())
	assert.True(t, OrderStatusCompleted.Terminal())
	assert.True(t, OrderStatusRejected.Terminal())
}

func TestNewOrder(t *testing.T) {
	t.Parallel()
	u := &discordgo.User{ID: "u_1", Username: "buyer"}
	order := NewOrder(u, " nitro ")

	assert.Equal(t, OrderStatusPending, order.Status)
	assert.Equal(t, "nitro", order.Product)
	assert.Equal(t, "u_1", order.UserID)
	assert.Equal(t, "buyer", order.Username)

	parts := strings.Split(order.OrderID, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, orderIDPrefix, parts[0])
}

func TestStockItemLogValueRedactsPayload(t *testing.T) {
	t.Parallel()
	item := StockItem{
		ModelUintID: ModelUintID{ID: 42},
		Product:     "nitro",
		Payload:     "CODE-SECRET",
	}
	assert.NotContains(t, item.LogValue().String(), "CODE-SECRET")

	// and the reflection-based struct logger honors the log tag too
	assert.NotContains(t, structToSlogValue(item).String(), "CODE-SECRET")
}

func TestNewInteractionLog(t *testing.T) {
	t.Parallel()
	u := &discordgo.User{ID: "u_1", Username: "buyer"}
	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "i_1",
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "g_1",
			ChannelID: "c_1",
			Member:    &discordgo.Member{User: u},
		},
	}

	record, err := newInteractionLog(i, u)
	require.NoError(t, err)
	assert.Equal(t, "i_1", record.InteractionID)
	assert.Equal(t, "u_1", record.UserID)
	assert.Equal(t, "g_1", record.GuildID)
	assert.NotEmpty(t, record.Payload)
}

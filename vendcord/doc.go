// Package vendcord implements a Discord storefront bot with an
// admin-approved order workflow.
//
// Buyers request a product with the `/buy` slash command. Each request is
// recorded as a pending [Order] and posted to an admin channel with
// approve/reject buttons. Approving an order atomically claims one unused
// [StockItem] for the order's product and delivers its payload to the buyer
// via direct message. Buyers can leave a post-delivery review ("vouch") with
// `/vouch`, and the bot keeps per-inviter attribution counters for guild
// joins.
//
// State is kept in a SQLite or PostgreSQL database via GORM. The bot itself
// is constructed with [New] and started with [VendCord.Run].
package vendcord

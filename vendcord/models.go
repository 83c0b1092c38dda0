package vendcord

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	columnOrderStatus   = "status"
	columnStockItemUsed = "used"
	columnStockOrderID  = "order_id"
)

const orderIDPrefix = "ORD"

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// OrderStatus is the approval workflow state of an [Order].
//
// An order starts as [OrderStatusPending] and moves exactly once, to
// either [OrderStatusCompleted] (stock was allocated and delivered) or
// [OrderStatusRejected]. Both are terminal.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusRejected  OrderStatus = "rejected"
)

func (s OrderStatus) String() string {
	return string(s)
}

// Terminal indicates whether the status permits further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusRejected
}

// Order is a buyer's request for a product, tracked through the
// admin approval workflow.
//
//nolint:lll // struct tags can't be split
type Order struct {
	ModelUintID
	ModelUnixTime

	// OrderID is the user-facing order identifier (ex: ORD-1716930212000-ab12cd34)
	OrderID string `json:"order_id" gorm:"uniqueIndex;not null;default:null"`

	// UserID is the Discord user ID of the buyer
	UserID string `json:"user_id" gorm:"index;not null;default:null"`

	// Username is the buyer's Discord username at the time of the order
	Username string `json:"username" gorm:"type:string"`

	// Product is the requested product name. Free text - there's no
	// catalog, so any string is accepted and matched against stock
	// at allocation time.
	Product string `json:"product" gorm:"index;not null;default:null"`

	Status OrderStatus `json:"status" gorm:"type:string;index"`

	// ChannelID is the channel the order was placed from
	ChannelID string `json:"channel_id" gorm:"type:string"`

	GuildID string `json:"guild_id" gorm:"type:string"`

	// DecidedBy is the Discord user ID of the admin who approved or
	// rejected the order
	DecidedBy string `json:"decided_by" gorm:"type:string"`

	// Delivered indicates the payload DM reached the buyer. A completed
	// order with Delivered=false means the buyer has DMs disabled -
	// allocation is not rolled back in that case.
	Delivered bool `json:"delivered" gorm:"type:bool;default:false"`
}

// NewOrder creates a pending Order for the given buyer and product.
func NewOrder(u *discordgo.User, product string) *Order {
	return &Order{
		OrderID:  newOrderID(),
		UserID:   u.ID,
		Username: u.Username,
		Product:  strings.TrimSpace(product),
		Status:   OrderStatusPending,
	}
}

// newOrderID generates a time-derived order identifier. The original
// scheme (`ORD-<millis>`) collides when two orders land on the same
// millisecond, so a short random suffix is appended.
func newOrderID() string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf(
		"%s-%d-%s",
		orderIDPrefix,
		time.Now().UTC().UnixMilli(),
		suffix,
	)
}

func (o Order) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("order_id", o.OrderID),
		slog.String("user_id", o.UserID),
		slog.String("product", o.Product),
		slog.String("status", o.Status.String()),
	)
}

// StockItem is one unit of deliverable secret content (a code or account)
// tied to a product name. Items are never deleted; allocation flips
// Used exactly once and records the fulfilling order.
//
//nolint:lll // struct tags can't be split
type StockItem struct {
	ModelUintID
	ModelUnixTime

	Product string `json:"product" gorm:"index;not null;default:null"`

	// Payload is the secret delivered to the buyer
	Payload string `json:"payload" gorm:"not null;default:null" log:"[redacted]"`

	Used bool `json:"used" gorm:"index;type:bool;default:false"`

	// OrderID is set when the item is claimed for an order, so
	// allocations can be audited (and the reveal button can find the
	// item that was actually delivered)
	OrderID string `json:"order_id" gorm:"index;type:string"`

	// AddedBy is the Discord user ID of the admin who added the item
	AddedBy string `json:"added_by" gorm:"type:string"`
}

func (s StockItem) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(s.ID)),
		slog.String("product", s.Product),
		slog.Bool("used", s.Used),
		slog.String("order_id", s.OrderID),
	)
}

// StockCount is the number of unused units remaining for a product.
type StockCount struct {
	Product string `json:"product"`
	Count   int64  `json:"count"`
}

// Vouch is a post-delivery review tied to one completed order. The unique
// index on OrderID enforces at most one vouch per order at the storage
// layer, so two concurrent submissions can't both land.
//
//nolint:lll // struct tags can't be split
type Vouch struct {
	ModelUintID
	ModelUnixTime

	OrderID string `json:"order_id" gorm:"uniqueIndex;not null;default:null"`
	UserID  string `json:"user_id" gorm:"index;not null;default:null"`

	// Rating is validated to 1-5 before storage
	Rating  int    `json:"rating" gorm:"not null"`
	Message string `json:"message" gorm:"type:string"`
}

func (v Vouch) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("order_id", v.OrderID),
		slog.String("user_id", v.UserID),
		slog.Int("rating", v.Rating),
	)
}

// InviteStats keeps per-inviter attribution counters for one guild.
// Pure bookkeeping: Total counts every join attributed to the inviter,
// Valid excludes fakes and leavers, Fake counts joins from accounts
// younger than the configured minimum age, Left counts attributed
// members who later left.
//
//nolint:lll // struct tags can't be split
type InviteStats struct {
	ModelUintID
	ModelUnixTime

	GuildID   string `json:"guild_id" gorm:"uniqueIndex:idx_invite_guild_inviter;not null"`
	InviterID string `json:"inviter_id" gorm:"uniqueIndex:idx_invite_guild_inviter;not null"`

	Total int `json:"total" gorm:"default:0"`
	Valid int `json:"valid" gorm:"default:0"`
	Fake  int `json:"fake" gorm:"default:0"`
	Left  int `json:"left" gorm:"default:0"`

	// InvitedMembers is a record-separated list of attributed member IDs
	InvitedMembers string `json:"invited_members" gorm:"type:string"`
}

// InteractionLog records every inbound Discord interaction, for auditing.
//
//nolint:lll // struct tags can't be split
type InteractionLog struct {
	ModelUintID
	InteractionID string `json:"interaction_id" gorm:"not null"`
	Type          string `json:"type" gorm:"type:string"`
	UserID        string `json:"user_id" gorm:"not null"`
	Username      string `json:"username" gorm:"type:string"`
	GuildID       string `json:"guild_id" gorm:"type:string"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	Payload       string `json:"payload" gorm:"type:string"`
	CreatedAt     int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	return &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		UserID:        u.ID,
		Username:      u.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Payload:       string(p),
	}, nil
}

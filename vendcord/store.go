package vendcord

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Decision is an admin's ruling on a pending order.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Storefront implements the order fulfillment state machine, stock
// management, and review collection on top of the database. It holds no
// authoritative in-memory state; every operation reads and writes through
// GORM.
type Storefront struct {
	db      *gorm.DB
	writeDB DBI
	logger  *slog.Logger
}

// NewStorefront creates a Storefront over the given read connection and
// write wrapper.
func NewStorefront(db *gorm.DB, writeDB DBI, logger *slog.Logger) *Storefront {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storefront{
		db:      db,
		writeDB: writeDB,
		logger:  logger.With(loggerNameKey, "storefront"),
	}
}

// SubmitOrder records a pending order for the given buyer and product.
// The product name isn't validated against stock - any string is
// accepted, and matched at allocation time.
func (s *Storefront) SubmitOrder(
	ctx context.Context,
	order *Order,
) (*Order, error) {
	if order.Product == "" {
		return nil, errors.New("product is required")
	}
	if _, err := s.writeDB.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("error creating order: %w", err)
	}
	s.logger.InfoContext(ctx, "order submitted", "order", *order)
	return order, nil
}

// GetOrder returns the order with the given user-facing order ID.
func (s *Storefront) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("error loading order %s: %w", orderID, err)
	}
	return &order, nil
}

// Decide applies an admin decision to a pending order.
//
// Reject moves the order to its terminal rejected state. Approve claims
// one unused stock item for the order's product and moves the order to
// completed; if no stock matches, [ErrOutOfStock] is returned and the
// order stays pending, so the decision can be retried after a restock.
//
// The claim and the status change happen in one transaction, and the
// status change is guarded on the order still being pending - so when two
// decisions race, exactly one wins and the loser's claim is rolled back
// with [ErrAlreadyProcessed]. Authorization is the caller's concern.
//
// On a successful approval the claimed stock item is returned; delivery
// of its payload is up to the caller and doesn't affect order state.
func (s *Storefront) Decide(
	ctx context.Context,
	orderID string,
	decidedBy string,
	decision Decision,
) (*Order, *StockItem, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.Status.Terminal() {
		return order, nil, ErrAlreadyProcessed
	}

	var claimed *StockItem

	txErr := s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			switch decision {
			case DecisionReject:
				//
			case DecisionApprove:
				item, claimErr := claimStockItem(tx, order)
				if claimErr != nil {
					return claimErr
				}
				claimed = item
			default:
				return fmt.Errorf("unknown decision: %q", decision)
			}

			status := OrderStatusRejected
			if decision == DecisionApprove {
				status = OrderStatusCompleted
			}

			rv := tx.Model(&Order{}).
				Where(
					"order_id = ? AND status = ?",
					order.OrderID,
					OrderStatusPending,
				).
				Updates(
					map[string]any{
						columnOrderStatus: status,
						"decided_by":      decidedBy,
					},
				)
			if rv.Error != nil {
				return rv.Error
			}
			// someone else already decided this order; the claim above
			// (if any) rolls back with the transaction
			if rv.RowsAffected == 0 {
				return ErrAlreadyProcessed
			}
			order.Status = status
			order.DecidedBy = decidedBy
			return nil
		},
	)
	if txErr != nil {
		if errors.Is(txErr, ErrOutOfStock) || errors.Is(txErr, ErrAlreadyProcessed) {
			return order, nil, txErr
		}
		return order, nil, fmt.Errorf("error deciding order %s: %w", orderID, txErr)
	}

	s.logger.InfoContext(
		ctx,
		"order decided",
		"order", *order,
		"decision", string(decision),
		"decided_by", decidedBy,
	)
	return order, claimed, nil
}

// claimStockItem atomically claims one unused stock item matching the
// order's product: a single conditional UPDATE scoped on used=false, so
// concurrent claims over the last unit have exactly one winner. No
// ordering among equally-eligible items is promised beyond oldest-first
// as a weak default.
func claimStockItem(tx *gorm.DB, order *Order) (*StockItem, error) {
	var claimed []StockItem

	subQuery := tx.Model(&StockItem{}).
		Select("id").
		Where("product = ? AND used = ?", order.Product, false).
		Order("id").
		Limit(1)

	rv := tx.Model(&claimed).
		Clauses(clause.Returning{}).
		Where("id IN (?)", subQuery).
		Where("used = ?", false).
		Updates(
			map[string]any{
				columnStockItemUsed: true,
				columnStockOrderID:  order.OrderID,
			},
		)
	if rv.Error != nil {
		return nil, rv.Error
	}
	if rv.RowsAffected == 0 || len(claimed) == 0 {
		return nil, ErrOutOfStock
	}
	return &claimed[0], nil
}

// MarkDelivered flags a completed order's payload as having reached the
// buyer. Best-effort: a failure here doesn't affect the order state.
func (s *Storefront) MarkDelivered(ctx context.Context, order *Order) {
	if _, err := s.writeDB.UpdatesWhere(
		ctx,
		&Order{},
		map[string]any{"delivered": true},
		"order_id = ?",
		order.OrderID,
	); err != nil {
		s.logger.WarnContext(
			ctx,
			"error marking order delivered",
			tint.Err(err),
			"order", *order,
		)
		return
	}
	order.Delivered = true
}

// ClaimedItem returns the stock item that fulfilled the given order.
func (s *Storefront) ClaimedItem(ctx context.Context, orderID string) (*StockItem, error) {
	var item StockItem
	err := s.db.WithContext(ctx).
		Where("order_id = ? AND used = ?", orderID, true).
		Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOutOfStock
		}
		return nil, fmt.Errorf("error loading claimed item for %s: %w", orderID, err)
	}
	return &item, nil
}

// AddStock inserts one stock unit for the given product.
func (s *Storefront) AddStock(
	ctx context.Context,
	product string,
	payload string,
	addedBy string,
) (*StockItem, error) {
	item := &StockItem{
		Product: strings.TrimSpace(product),
		Payload: payload,
		AddedBy: addedBy,
	}
	if item.Product == "" || item.Payload == "" {
		return nil, errors.New("product and payload are required")
	}
	if _, err := s.writeDB.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("error creating stock item: %w", err)
	}
	s.logger.InfoContext(ctx, "stock added", "stock_item", *item)
	return item, nil
}

// ImportStock reads one payload per line and inserts each as a stock unit
// for the given product. Blank lines are skipped; insert failures are
// logged and skipped rather than aborting the import (best-effort
// continuation - no rollback of already-imported lines).
func (s *Storefront) ImportStock(
	ctx context.Context,
	product string,
	addedBy string,
	r io.Reader,
) (imported int, skipped int, err error) {
	product = strings.TrimSpace(product)
	if product == "" {
		return 0, 0, errors.New("product is required")
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		payload := strings.TrimSpace(scanner.Text())
		if payload == "" {
			skipped++
			continue
		}
		item := &StockItem{Product: product, Payload: payload, AddedBy: addedBy}
		if _, createErr := s.writeDB.Create(ctx, item); createErr != nil {
			s.logger.WarnContext(
				ctx,
				"skipping stock line",
				tint.Err(createErr),
				"product", product,
			)
			skipped++
			continue
		}
		imported++
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return imported, skipped, fmt.Errorf("error reading stock lines: %w", scanErr)
	}

	s.logger.InfoContext(
		ctx,
		"stock import finished",
		"product", product,
		"imported", imported,
		"skipped", skipped,
	)
	return imported, skipped, nil
}

// StockCounts returns the number of unused units per product, for
// products with at least one unit remaining.
func (s *Storefront) StockCounts(ctx context.Context) ([]StockCount, error) {
	var counts []StockCount
	err := s.db.WithContext(ctx).Model(&StockItem{}).
		Select("product, COUNT(*) as count").
		Where("used = ?", false).
		Group("product").
		Order("product").
		Find(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("error counting stock: %w", err)
	}
	return counts, nil
}

// RecentOrders returns up to limit orders, newest first.
func (s *Storefront) RecentOrders(ctx context.Context, limit int) ([]Order, error) {
	var orders []Order
	err := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("error listing orders: %w", err)
	}
	return orders, nil
}

// SubmitVouch records a review for a completed order. Only the buyer can
// review, the rating must be 1-5, and an order can be reviewed at most
// once - enforced both by an existence check and by the unique index on
// the order ID, so concurrent submissions can't double-insert.
func (s *Storefront) SubmitVouch(
	ctx context.Context,
	orderID string,
	userID string,
	rating int,
	message string,
) (*Vouch, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrUnauthorized
	}
	if order.Status != OrderStatusCompleted {
		return nil, ErrOrderNotCompleted
	}

	var existing int64
	err = s.db.WithContext(ctx).Model(&Vouch{}).
		Where("order_id = ?", orderID).
		Count(&existing).Error
	if err != nil {
		return nil, fmt.Errorf("error checking for existing vouch: %w", err)
	}
	if existing > 0 {
		return nil, ErrAlreadyReviewed
	}

	vouch := &Vouch{
		OrderID: orderID,
		UserID:  userID,
		Rating:  rating,
		Message: truncate(strings.TrimSpace(message), vouchMessageMaxLength),
	}
	if _, err = s.writeDB.Create(ctx, vouch); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyReviewed
		}
		return nil, fmt.Errorf("error creating vouch: %w", err)
	}

	s.logger.InfoContext(ctx, "vouch submitted", "vouch", *vouch)
	return vouch, nil
}

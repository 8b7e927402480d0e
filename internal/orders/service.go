package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/events"
	"github.com/safar/storefront/internal/metrics"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
	log "github.com/sirupsen/logrus"
)

const maxIdempotencyKeyLength = 255

type Service struct {
	repo      Repository
	publisher events.Publisher
	validate  *validator.Validate
	logger    log.FieldLogger
	now       func() time.Time
	newNumber func() string
}

func NewService(repo Repository, publisher events.Publisher, logger log.FieldLogger) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		validate:  newValidator(),
		logger:    logger,
		now:       time.Now,
		newNumber: uuid.NewString,
	}
}

type PlaceOrderRequest struct {
	UserID  int64
	Address models.ShippingAddress
	// IdempotencyKey is optional. A repeated key for the same user returns
	// the order placed the first time and changes nothing.
	IdempotencyKey string
}

// PlaceOrder turns the user's cart into a pending order in one
// transaction: the cart and product rows are locked, stock is checked and
// decremented, the order and its items are written and the cart is
// emptied. Any failure leaves the database as it was.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*models.Order, error) {
	start := time.Now()

	order, replayed, err := s.placeOrder(ctx, req)

	metrics.OrderPlacementDuration.Observe(time.Since(start).Seconds())
	metrics.OrdersPlaced.WithLabelValues(placementResult(err, replayed)).Inc()

	logger := s.logger.WithField("user_id", req.UserID)
	switch {
	case err == nil && replayed:
		logger.WithField("order_id", order.ID).Info("order placement replayed")
	case err == nil:
		logger.WithFields(log.Fields{
			"order_id": order.ID,
			"items":    len(order.Items),
			"total":    order.TotalAmount.StringFixed(2),
		}).Info("order placed")
		s.publishPlaced(ctx, order)
	case isBusinessError(err):
		logger.WithError(err).Warn("order placement rejected")
	default:
		logger.WithError(err).Error("order placement failed")
	}

	return order, err
}

func (s *Service) placeOrder(ctx context.Context, req PlaceOrderRequest) (*models.Order, bool, error) {
	addr, err := validateAddress(s.validate, req.Address)
	if err != nil {
		return nil, false, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLength {
		return nil, false, &ValidationError{Field: "idempotency_key", Message: "too long"}
	}

	var orderID int64
	var replayed bool
	var remaining map[int64]int

	err = s.repo.InTx(ctx, func(tx Tx) error {
		lines, err := tx.LockCart(ctx, req.UserID)
		if err != nil {
			return err
		}

		if key != "" {
			existing, found, err := tx.FindOrderByIdempotencyKey(ctx, req.UserID, key)
			if err != nil {
				return err
			}
			if found {
				orderID, replayed = existing, true
				return nil
			}
		}

		if len(lines) == 0 {
			return ErrEmptyCart
		}

		if short := shortProducts(lines); len(short) > 0 {
			return &InsufficientStockError{ProductIDs: short}
		}

		orderID, err = tx.InsertOrder(ctx, store.NewOrder{
			UserID:          req.UserID,
			OrderNumber:     s.newNumber(),
			Total:           Total(lines),
			ShippingAddress: addressLine(addr),
			ShippingCity:    addr.Region,
			PostalCode:      addr.PostalCode,
			Country:         addr.Country,
			IdempotencyKey:  key,
		})
		if err != nil {
			return err
		}

		for _, line := range lines {
			err := tx.InsertOrderItem(ctx, models.OrderItem{
				OrderID:   orderID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
				Subtotal:  line.Subtotal(),
				Size:      line.Size,
				Color:     line.Color,
			})
			if err != nil {
				return err
			}
		}

		for _, line := range lines {
			if err := tx.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
				if errors.Is(err, database.ErrInsufficientStock) {
					return &InsufficientStockError{ProductIDs: []int64{line.ProductID}}
				}
				return err
			}
		}

		remaining = stockAfter(lines)

		_, err = tx.ClearCart(ctx, req.UserID)
		return err
	})
	if err != nil {
		if key != "" && database.IsUniqueViolation(err, store.IdempotencyConstraint) {
			return s.replayByKey(ctx, req.UserID, key)
		}
		if isBusinessError(err) {
			return nil, false, err
		}
		return nil, false, &StorageError{Op: "place order", Err: err}
	}

	for productID, stock := range remaining {
		metrics.ObserveStock(productID, stock)
	}

	order, err := s.repo.GetOrder(ctx, orderID, req.UserID)
	if err != nil {
		return nil, false, &StorageError{Op: "load placed order", Err: err}
	}

	return order, replayed, nil
}

// replayByKey handles losing a race against a concurrent request that
// carried the same idempotency key.
func (s *Service) replayByKey(ctx context.Context, userID int64, key string) (*models.Order, bool, error) {
	var orderID int64
	var found bool

	err := s.repo.InTx(ctx, func(tx Tx) error {
		var err error
		orderID, found, err = tx.FindOrderByIdempotencyKey(ctx, userID, key)
		return err
	})
	if err != nil {
		return nil, false, &StorageError{Op: "find replayed order", Err: err}
	}
	if !found {
		return nil, false, &StorageError{Op: "find replayed order", Err: database.ErrOrderNotFound}
	}

	order, err := s.repo.GetOrder(ctx, orderID, userID)
	if err != nil {
		return nil, false, &StorageError{Op: "load replayed order", Err: err}
	}
	return order, true, nil
}

func placementResult(err error, replayed bool) string {
	if err == nil {
		if replayed {
			return "replayed"
		}
		return "success"
	}

	switch Code(err) {
	case CodeValidation:
		return "validation"
	case CodeEmptyCart:
		return "empty_cart"
	case CodeInsufficientStock:
		return "insufficient_stock"
	default:
		return "error"
	}
}

// UpdateStatus moves an order to status. Callers without CapUpdateAnyOrder
// only see their own orders; anyone else's order is ErrNotFound.
func (s *Service) UpdateStatus(ctx context.Context, id auth.Identity, orderID int64, status string) (*models.Order, error) {
	next, err := models.ParseOrderStatus(strings.TrimSpace(status))
	if err != nil {
		return nil, ErrInvalidStatus
	}

	owner, err := id.OwnerFilter(auth.CapUpdateAnyOrder)
	if err != nil {
		return nil, err
	}

	var updated *models.Order
	var from models.OrderStatus

	err = s.repo.InTx(ctx, func(tx Tx) error {
		current, err := tx.LockOrder(ctx, orderID, owner)
		if err != nil {
			if errors.Is(err, database.ErrOrderNotFound) {
				return ErrNotFound
			}
			return err
		}

		from = current.Status
		if !CanTransition(from, next) {
			return ErrInvalidTransition
		}

		updated, err = tx.SetOrderStatus(ctx, orderID, next)
		return err
	})
	if err != nil {
		if isBusinessError(err) {
			s.logger.WithFields(log.Fields{
				"order_id": orderID,
				"user_id":  id.UserID,
				"to":       next,
			}).WithError(err).Warn("order status update rejected")
			return nil, err
		}
		s.logger.WithField("order_id", orderID).WithError(err).Error("order status update failed")
		return nil, &StorageError{Op: "update order status", Err: err}
	}

	s.afterTransition(ctx, id, updated, from)

	order, err := s.repo.GetOrder(ctx, orderID, auth.AnyOwner)
	if err != nil {
		return nil, &StorageError{Op: "load order", Err: err}
	}
	return order, nil
}

// ClaimNext moves the oldest unclaimed pending order to processing.
// Concurrent callers never receive the same order. An empty queue is
// ErrNotFound.
func (s *Service) ClaimNext(ctx context.Context, id auth.Identity) (*models.Order, error) {
	if !id.Can(auth.CapClaimOrders) {
		return nil, ErrForbidden
	}

	var claimed *models.Order
	err := s.repo.InTx(ctx, func(tx Tx) error {
		order, err := tx.ClaimNextPending(ctx)
		if err != nil {
			if errors.Is(err, database.ErrOrderNotFound) {
				return ErrNotFound
			}
			return err
		}

		claimed, err = tx.SetOrderStatus(ctx, order.ID, models.OrderStatusProcessing)
		return err
	})
	if err != nil {
		if isBusinessError(err) {
			return nil, err
		}
		return nil, &StorageError{Op: "claim order", Err: err}
	}

	s.afterTransition(ctx, id, claimed, models.OrderStatusPending)

	order, err := s.repo.GetOrder(ctx, claimed.ID, auth.AnyOwner)
	if err != nil {
		return nil, &StorageError{Op: "load order", Err: err}
	}
	return order, nil
}

func (s *Service) afterTransition(ctx context.Context, id auth.Identity, order *models.Order, from models.OrderStatus) {
	metrics.OrderStatusTransitions.WithLabelValues(string(from), string(order.Status)).Inc()

	s.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"from":       from,
		"to":         order.Status,
		"changed_by": id.UserID,
	}).Info("order status changed")

	err := s.publisher.Publish(ctx, events.RKOrderStatusChanged, events.OrderStatusChangedPayload{
		OrderID:   order.ID,
		UserID:    order.UserID,
		From:      string(from),
		To:        string(order.Status),
		ChangedBy: id.UserID,
		ChangedAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.WithField("order_id", order.ID).WithError(err).Warn("publish status change failed")
	}
}

func (s *Service) publishPlaced(ctx context.Context, order *models.Order) {
	items := make([]events.OrderPlacedItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = events.OrderPlacedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	err := s.publisher.Publish(ctx, events.RKOrderPlaced, events.OrderPlacedPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Total:       order.TotalAmount,
		Items:       items,
		PlacedAt:    order.CreatedAt,
	})
	if err != nil {
		s.logger.WithField("order_id", order.ID).WithError(err).Warn("publish order placed failed")
	}
}

// GetOrder returns an order the caller may see. Other users' orders are
// ErrNotFound for callers without CapViewAnyOrder.
func (s *Service) GetOrder(ctx context.Context, id auth.Identity, orderID int64) (*models.Order, error) {
	owner, err := id.OwnerFilter(auth.CapViewAnyOrder)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrder(ctx, orderID, owner)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "get order", Err: err}
	}
	return order, nil
}

// ListOrders pages the caller's orders, or every order for callers with
// CapViewAnyOrder.
func (s *Service) ListOrders(ctx context.Context, id auth.Identity, page, pageSize int) (*store.OffsetPage, error) {
	owner, err := id.OwnerFilter(auth.CapViewAnyOrder)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.ListOrders(ctx, owner, page, pageSize)
	if err != nil {
		return nil, &StorageError{Op: "list orders", Err: err}
	}
	return result, nil
}

// Summary previews checkout for the user's current cart without locking
// or writing anything.
func (s *Service) Summary(ctx context.Context, userID int64, address models.ShippingAddress) (*Summary, error) {
	addr, err := validateAddress(s.validate, address)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.CartLines(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "read cart", Err: err}
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	return buildSummary(lines, addr), nil
}

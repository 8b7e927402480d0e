package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

func InsertEvent(ctx context.Context, db *sql.DB, eventType string, userID *int64, data json.RawMessage) (*models.AnalyticsEvent, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	event := &models.AnalyticsEvent{}
	var uid sql.NullInt64
	var raw string

	err := db.QueryRowContext(ctx,
		`INSERT INTO analytics_events (event_type, user_id, data, created_at)
		 VALUES ($1, $2, $3::jsonb, NOW())
		 RETURNING id, event_type, user_id, data::text, created_at`,
		eventType, nullInt64(userID), string(data)).Scan(
		&event.ID,
		&event.Type,
		&uid,
		&raw,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert analytics event: %w", err)
	}

	if uid.Valid {
		event.UserID = &uid.Int64
	}
	event.Data = json.RawMessage(raw)

	return event, nil
}

// ListEventsCursor pages events newest first. An empty eventType lists all
// types.
func ListEventsCursor(ctx context.Context, db *sql.DB, eventType, cursor string, limit int) (*CursorPage, error) {
	_, limit = NormalizePage(1, limit)

	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, event_type, user_id, data::text, created_at
		FROM analytics_events
		WHERE ($1 = '' OR event_type = $1)
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, eventType, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list analytics events: %w", err)
	}
	defer rows.Close()

	events := []models.AnalyticsEvent{}
	for rows.Next() {
		var event models.AnalyticsEvent
		var uid sql.NullInt64
		var raw string
		if err := rows.Scan(&event.ID, &event.Type, &uid, &raw, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analytics event: %w", err)
		}
		if uid.Valid {
			id := uid.Int64
			event.UserID = &id
		}
		event.Data = json.RawMessage(raw)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	var nextCursor string
	if hasMore && len(events) > 0 {
		last := events[len(events)-1]
		nextCursor = EncodeCursor(Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      events,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// AnalyticsSummary aggregates orders by status, revenue over orders that
// were not cancelled, the topN products by units sold, and event counts.
func AnalyticsSummary(ctx context.Context, db *sql.DB, topN int) (*models.AnalyticsSummary, error) {
	summary := &models.AnalyticsSummary{
		OrdersByStatus: []models.StatusCount{},
		TopProducts:    []models.ProductSales{},
		EventsByType:   map[string]int64{},
	}

	rows, err := db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM orders GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("count orders by status: %w", err)
	}
	for rows.Next() {
		var sc models.StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		summary.OrdersByStatus = append(summary.OrdersByStatus, sc)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	err = db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_amount), 0) FROM orders WHERE status <> $1`,
		models.OrderStatusCancelled).Scan(&summary.Revenue)
	if err != nil {
		return nil, fmt.Errorf("sum revenue: %w", err)
	}

	rows, err = db.QueryContext(ctx,
		`SELECT p.id, p.name, SUM(oi.quantity), SUM(oi.subtotal)
		 FROM order_items oi
		 JOIN orders o ON o.id = oi.order_id
		 JOIN products p ON p.id = oi.product_id
		 WHERE o.status <> $1
		 GROUP BY p.id, p.name
		 ORDER BY SUM(oi.quantity) DESC, p.id
		 LIMIT $2`,
		models.OrderStatusCancelled, topN)
	if err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}
	for rows.Next() {
		var ps models.ProductSales
		var revenue decimal.Decimal
		if err := rows.Scan(&ps.ProductID, &ps.Name, &ps.Quantity, &revenue); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan product sales: %w", err)
		}
		ps.Revenue = revenue
		summary.TopProducts = append(summary.TopProducts, ps)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM analytics_events GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("count events by type: %w", err)
	}
	for rows.Next() {
		var eventType string
		var n int64
		if err := rows.Scan(&eventType, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		summary.EventsByType[eventType] = n
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	return summary, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("rows error: %w", err)
	}
	return rows.Close()
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

package repository

import (
	"context"

	"github.com/saeid-a/TherapyCallBack/internal/models"
)

type TopupOrderRepository struct {
	db DBTX
}

func NewTopupOrderRepository(db DBTX) *TopupOrderRepository {
	return &TopupOrderRepository{db: db}
}

func (r *TopupOrderRepository) Create(ctx context.Context, order *models.TopupOrder) error {
	query := `
		INSERT INTO wallet_topup_orders (user_id, gateway_order_id, amount, tax_amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		order.UserID,
		order.GatewayOrderID,
		order.Amount,
		order.TaxAmount,
		order.Status,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

func (r *TopupOrderRepository) GetByGatewayOrderIDForUpdate(
	ctx context.Context,
	gatewayOrderID string,
) (*models.TopupOrder, error) {
	query := `
		SELECT id, user_id, gateway_order_id, amount, tax_amount, status, created_at, updated_at
		FROM wallet_topup_orders
		WHERE gateway_order_id = $1
		FOR UPDATE
	`
	var order models.TopupOrder
	err := r.db.QueryRow(ctx, query, gatewayOrderID).Scan(
		&order.ID,
		&order.UserID,
		&order.GatewayOrderID,
		&order.Amount,
		&order.TaxAmount,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *TopupOrderRepository) MarkCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE wallet_topup_orders
		SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

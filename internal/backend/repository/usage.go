package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.desk/internal/model"
)

var ErrUsageNotFound = errors.New("usage not found")

// UsageRepository 自动回复额度数据访问
type UsageRepository struct {
	db *pgxpool.Pool
}

// NewUsageRepository 创建额度仓库
func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

const usageColumns = `total, used, unlimited, reset_at`

// Ensure 初始化额度，已存在时不修改
func (r *UsageRepository) Ensure(ctx context.Context, storeID int64, scope string, total int64, unlimited bool) error {
	query := `
		INSERT INTO usage_quota (store_id, scope, total, unlimited)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (store_id, scope) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, storeID, scope, total, unlimited)
	return err
}

// Get 查询额度
func (r *UsageRepository) Get(ctx context.Context, storeID int64, scope string) (*model.Usage, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_quota WHERE store_id = $1 AND scope = $2`
	usage, err := scanUsage(r.db.QueryRow(ctx, query, storeID, scope))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUsageNotFound
		}
		return nil, err
	}
	return usage, nil
}

// Consume 扣减一次额度，额度已用完时不扣减并返回 false
func (r *UsageRepository) Consume(ctx context.Context, storeID int64, scope string) (*model.Usage, bool, error) {
	query := `
		UPDATE usage_quota SET used = used + 1
		WHERE store_id = $1 AND scope = $2 AND (unlimited OR used < total)
		RETURNING ` + usageColumns
	usage, err := scanUsage(r.db.QueryRow(ctx, query, storeID, scope))
	if err == nil {
		return usage, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	usage, err = r.Get(ctx, storeID, scope)
	if err != nil {
		return nil, false, err
	}
	return usage, false, nil
}

func scanUsage(row pgx.Row) (*model.Usage, error) {
	var usage model.Usage
	if err := row.Scan(&usage.Total, &usage.Used, &usage.IsUnlimited, &usage.ResetAt); err != nil {
		return nil, err
	}
	usage.Remaining = usage.Total - usage.Used
	if usage.Remaining < 0 {
		usage.Remaining = 0
	}
	return &usage, nil
}

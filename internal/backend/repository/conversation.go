package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.desk/internal/model"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository 会话数据访问
type ConversationRepository struct {
	db *pgxpool.Pool
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `id, store_id, status, participant, assigned_agent, unread_count, last_activity_at`

// Create 创建会话，ID 已存在时覆盖（用于种子数据重复导入）
func (r *ConversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	query := `
		INSERT INTO conversations (id, store_id, status, participant, assigned_agent, unread_count, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			store_id = EXCLUDED.store_id,
			status = EXCLUDED.status,
			participant = EXCLUDED.participant,
			assigned_agent = EXCLUDED.assigned_agent,
			deleted = 0,
			update_at = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		conv.ID,
		conv.StoreID,
		conv.Status,
		conv.Participant,
		conv.AssignedAgent,
		conv.UnreadCount,
		conv.LastActivityAt,
	)
	return err
}

// GetByID 通过 ID 获取会话
func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1 AND deleted = 0`
	conv, err := scanConversation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return conv, nil
}

// List 获取店铺的会话列表，status 为空时返回全部
func (r *ConversationRepository) List(ctx context.Context, storeID int64, status model.ConversationStatus) ([]model.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE store_id = $1 AND deleted = 0 AND ($2 = '' OR status = $2)
		ORDER BY last_activity_at DESC, id DESC
	`
	rows, err := r.db.Query(ctx, query, storeID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *conv)
	}
	return list, rows.Err()
}

// UpdateStatus 修改会话状态
func (r *ConversationRepository) UpdateStatus(ctx context.Context, id int64, status model.ConversationStatus) (*model.Conversation, error) {
	query := `
		UPDATE conversations SET status = $2, update_at = NOW()
		WHERE id = $1 AND deleted = 0
		RETURNING ` + conversationColumns
	conv, err := scanConversation(r.db.QueryRow(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return conv, nil
}

// Touch 推进最后活跃时间，unreadDelta 累加到未读数
func (r *ConversationRepository) Touch(ctx context.Context, id int64, at time.Time, unreadDelta int) (*model.Conversation, error) {
	query := `
		UPDATE conversations SET
			last_activity_at = GREATEST(last_activity_at, $2),
			unread_count = unread_count + $3,
			update_at = NOW()
		WHERE id = $1 AND deleted = 0
		RETURNING ` + conversationColumns
	conv, err := scanConversation(r.db.QueryRow(ctx, query, id, at, unreadDelta))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return conv, nil
}

// Delete 软删除会话
func (r *ConversationRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE conversations SET deleted = 1, update_at = NOW() WHERE id = $1 AND deleted = 0`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		conv        model.Conversation
		participant []byte
		agent       []byte
	)
	err := row.Scan(
		&conv.ID,
		&conv.StoreID,
		&conv.Status,
		&participant,
		&agent,
		&conv.UnreadCount,
		&conv.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalNullable(participant, &conv.Participant); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(agent, &conv.AssignedAgent); err != nil {
		return nil, err
	}
	return &conv, nil
}

// unmarshalNullable 解析可为 NULL 的 JSONB 列
func unmarshalNullable(data []byte, out interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

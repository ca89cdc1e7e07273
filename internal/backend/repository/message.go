package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.desk/internal/model"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository 消息数据访问
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, conversation_id, COALESCE(client_msg_id, ''), sender_type, content, attachments, sender_meta, create_at`

// Create 写入消息
// 同一会话内 clientMsgId 重复时不写入，msg 被替换为已存在的消息，返回 false
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (bool, error) {
	query := `
		INSERT INTO messages (id, conversation_id, client_msg_id, sender_type, content, attachments, sender_meta, create_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id, client_msg_id) WHERE client_msg_id IS NOT NULL DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.ClientMsgID,
		msg.SenderType,
		msg.Content,
		msg.Attachments,
		msg.SenderMeta,
		msg.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	existing, err := r.GetByClientMsgID(ctx, msg.ConversationID, msg.ClientMsgID)
	if err != nil {
		return false, err
	}
	*msg = *existing
	return false, nil
}

// Upsert 按 ID 写入消息，已存在时忽略（用于种子数据）
func (r *MessageRepository) Upsert(ctx context.Context, msg *model.Message) (bool, error) {
	query := `
		INSERT INTO messages (id, conversation_id, client_msg_id, sender_type, content, attachments, sender_meta, create_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.ClientMsgID,
		msg.SenderType,
		msg.Content,
		msg.Attachments,
		msg.SenderMeta,
		msg.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetByClientMsgID 按客户端令牌查找消息
func (r *MessageRepository) GetByClientMsgID(ctx context.Context, conversationID int64, clientMsgID string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 AND client_msg_id = $2`
	msg, err := scanMessage(r.db.QueryRow(ctx, query, conversationID, clientMsgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

// ListByConversation 获取会话全部消息，按时间升序
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 ORDER BY create_at, id`
	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *msg)
	}
	return list, rows.Err()
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		msg         model.Message
		attachments []byte
		meta        []byte
	)
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.ClientMsgID,
		&msg.SenderType,
		&msg.Content,
		&attachments,
		&meta,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalNullable(attachments, &msg.Attachments); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(meta, &msg.SenderMeta); err != nil {
		return nil, err
	}
	return &msg, nil
}

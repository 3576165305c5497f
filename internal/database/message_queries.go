package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const messageColumns = "id, chat_id, sender_id, client_id, content, type, file_url, file_name, file_size, " +
	"is_encrypted, created_at, expires_at, is_deleted"

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.ChatId,
		&m.SenderId,
		&m.ClientId,
		&m.Content,
		&m.Type,
		&m.FileUrl,
		&m.FileName,
		&m.FileSize,
		&m.IsEncrypted,
		&m.CreatedAt,
		&m.ExpiresAt,
		&m.IsDeleted,
	)
	return m, err
}

// CreateMessage persists the message and advances the owning chat's
// last message pointer in the same transaction.
func (db *PgSecureChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer rollback(tx)

	row := tx.QueryRowContext(ctx,
		"INSERT INTO messages (chat_id, sender_id, client_id, content, type, file_url, file_name, file_size, "+
			"is_encrypted, created_at, expires_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING "+messageColumns,
		params.ChatId,
		params.SenderId,
		params.ClientId,
		params.Content,
		params.Type,
		params.FileUrl,
		params.FileName,
		params.FileSize,
		params.IsEncrypted,
		params.CreatedAt,
		params.ExpiresAt,
	)

	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, mapError(err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE chats SET last_message_id = $2, last_message_at = $3, updated_at = $3 WHERE id = $1",
		params.ChatId,
		msg.Id,
		msg.CreatedAt,
	); err != nil {
		return Message{}, fmt.Errorf("update chat pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, err
	}

	msg.ReadBy = []ReadReceipt{}
	return msg, nil
}

func (db *PgSecureChatRepository) GetMessageById(ctx context.Context, id int64) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1",
		id,
	)

	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, err
	}

	return db.withReceipt(ctx, msg)
}

func (db *PgSecureChatRepository) GetMessageByClientId(ctx context.Context, senderId int, clientId string) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE sender_id = $1 AND client_id = $2",
		senderId,
		clientId,
	)

	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, err
	}

	return db.withReceipt(ctx, msg)
}

func (db *PgSecureChatRepository) withReceipt(ctx context.Context, msg Message) (Message, error) {
	reads, err := db.loadReceipts(ctx, []int64{msg.Id})
	if err != nil {
		return Message{}, err
	}
	msg.ReadBy = reads[msg.Id]
	if msg.ReadBy == nil {
		msg.ReadBy = []ReadReceipt{}
	}
	return msg, nil
}

// GetMessagesByIds resolves weak references such as a chat's last message.
// Ids that no longer exist are skipped.
func (db *PgSecureChatRepository) GetMessagesByIds(ctx context.Context, ids []int64) ([]Message, error) {
	if len(ids) == 0 {
		return []Message{}, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}

	return db.scanMessagesWithReceipts(ctx, rows)
}

// ListMessages returns one page of visible messages, newest first.
func (db *PgSecureChatRepository) ListMessages(ctx context.Context, chatId int, now time.Time, limit, offset int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE chat_id = $1 AND NOT is_deleted AND expires_at > $2 "+
			"ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4",
		chatId,
		now,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}

	return db.scanMessagesWithReceipts(ctx, rows)
}

func (db *PgSecureChatRepository) scanMessagesWithReceipts(ctx context.Context, rows *sql.Rows) ([]Message, error) {
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.Id
	}

	reads, err := db.loadReceipts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].ReadBy = reads[msgs[i].Id]
		if msgs[i].ReadBy == nil {
			msgs[i].ReadBy = []ReadReceipt{}
		}
	}

	return msgs, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	msgs := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

func (db *PgSecureChatRepository) loadReceipts(ctx context.Context, messageIds []int64) (map[int64][]ReadReceipt, error) {
	out := make(map[int64][]ReadReceipt, len(messageIds))
	if len(messageIds) == 0 {
		return out, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT message_id, user_id, read_at FROM message_reads WHERE message_id = ANY($1) ORDER BY read_at, user_id",
		pq.Array(messageIds),
	)
	if err != nil {
		return nil, fmt.Errorf("load receipts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageId int64
			r         ReadReceipt
		)
		if err := rows.Scan(&messageId, &r.UserId, &r.ReadAt); err != nil {
			return nil, err
		}
		out[messageId] = append(out[messageId], r)
	}

	return out, rows.Err()
}

// RecentDuplicateExists reports whether the sender already posted the same
// content to the chat at or after since.
func (db *PgSecureChatRepository) RecentDuplicateExists(ctx context.Context, chatId, senderId int, content string, since time.Time) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM messages "+
			"WHERE chat_id = $1 AND sender_id = $2 AND content = $3 AND created_at >= $4)",
		chatId,
		senderId,
		content,
		since,
	).Scan(&exists)
	return exists, err
}

// MarkRead records a receipt. Repeating it for the same reader is a no-op.
func (db *PgSecureChatRepository) MarkRead(ctx context.Context, messageId int64, userId int, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (message_id, user_id) DO NOTHING",
		messageId,
		userId,
		at,
	)
	return err
}

// DeleteExpiredMessages removes every message whose expiry is at or before
// now, soft deleted or not.
func (db *PgSecureChatRepository) DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM messages WHERE expires_at <= $1",
		now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

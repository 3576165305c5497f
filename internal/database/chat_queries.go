package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const chatColumns = "id, external_id, name, type, created_by, is_encrypted, avatar, settings, personal_key, " +
	"last_message_id, last_message_at, created_at, updated_at"

func scanChat(row rowScanner) (Chat, error) {
	var c Chat
	err := row.Scan(
		&c.Id,
		&c.ExternalId,
		&c.Name,
		&c.Type,
		&c.CreatedBy,
		&c.IsEncrypted,
		&c.Avatar,
		&c.Settings,
		&c.PersonalKey,
		&c.LastMessageId,
		&c.LastMessageAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

// CreateChat inserts the chat and its participants in one transaction.
// A personal chat whose key already exists yields ErrDuplicate.
func (db *PgSecureChatRepository) CreateChat(ctx context.Context, params CreateChatParams) (Chat, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Chat{}, err
	}
	defer rollback(tx)

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := tx.QueryRowContext(ctx,
		"INSERT INTO chats (external_id, name, type, created_by, is_encrypted, settings, personal_key, "+
			"last_message_at, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $8) "+
			"ON CONFLICT (personal_key) DO NOTHING RETURNING "+chatColumns,
		params.ExternalId,
		params.Name,
		params.Type,
		params.CreatedBy,
		params.IsEncrypted,
		params.Settings,
		params.PersonalKey,
		createdAt,
	)

	chat, err := scanChat(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, fmt.Errorf("%w: personal chat exists", ErrDuplicate)
		}
		return Chat{}, mapError(err)
	}

	for i, userId := range params.Participants {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chat_participants (chat_id, user_id, position) VALUES ($1, $2, $3)",
			chat.Id,
			userId,
			i,
		); err != nil {
			return Chat{}, mapError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Chat{}, err
	}

	chat.Participants = append([]int(nil), params.Participants...)
	return chat, nil
}

func (db *PgSecureChatRepository) GetChatByExternalId(ctx context.Context, externalId string) (Chat, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+chatColumns+" FROM chats WHERE external_id = $1",
		externalId,
	)
	return db.chatWithParticipants(ctx, row)
}

func (db *PgSecureChatRepository) GetChatById(ctx context.Context, id int) (Chat, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+chatColumns+" FROM chats WHERE id = $1",
		id,
	)
	return db.chatWithParticipants(ctx, row)
}

func (db *PgSecureChatRepository) GetChatByPersonalKey(ctx context.Context, key string) (Chat, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+chatColumns+" FROM chats WHERE personal_key = $1",
		key,
	)
	return db.chatWithParticipants(ctx, row)
}

func (db *PgSecureChatRepository) chatWithParticipants(ctx context.Context, row *sql.Row) (Chat, error) {
	chat, err := scanChat(row)
	if err != nil {
		return Chat{}, err
	}

	participants, err := db.loadParticipants(ctx, []int{chat.Id})
	if err != nil {
		return Chat{}, err
	}
	chat.Participants = participants[chat.Id]

	return chat, nil
}

// ListChatsForUser returns the user's chats, most recent activity first.
func (db *PgSecureChatRepository) ListChatsForUser(ctx context.Context, userId int) ([]Chat, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+chatColumns+" FROM chats "+
			"WHERE id IN (SELECT chat_id FROM chat_participants WHERE user_id = $1) "+
			"ORDER BY last_message_at DESC, id DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := make([]Chat, 0)
	ids := make([]int, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
		ids = append(ids, c.Id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	participants, err := db.loadParticipants(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range chats {
		chats[i].Participants = participants[chats[i].Id]
	}

	return chats, nil
}

func (db *PgSecureChatRepository) loadParticipants(ctx context.Context, chatIds []int) (map[int][]int, error) {
	out := make(map[int][]int, len(chatIds))
	if len(chatIds) == 0 {
		return out, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT chat_id, user_id FROM chat_participants WHERE chat_id = ANY($1) ORDER BY chat_id, position",
		pq.Array(chatIds),
	)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chatId, userId int
		if err := rows.Scan(&chatId, &userId); err != nil {
			return nil, err
		}
		out[chatId] = append(out[chatId], userId)
	}

	return out, rows.Err()
}

func (db *PgSecureChatRepository) UpdateChatSettings(ctx context.Context, chatId int, settings ChatSettings) (Chat, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE chats SET settings = $2, updated_at = $3 WHERE id = $1 RETURNING "+chatColumns,
		chatId,
		settings,
		time.Now().UTC(),
	)
	return db.chatWithParticipants(ctx, row)
}

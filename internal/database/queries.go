package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/lib/pq"
)

const (
	userColumns = "id, email, name, password_hash, avatar, is_online, last_seen, is_admin, created_at, updated_at"

	registrationEnabledKey = "registration_enabled"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(
		&u.Id,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.Avatar,
		&u.IsOnline,
		&u.LastSeen,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func scanUsers(rows *sql.Rows) ([]User, error) {
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgSecureChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (email, name, password_hash, is_admin, last_seen, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5, $5) RETURNING "+userColumns,
		params.Email,
		params.Name,
		params.PasswordHash,
		params.IsAdmin,
		now,
	)

	u, err := scanUser(row)
	if err != nil {
		return User{}, mapError(err)
	}
	return u, nil
}

func (db *PgSecureChatRepository) GetUserById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1",
		id,
	)
	return scanUser(row)
}

func (db *PgSecureChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1",
		email,
	)
	return scanUser(row)
}

func (db *PgSecureChatRepository) GetUsersByIds(ctx context.Context, ids []int) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}

	return scanUsers(rows)
}

// ListUsers returns the user directory, online users first. search is
// matched literally against name and email, ignoring case.
func (db *PgSecureChatRepository) ListUsers(ctx context.Context, search string) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users "+
			"WHERE $1 = '' OR strpos(lower(name), lower($1)) > 0 OR strpos(lower(email), lower($1)) > 0 "+
			"ORDER BY is_online DESC, last_seen DESC, id ASC",
		search,
	)
	if err != nil {
		return nil, err
	}

	return scanUsers(rows)
}

func (db *PgSecureChatRepository) ListUsersByCreated(ctx context.Context) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC, id DESC",
	)
	if err != nil {
		return nil, err
	}

	return scanUsers(rows)
}

func (db *PgSecureChatRepository) UpdateProfile(ctx context.Context, params UpdateProfileParams) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE users SET name = COALESCE($2, name), avatar = COALESCE($3, avatar), updated_at = $4 "+
			"WHERE id = $1 RETURNING "+userColumns,
		params.UserId,
		params.Name,
		params.Avatar,
		time.Now().UTC(),
	)
	return scanUser(row)
}

func (db *PgSecureChatRepository) SetUserPresence(ctx context.Context, userId int, online bool, at time.Time) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1 RETURNING "+userColumns,
		userId,
		online,
		at,
	)
	return scanUser(row)
}

func (db *PgSecureChatRepository) SetUserAdmin(ctx context.Context, userId int, admin bool) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE users SET is_admin = $2, updated_at = $3 WHERE id = $1",
		userId,
		admin,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *PgSecureChatRepository) CountUsers(ctx context.Context, since time.Time) (UserCounts, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*), "+
			"COUNT(*) FILTER (WHERE is_online), "+
			"COUNT(*) FILTER (WHERE is_admin), "+
			"COUNT(*) FILTER (WHERE created_at >= $1) "+
			"FROM users",
		since,
	)

	var c UserCounts
	err := row.Scan(&c.Total, &c.Online, &c.Admins, &c.Since)
	return c, err
}

// GetRegistrationEnabled returns sql.ErrNoRows when the flag was never set.
func (db *PgSecureChatRepository) GetRegistrationEnabled(ctx context.Context) (bool, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		"SELECT value FROM app_settings WHERE key = $1",
		registrationEnabledKey,
	).Scan(&value)
	if err != nil {
		return false, err
	}

	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.New("malformed registration setting: " + value)
	}
	return enabled, nil
}

func (db *PgSecureChatRepository) SetRegistrationEnabled(ctx context.Context, enabled bool) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO app_settings (key, value, updated_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at",
		registrationEnabledKey,
		strconv.FormatBool(enabled),
		time.Now().UTC(),
	)
	return err
}

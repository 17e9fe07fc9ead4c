package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"tasktrail/internal/domain"
)

const botColumns = `id,username,api_token,owner_id,permissions_json,is_active,created_at`

func scanBot(scan func(dest ...any) error) (domain.Bot, error) {
	var b domain.Bot
	var permsJSON string
	err := scan(&b.ID, &b.Username, &b.APIToken, &b.OwnerID, &permsJSON, &b.IsActive, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal([]byte(permsJSON), &b.Permissions); err != nil {
		return b, fmt.Errorf("bot %s permissions: %w", b.ID, err)
	}
	return b, nil
}

func (r Repo) InsertBot(ctx context.Context, b domain.Bot) error {
	perms, err := json.Marshal(b.Permissions)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO bots(id,username,api_token,owner_id,permissions_json,is_active,created_at) VALUES (?,?,?,?,?,?,?)`,
		b.ID, b.Username, b.APIToken, b.OwnerID, string(perms), b.IsActive, b.CreatedAt)
	return err
}

func (r Repo) GetBot(ctx context.Context, id string) (domain.Bot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id=?`, id)
	return scanBot(row.Scan)
}

func (r Repo) GetBotByUsername(ctx context.Context, username string) (domain.Bot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE username=? LIMIT 1`, username)
	return scanBot(row.Scan)
}

// GetActiveBotByToken looks up an active bot by exact token match. Read
// only: token authentication must not write.
func (r Repo) GetActiveBotByToken(ctx context.Context, token string) (domain.Bot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE api_token=? AND is_active=1 LIMIT 1`, token)
	return scanBot(row.Scan)
}

func (r Repo) ListBots(ctx context.Context, ownerID string) ([]domain.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id=?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bot
	for rows.Next() {
		b, err := scanBot(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) UpdateBotPermissions(ctx context.Context, id string, permissions []string) error {
	perms, err := json.Marshal(permissions)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE bots SET permissions_json=? WHERE id=?`, string(perms), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetBotOwnerTx(ctx context.Context, tx *sql.Tx, id, ownerID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE bots SET owner_id=? WHERE id=?`, ownerID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetBotActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE bots SET is_active=? WHERE id=?`, active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteBotTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM bots WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

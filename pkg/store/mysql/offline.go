// Package mysqlstore keeps offline messages and unread counters in MySQL.
package mysqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const Schema = `
CREATE TABLE IF NOT EXISTS im_offline_msg (
  receiver_id     VARCHAR(64)  NOT NULL,
  msg_id          VARCHAR(64)  NOT NULL,
  conversation_id VARCHAR(128) NOT NULL,
  brief           VARCHAR(255) NOT NULL,
  create_time     DATETIME(3)  NOT NULL,
  PRIMARY KEY (receiver_id, msg_id),
  KEY idx_receiver_time (receiver_id, create_time)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS im_unread (
  receiver_id     VARCHAR(64)  NOT NULL,
  conversation_id VARCHAR(128) NOT NULL,
  unread          INT          NOT NULL DEFAULT 0,
  update_time     DATETIME(3)  NOT NULL,
  PRIMARY KEY (receiver_id, conversation_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`

type OfflineStore struct {
	db *sql.DB
}

func NewOfflineStore(db *sql.DB) *OfflineStore { return &OfflineStore{db: db} }

// Migrate creates the tables when missing.
func (s *OfflineStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveOffline inserts the message once per (receiver, msgId); the unread
// counter moves only when the row is new.
func (s *OfflineStore) SaveOffline(ctx context.Context, receiverID, conversationID, msgID, brief string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
INSERT IGNORE INTO im_offline_msg (receiver_id, msg_id, conversation_id, brief, create_time)
VALUES (?, ?, ?, ?, NOW(3))
`, receiverID, msgID, conversationID, brief)
	if err != nil {
		return fmt.Errorf("insert offline msg: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO im_unread (receiver_id, conversation_id, unread, update_time)
VALUES (?, ?, 1, NOW(3))
ON DUPLICATE KEY UPDATE unread = unread + 1, update_time = NOW(3)
`, receiverID, conversationID); err != nil {
			return fmt.Errorf("bump unread: %w", err)
		}
	}
	return tx.Commit()
}

func (s *OfflineStore) OfflineMsgIDs(ctx context.Context, uid string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT msg_id
FROM im_offline_msg
WHERE receiver_id = ?
ORDER BY create_time ASC, msg_id ASC
`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *OfflineStore) Unread(ctx context.Context, uid string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conversation_id, unread FROM im_unread WHERE receiver_id = ?`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var conv string
		var n int64
		if err := rows.Scan(&conv, &n); err != nil {
			return nil, err
		}
		out[conv] = n
	}
	return out, rows.Err()
}

package repo

import (
	"context"
	"database/sql"
	"strconv"
)

const rosterPage = 500

type GroupRepo struct {
	db *sql.DB
}

func NewGroupRepo(db *sql.DB) *GroupRepo { return &GroupRepo{db: db} }

// ListActiveMemberUIDs returns the active members of groupID in user id order,
// as the decimal strings carried by group fan-out payloads. limit <= 0 reads
// the whole roster. Large groups are read in pages keyed on user_id.
func (r *GroupRepo) ListActiveMemberUIDs(ctx context.Context, groupID int64, limit int) ([]string, error) {
	var out []string
	var after int64 = -1
	for limit <= 0 || len(out) < limit {
		page := rosterPage
		if limit > 0 {
			page = min(page, limit-len(out))
		}
		ids, err := r.memberPage(ctx, groupID, after, page)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			out = append(out, strconv.FormatInt(id, 10))
		}
		if len(ids) < page {
			break
		}
		after = ids[len(ids)-1]
	}
	return out, nil
}

func (r *GroupRepo) memberPage(ctx context.Context, groupID, after int64, n int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT user_id FROM im_group_member
WHERE group_id=? AND status=1 AND user_id>?
ORDER BY user_id
LIMIT ?`, groupID, after, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, n)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

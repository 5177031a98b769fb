package repo

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/lzyats/im-dispatch/internal/db"
)

const memberPageQuery = `SELECT user_id FROM im_group_member`

func expectPage(mock sqlmock.Sqlmock, groupID, after int64, n, from, count int) {
	rows := sqlmock.NewRows([]string{"user_id"})
	for i := 0; i < count; i++ {
		rows.AddRow(int64(from + i))
	}
	mock.ExpectQuery(memberPageQuery).WithArgs(groupID, after, n).WillReturnRows(rows)
}

func TestGroupRepo_Paging(t *testing.T) {
	ctx := context.Background()

	t.Run("should read the whole roster when limit is zero", func(t *testing.T) {
		req := require.New(t)
		conn, mock, err := sqlmock.New()
		req.NoError(err)
		defer conn.Close()

		expectPage(mock, 9, -1, rosterPage, 1, rosterPage)
		for after := int64(rosterPage); after < 4*rosterPage; after += rosterPage {
			expectPage(mock, 9, after, rosterPage, int(after)+1, rosterPage)
		}
		expectPage(mock, 9, 4*rosterPage, rosterPage, 4*rosterPage+1, 10)

		ids, err := NewGroupRepo(conn).ListActiveMemberUIDs(ctx, 9, 0)
		req.NoError(err)
		req.Len(ids, 4*rosterPage+10)
		req.Equal("1", ids[0])
		req.Equal(strconv.Itoa(4*rosterPage+10), ids[len(ids)-1])
		req.NoError(mock.ExpectationsWereMet())
	})

	t.Run("should stop at a positive limit", func(t *testing.T) {
		req := require.New(t)
		conn, mock, err := sqlmock.New()
		req.NoError(err)
		defer conn.Close()

		expectPage(mock, 9, -1, rosterPage, 1, rosterPage)
		expectPage(mock, 9, rosterPage, 100, rosterPage+1, 100)

		ids, err := NewGroupRepo(conn).ListActiveMemberUIDs(ctx, 9, rosterPage+100)
		req.NoError(err)
		req.Len(ids, rosterPage+100)
		req.NoError(mock.ExpectationsWereMet())
	})
}

// Needs IMD_TEST_MYSQL_DSN, e.g. root:root@tcp(127.0.0.1:3306)/im_test
func TestGroupRepo_ListActiveMemberUIDs(t *testing.T) {
	dsn := os.Getenv("IMD_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("IMD_TEST_MYSQL_DSN not set")
	}
	req := require.New(t)
	ctx := context.Background()

	d, err := db.Open(db.Options{DSN: dsn})
	req.NoError(err)
	defer d.Close()

	_, err = d.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS im_group_member (
  group_id BIGINT NOT NULL,
  user_id  BIGINT NOT NULL,
  status   TINYINT NOT NULL DEFAULT 1,
  PRIMARY KEY (group_id, user_id)
) ENGINE=InnoDB`)
	req.NoError(err)

	groupID := time.Now().UnixNano()
	t.Cleanup(func() {
		_, _ = d.DB.ExecContext(context.Background(), `DELETE FROM im_group_member WHERE group_id=?`, groupID)
	})
	const members = rosterPage + 20
	for uid := 1; uid <= members; uid++ {
		status := 1
		if uid%10 == 0 {
			status = 0
		}
		_, err := d.DB.ExecContext(ctx, `INSERT INTO im_group_member (group_id, user_id, status) VALUES (?,?,?)`, groupID, uid, status)
		req.NoError(err)
	}

	r := NewGroupRepo(d.DB)
	all, err := r.ListActiveMemberUIDs(ctx, groupID, 0)
	req.NoError(err)
	req.Len(all, members-members/10)
	req.Equal("1", all[0])
	req.NotContains(all, "10")

	capped, err := r.ListActiveMemberUIDs(ctx, groupID, 5)
	req.NoError(err)
	req.Equal([]string{"1", "2", "3", "4", "5"}, capped)
	req.Equal(strconv.Itoa(members-1), all[len(all)-1])
}

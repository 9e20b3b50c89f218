package database

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewFromPool(mock), mock
}

func TestInTransaction_Commits(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE approval_requests`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := db.InTransaction(context.Background(), func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), `UPDATE approval_requests SET remarks = ''`)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTransaction_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := db.InTransaction(context.Background(), func(tx pgx.Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTransaction_RollsBackOnPanic(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = db.InTransaction(context.Background(), func(tx pgx.Tx) error {
			panic("unexpected")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigDSN_EscapesCredentials(t *testing.T) {
	cfg := Config{
		Host:     "db.internal",
		Port:     6432,
		User:     "approver:ops",
		Password: "p@ss/w#rd?:x",
		Database: "approvals",
		SSLMode:  "require",
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	require.NoError(t, err)
	assert.Equal(t, "db.internal", poolCfg.ConnConfig.Host)
	assert.Equal(t, uint16(6432), poolCfg.ConnConfig.Port)
	assert.Equal(t, "approver:ops", poolCfg.ConnConfig.User)
	assert.Equal(t, "p@ss/w#rd?:x", poolCfg.ConnConfig.Password)
	assert.Equal(t, "approvals", poolCfg.ConnConfig.Database)
}

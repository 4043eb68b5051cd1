package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmlbatch/internal/batch"
	"dmlbatch/internal/modification"
	"dmlbatch/internal/sqlgen"
)

func insertUser(name string) *modification.Command {
	return &modification.Command{
		Table: "users",
		Kind:  modification.Insert,
		Columns: []modification.ColumnModification{
			{Name: "id", IsKey: true, IsRead: true},
			{Name: "name", Value: name, IsWrite: true},
		},
	}
}

func updateUser(id int64, name string) *modification.Command {
	return &modification.Command{
		Table: "users",
		Kind:  modification.Update,
		Columns: []modification.ColumnModification{
			{Name: "name", Value: name, IsWrite: true},
			{Name: "id", OriginalValue: id, IsKey: true, IsCondition: true},
		},
	}
}

func deleteUser(id int64) *modification.Command {
	return &modification.Command{
		Table:   "users",
		Kind:    modification.Delete,
		Columns: []modification.ColumnModification{{Name: "id", OriginalValue: id, IsKey: true, IsCondition: true}},
	}
}

func sealed(t *testing.T, r sqlgen.Renderer, cmds ...*modification.Command) *batch.Batch {
	t.Helper()
	f, err := batch.NewFactory(batch.Options{}, r)
	require.NoError(t, err)
	b := f.New()
	for _, cmd := range cmds {
		ok, err := b.TryAdmit(cmd)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, b.Close())
	return b
}

func TestSQLExecutor_CollectsResultSets(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := sqlgen.NewMySQLRenderer(sqlgen.Options{CheckAffectedRows: true})
	b := sealed(t, r, insertUser("alice"), updateUser(7, "bob"), deleteUser(9))

	mock.ExpectQuery(regexp.QuoteMeta(b.Text())).
		WithArgs("alice", "bob", int64(7), int64(9)).
		WillReturnRows(
			sqlmock.NewRows([]string{"id"}).AddRow(int64(42)),
			sqlmock.NewRows([]string{"ROW_COUNT()"}).AddRow(int64(1)),
			sqlmock.NewRows([]string{"ROW_COUNT()"}).AddRow(int64(1)),
		)

	sets, err := NewSQLExecutor(db).Execute(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.Equal(t, []string{"id"}, sets[0].Columns)
	assert.Equal(t, [][]any{{int64(42)}}, sets[0].Rows)
	assert.Equal(t, [][]any{{int64(1)}}, sets[2].Rows)

	report, err := batch.Mapper{}.Apply(b, sets)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Propagated)
	assert.Equal(t, 2, report.Verified)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutor_PropagatesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	b := sealed(t, sqlgen.NewMySQLRenderer(sqlgen.Options{}), updateUser(1, "x"))
	boom := errors.New("deadlock found")
	mock.ExpectQuery("UPDATE `users`").WillReturnError(boom)

	_, err = NewSQLExecutor(db).Execute(context.Background(), b)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutor_RowErrorSurfaces(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	b := sealed(t, sqlgen.NewMySQLRenderer(sqlgen.Options{}), insertUser("a"))
	boom := errors.New("duplicate entry")
	mock.ExpectQuery("INSERT INTO `users`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).RowError(0, boom))

	_, err = NewSQLExecutor(db).Execute(context.Background(), b)
	assert.ErrorIs(t, err, boom)
}

func TestSQLExecutor_Guards(t *testing.T) {
	r := sqlgen.NewMySQLRenderer(sqlgen.Options{})

	t.Run("nil handle", func(t *testing.T) {
		_, err := NewSQLExecutor(nil).Execute(context.Background(), sealed(t, r, updateUser(1, "x")))
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})

	t.Run("open batch", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		f, err := batch.NewFactory(batch.Options{}, r)
		require.NoError(t, err)
		_, err = NewSQLExecutor(db).Execute(context.Background(), f.New())
		assert.ErrorIs(t, err, batch.ErrBatchOpen)
	})

	t.Run("empty batch issues no query", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		sets, err := NewSQLExecutor(db).Execute(context.Background(), sealed(t, r))
		require.NoError(t, err)
		assert.Empty(t, sets)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

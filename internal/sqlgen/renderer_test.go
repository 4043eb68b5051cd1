package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmlbatch/internal/modification"
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

func insertLog(msg string) *modification.Command {
	return &modification.Command{
		Table:   "audit_log",
		Kind:    modification.Insert,
		Columns: []modification.ColumnModification{{Name: "message", Value: msg, IsWrite: true}},
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

func TestMySQLRenderSingle_InsertWithIdentity(t *testing.T) {
	r := NewMySQLRenderer(Options{})

	stmt, err := r.RenderSingle(insertUser("alice"))
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO `users` (`name`) VALUES (?);\n"+
			"SELECT `id` FROM `users` WHERE ROW_COUNT() = 1 AND `id` = LAST_INSERT_ID();\n",
		stmt.SQL)
	assert.Equal(t, []any{"alice"}, stmt.Args)
	assert.Equal(t, ResultGeneratedValues, stmt.Result)
	assert.True(t, stmt.ProducesResultSet())
	assert.Equal(t, 1, stmt.Rows)
}

func TestMySQLRenderSingle_InsertWithoutReadBack(t *testing.T) {
	r := NewMySQLRenderer(Options{CheckAffectedRows: true})

	stmt, err := r.RenderSingle(insertLog("hello"))
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `audit_log` (`message`) VALUES (?);\n", stmt.SQL)
	assert.Equal(t, ResultNone, stmt.Result)
}

func TestMySQLRenderSingle_InsertDefaultValues(t *testing.T) {
	r := NewMySQLRenderer(Options{})
	cmd := &modification.Command{
		Table:   "counters",
		Kind:    modification.Insert,
		Columns: []modification.ColumnModification{{Name: "id", IsKey: true, IsRead: true}},
	}

	stmt, err := r.RenderSingle(cmd)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "INSERT INTO `counters` () VALUES ();\n")
	assert.Empty(t, stmt.Args)
}

func TestMySQLRenderSingle_UpdateWithAffectedRowProbe(t *testing.T) {
	r := NewMySQLRenderer(Options{CheckAffectedRows: true})

	stmt, err := r.RenderSingle(updateUser(7, "bob"))
	require.NoError(t, err)
	assert.Equal(t,
		"UPDATE `users` SET `name` = ? WHERE `id` = ?;\nSELECT ROW_COUNT();\n",
		stmt.SQL)
	assert.Equal(t, []any{"bob", int64(7)}, stmt.Args)
	assert.Equal(t, ResultAffectedCount, stmt.Result)
}

func TestMySQLRenderSingle_UpdateWithoutProbe(t *testing.T) {
	r := NewMySQLRenderer(Options{})

	stmt, err := r.RenderSingle(updateUser(7, "bob"))
	require.NoError(t, err)
	assert.Equal(t, "UPDATE `users` SET `name` = ? WHERE `id` = ?;\n", stmt.SQL)
	assert.Equal(t, ResultNone, stmt.Result)
}

func TestMySQLRenderSingle_UpdateReadsComputedColumn(t *testing.T) {
	r := NewMySQLRenderer(Options{CheckAffectedRows: true})
	cmd := updateUser(7, "bob")
	cmd.Columns = append(cmd.Columns, modification.ColumnModification{Name: "updated_at", IsRead: true})

	stmt, err := r.RenderSingle(cmd)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "SELECT `updated_at` FROM `users` WHERE ROW_COUNT() = 1 AND `id` = 7;\n")
	assert.Equal(t, ResultGeneratedValues, stmt.Result)
	assert.Len(t, stmt.Args, 2)
}

func TestMySQLRenderSingle_NullOriginalValueStaysBound(t *testing.T) {
	r := NewMySQLRenderer(Options{})
	cmd := deleteUser(1)
	cmd.Columns = append(cmd.Columns, modification.ColumnModification{Name: "deleted_at", IsCondition: true})

	stmt, err := r.RenderSingle(cmd)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `users` WHERE `id` = ? AND `deleted_at` <=> ?;\n", stmt.SQL)
	assert.Equal(t, cmd.ParameterCount(), stmt.ParamCount())
}

func TestMySQLRenderSingle_LiteralColumn(t *testing.T) {
	r := NewMySQLRenderer(Options{})
	cmd := insertLog("hi")
	cmd.Columns = append(cmd.Columns, modification.ColumnModification{Name: "level", Value: "info", IsWrite: true, Literal: true})

	stmt, err := r.RenderSingle(cmd)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `audit_log` (`message`,`level`) VALUES (?,'info');\n", stmt.SQL)
	assert.Equal(t, cmd.ParameterCount(), stmt.ParamCount())

	cmd.Columns[1].Value = "what?"
	_, err = r.RenderSingle(cmd)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestMySQLRenderBulkInsert(t *testing.T) {
	t.Run("without read back", func(t *testing.T) {
		r := NewMySQLRenderer(Options{})
		stmt, err := r.RenderBulkInsert([]*modification.Command{insertLog("a"), insertLog("b"), insertLog("c")})
		require.NoError(t, err)
		assert.Equal(t, "INSERT INTO `audit_log` (`message`) VALUES (?),(?),(?);\n", stmt.SQL)
		assert.Equal(t, []any{"a", "b", "c"}, stmt.Args)
		assert.Equal(t, ResultNone, stmt.Result)
		assert.Equal(t, 3, stmt.Rows)
	})

	t.Run("consecutive identity read back", func(t *testing.T) {
		r := NewMySQLRenderer(Options{BulkIdentityConsecutive: true})
		stmt, err := r.RenderBulkInsert([]*modification.Command{insertUser("a"), insertUser("b")})
		require.NoError(t, err)
		assert.Equal(t,
			"INSERT INTO `users` (`name`) VALUES (?),(?);\n"+
				"SELECT `id` FROM `users` WHERE ROW_COUNT() = 2 AND `id` >= LAST_INSERT_ID() AND `id` < LAST_INSERT_ID() + 2 ORDER BY `id`;\n",
			stmt.SQL)
		assert.Equal(t, ResultGeneratedValues, stmt.Result)
	})

	t.Run("row count only when identity allocation is unknown", func(t *testing.T) {
		r := NewMySQLRenderer(Options{})
		stmt, err := r.RenderBulkInsert([]*modification.Command{insertUser("a"), insertUser("b")})
		require.NoError(t, err)
		assert.Contains(t, stmt.SQL, "SELECT ROW_COUNT();\n")
		assert.Equal(t, ResultAffectedCount, stmt.Result)
	})

	t.Run("rejects mixed groups", func(t *testing.T) {
		r := NewMySQLRenderer(Options{})
		_, err := r.RenderBulkInsert([]*modification.Command{insertUser("a"), insertLog("b")})
		assert.ErrorIs(t, err, ErrIncompatible)

		_, err = r.RenderBulkInsert(nil)
		assert.ErrorIs(t, err, ErrEmptyGroup)
	})
}

func TestMySQLRender_ReadBackNeedsKey(t *testing.T) {
	r := NewMySQLRenderer(Options{})
	cmd := insertLog("x")
	cmd.Columns = append(cmd.Columns, modification.ColumnModification{Name: "created_at", IsRead: true})

	_, err := r.RenderSingle(cmd)
	assert.ErrorIs(t, err, ErrNoReadKey)
}

func TestPostgresRenderSingle(t *testing.T) {
	r := NewPostgresRenderer(Options{CheckAffectedRows: true})

	stmt, err := r.RenderSingle(insertUser("alice"))
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "users" ("name") VALUES ($1) RETURNING "id";`+"\n", stmt.SQL)
	assert.Equal(t, ResultGeneratedValues, stmt.Result)

	stmt, err = r.RenderSingle(updateUser(3, "bob"))
	require.NoError(t, err)
	assert.Equal(t,
		`WITH affected AS (UPDATE "users" SET "name" = $1 WHERE "id" = $2 RETURNING 1) SELECT count(*) FROM affected;`+"\n",
		stmt.SQL)
	assert.Equal(t, ResultAffectedCount, stmt.Result)

	stmt, err = r.RenderSingle(deleteUser(3))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `DELETE FROM "users" WHERE "id" = $1`)
}

func TestPostgresRenderBulkInsert(t *testing.T) {
	r := NewPostgresRenderer(Options{})

	stmt, err := r.RenderBulkInsert([]*modification.Command{insertUser("a"), insertUser("b")})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "users" ("name") VALUES ($1),($2) RETURNING "id";`+"\n", stmt.SQL)
	assert.Equal(t, []any{"a", "b"}, stmt.Args)
	assert.Equal(t, ResultGeneratedValues, stmt.Result)
}

func TestPostgresRender_LiteralQuestionMarkSurvives(t *testing.T) {
	r := NewPostgresRenderer(Options{})
	cmd := insertLog("x")
	cmd.Columns = append(cmd.Columns, modification.ColumnModification{Name: "note", Value: "why?", IsWrite: true, Literal: true})

	stmt, err := r.RenderSingle(cmd)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "audit_log" ("message","note") VALUES ($1,'why?');`+"\n", stmt.SQL)
}

func TestNewAndParseDialect(t *testing.T) {
	d, err := ParseDialect("TiDB")
	require.NoError(t, err)
	assert.Equal(t, DialectMySQL, d)

	d, err = ParseDialect("pgx")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	_, err = ParseDialect("oracle")
	assert.ErrorIs(t, err, ErrUnknownDialect)

	r, err := New(DialectPostgres, Options{})
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, r.Dialect())

	_, err = New(Dialect("sqlite"), Options{})
	assert.ErrorIs(t, err, ErrUnknownDialect)
}

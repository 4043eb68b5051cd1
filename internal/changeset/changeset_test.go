package changeset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmlbatch/internal/modification"
)

const sample = `
operations:
  - kind: insert
    table: users
    columns:
      - {name: id, key: true, read: true}
      - {name: name, value: alice}
      - {name: status, value: active, literal: true}
  - kind: update
    table: users
    schema: app
    columns:
      - {name: name, value: bob}
      - {name: id, key: true, original: 7}
      - {name: version, original: 3}
  - kind: delete
    table: users
    columns:
      - {name: id, key: true, original: 9}
`

func TestParse_InfersFlags(t *testing.T) {
	cmds, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, cmds, 3)

	insert := cmds[0]
	assert.Equal(t, modification.Insert, insert.Kind)
	assert.Equal(t, "users", insert.Table)
	assert.Equal(t, modification.ColumnModification{Name: "id", IsKey: true, IsRead: true}, insert.Columns[0])
	assert.Equal(t, modification.ColumnModification{Name: "name", Value: "alice", IsWrite: true}, insert.Columns[1])
	assert.True(t, insert.Columns[2].Literal)
	assert.Equal(t, 1, insert.ParameterCount())

	update := cmds[1]
	assert.Equal(t, "app", update.Schema)
	assert.Equal(t, modification.ColumnModification{Name: "name", Value: "bob", IsWrite: true}, update.Columns[0])
	assert.Equal(t, modification.ColumnModification{Name: "id", OriginalValue: int64(7), IsKey: true, IsCondition: true}, update.Columns[1])
	assert.True(t, update.Columns[2].IsCondition)
	assert.False(t, update.Columns[2].IsWrite)
	assert.Equal(t, 3, update.ParameterCount())

	del := cmds[2]
	assert.Equal(t, modification.Delete, del.Kind)
	assert.Len(t, del.ConditionColumns(), 1)
	assert.Empty(t, del.WriteColumns())
}

func TestParse_ExplicitFlagsAndNull(t *testing.T) {
	cmds, err := Parse(strings.NewReader(`
operations:
  - kind: update
    table: users
    columns:
      - {name: nickname, value: null}
      - {name: id, key: true, original: 1, write: false}
      - {name: token, value: t2, original: t1, condition: true}
`))
	require.NoError(t, err)
	cols := cmds[0].Columns

	assert.True(t, cols[0].IsWrite)
	assert.Nil(t, cols[0].Value)
	assert.False(t, cols[1].IsWrite)
	assert.True(t, cols[2].IsWrite)
	assert.True(t, cols[2].IsCondition)
	assert.Equal(t, "t1", cols[2].OriginalValue)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		want   error
		decode bool
	}{
		{
			name: "unknown kind",
			doc:  "operations:\n  - {kind: merge, table: t, columns: [{name: a, value: 1}]}\n",
			want: ErrInvalidChangeset,
		},
		{
			name:   "unknown field",
			doc:    "operations:\n  - {kind: insert, table: t, colums: []}\n",
			want:   ErrInvalidChangeset,
			decode: true,
		},
		{
			name: "non-scalar value",
			doc:  "operations:\n  - {kind: insert, table: t, columns: [{name: a, value: [1, 2]}]}\n",
			want: ErrInvalidChangeset,
		},
		{
			name: "condition without original",
			doc:  "operations:\n  - {kind: delete, table: t, columns: [{name: id, key: true}]}\n",
			want: ErrInvalidChangeset,
		},
		{
			name: "malformed uuid",
			doc:  "operations:\n  - {kind: insert, table: t, columns: [{name: id, value: nope, uuid: binary}]}\n",
			want: ErrInvalidChangeset,
		},
		{
			name: "update without writes",
			doc:  "operations:\n  - {kind: update, table: t, columns: [{name: id, key: true, original: 1}]}\n",
			want: modification.ErrInvalidCommand,
		},
		{
			name: "missing table",
			doc:  "operations:\n  - {kind: insert, columns: [{name: a, value: 1}]}\n",
			want: modification.ErrInvalidCommand,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			if !tt.decode {
				assert.Contains(t, err.Error(), "operation 1")
			}
		})
	}
}

func TestParse_UUIDColumns(t *testing.T) {
	doc := `
operations:
  - kind: update
    table: sessions
    columns:
      - {name: owner, value: 550E8400-E29B-41D4-A716-446655440000, uuid: char}
      - {name: id, key: true, original: 550e8400-e29b-41d4-a716-446655440000, uuid: binary}
`
	cmds, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", cmds[0].Columns[0].Value)
	original, ok := cmds[0].Columns[1].OriginalValue.([]byte)
	require.True(t, ok)
	assert.Len(t, original, 16)
	assert.Nil(t, cmds[0].Columns[1].Value)
}

func TestParse_SetColumns(t *testing.T) {
	doc := `
operations:
  - kind: update
    table: products
    columns:
      - {name: tags, value: [seasonal, featured, seasonal], original: "new", set: [featured, new, seasonal]}
      - {name: id, key: true, original: 4}
`
	cmds, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "featured,seasonal", cmds[0].Columns[0].Value)
	assert.Equal(t, "new", cmds[0].Columns[0].OriginalValue)

	_, err = Parse(strings.NewReader(`
operations:
  - kind: insert
    table: products
    columns:
      - {name: tags, value: [bogus], set: [featured, new]}
`))
	assert.ErrorIs(t, err, ErrInvalidChangeset)
}

func TestParse_EmptyDocument(t *testing.T) {
	cmds, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cmds, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cmds, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

package modification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userInsert(name string) *Command {
	return &Command{
		Table: "users",
		Kind:  Insert,
		Columns: []ColumnModification{
			{Name: "id", IsKey: true, IsRead: true},
			{Name: "name", Value: name, IsWrite: true},
		},
	}
}

func TestParameterCount(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *Command
		expected int
	}{
		{"insert with identity", userInsert("alice"), 1},
		{
			name: "update with concurrency token",
			cmd: &Command{
				Table: "users",
				Kind:  Update,
				Columns: []ColumnModification{
					{Name: "name", Value: "bob", IsWrite: true},
					{Name: "id", OriginalValue: 7, IsKey: true, IsCondition: true},
					{Name: "version", Value: 3, OriginalValue: 2, IsWrite: true, IsCondition: true},
				},
			},
			expected: 4,
		},
		{
			name: "literal values consume no slot",
			cmd: &Command{
				Table: "users",
				Kind:  Insert,
				Columns: []ColumnModification{
					{Name: "status", Value: "active", IsWrite: true, Literal: true},
					{Name: "name", Value: "carol", IsWrite: true},
				},
			},
			expected: 1,
		},
		{
			name: "delete by key",
			cmd: &Command{
				Table:   "users",
				Kind:    Delete,
				Columns: []ColumnModification{{Name: "id", OriginalValue: 1, IsKey: true, IsCondition: true}},
			},
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cmd.ParameterCount())
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, userInsert("alice").Validate())

	tests := []struct {
		name string
		cmd  *Command
	}{
		{"empty table", &Command{Kind: Insert}},
		{"insert with condition", &Command{Table: "t", Kind: Insert, Columns: []ColumnModification{{Name: "id", IsCondition: true}}}},
		{"update without writes", &Command{Table: "t", Kind: Update, Columns: []ColumnModification{{Name: "id", IsCondition: true}}}},
		{"update without conditions", &Command{Table: "t", Kind: Update, Columns: []ColumnModification{{Name: "a", IsWrite: true}}}},
		{"delete without conditions", &Command{Table: "t", Kind: Delete}},
		{"delete reading columns", &Command{Table: "t", Kind: Delete, Columns: []ColumnModification{{Name: "id", IsCondition: true}, {Name: "b", IsRead: true}}}},
		{"duplicate column", &Command{Table: "t", Kind: Insert, Columns: []ColumnModification{{Name: "a", IsWrite: true}, {Name: "a", IsWrite: true}}}},
		{"unknown kind", &Command{Table: "t", Kind: Kind(9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cmd.Validate(), ErrInvalidCommand)
		})
	}
}

func TestBulkCompatible(t *testing.T) {
	a := userInsert("alice")
	b := userInsert("bob")
	assert.True(t, a.BulkCompatible(b))

	other := userInsert("carol")
	other.Table = "accounts"
	assert.False(t, a.BulkCompatible(other))

	reshaped := userInsert("dave")
	reshaped.Columns = reshaped.Columns[1:]
	assert.False(t, a.BulkCompatible(reshaped))

	update := &Command{Table: "users", Kind: Update}
	assert.False(t, a.BulkCompatible(update))
}

func TestGeneratedValues(t *testing.T) {
	cmd := userInsert("alice")
	_, ok := cmd.GeneratedValue("id")
	assert.False(t, ok)

	cmd.SetGeneratedValue("id", int64(42))
	v, ok := cmd.GeneratedValue("id")
	require.True(t, ok)
	assert.Equal(t, int64(42), v)

	copied := cmd.GeneratedValues()
	copied["id"] = 0
	v, _ = cmd.GeneratedValue("id")
	assert.Equal(t, int64(42), v)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Update ")
	require.NoError(t, err)
	assert.Equal(t, Update, k)
	assert.Equal(t, "update", k.String())

	_, err = ParseKind("upsert")
	assert.Error(t, err)
}

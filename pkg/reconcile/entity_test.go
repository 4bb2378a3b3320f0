package reconcile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// repoRow builds an export row with org/repo at column 11.
func repoRow(orgRepo string) string {
	cols := make([]string, 12)
	for i := range cols {
		cols[i] = "x"
	}
	cols[0] = "1234"
	cols[11] = orgRepo
	return strings.Join(cols, ",")
}

func TestParseEntity(t *testing.T) {
	e, err := ParseEntity(" octo/hello ")
	require.NoError(t, err)
	assert.Equal(t, Entity{Org: "octo", Repo: "hello"}, e)
	assert.Equal(t, "octo/hello", e.String())

	for _, bad := range []string{"octo", "/hello", "octo/", "a/b/c"} {
		_, err := ParseEntity(bad)
		assert.ErrorIs(t, err, ErrMalformedEntity, bad)
	}
}

func TestFilter(t *testing.T) {
	f, err := NewFilter([]string{"Microsoft"}, []string{DocumentationPattern})
	require.NoError(t, err)

	tests := []struct {
		entity Entity
		want   bool
	}{
		{Entity{"microsoft", "vscode"}, true},
		{Entity{"MICROSOFT", "TypeScript"}, true},
		{Entity{"octo", "hello"}, false},
		{Entity{"microsoft", "azure-docs"}, false},
		{Entity{"microsoft", "docs.microsoft.com"}, false},
		{Entity{"microsoft", "Documentation"}, false},
		{Entity{"microsoft", "dockerfiles"}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Allows(tt.entity), tt.entity.String())
	}

	all, err := NewFilter(nil, nil)
	require.NoError(t, err)
	assert.True(t, all.Allows(Entity{"anyone", "anything"}))

	_, err = NewFilter(nil, []string{"("})
	assert.Error(t, err)
}

func TestReadEntities(t *testing.T) {
	input := strings.Join([]string{
		repoRow("full_name"),
		repoRow("microsoft/vscode"),
		repoRow("octo/hello"),
		repoRow("microsoft/azure-docs"),
		repoRow(`"microsoft/TypeScript"`),
	}, "\n") + "\n"

	f, err := NewFilter([]string{"microsoft"}, []string{DocumentationPattern})
	require.NoError(t, err)

	entities, err := ReadEntities(strings.NewReader(input), DefaultRepoColumn, f)
	require.NoError(t, err)
	assert.Equal(t, []Entity{
		{Org: "microsoft", Repo: "vscode"},
		{Org: "microsoft", Repo: "TypeScript"},
	}, entities)
}

func TestReadEntities_Malformed(t *testing.T) {
	f, _ := NewFilter(nil, nil)

	_, err := ReadEntities(strings.NewReader("a,b,c\n"), DefaultRepoColumn, f)
	assert.ErrorIs(t, err, ErrMalformedEntity)

	input := repoRow("octo/hello") + "\n" + repoRow("no-slash") + "\n"
	_, err = ReadEntities(strings.NewReader(input), DefaultRepoColumn, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedEntity)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadEntities_CustomColumn(t *testing.T) {
	f, _ := NewFilter(nil, nil)

	entities, err := ReadEntities(strings.NewReader("octo/hello\nocto/world\n"), 0, f)
	require.NoError(t, err)
	assert.Len(t, entities, 2)
}

package list_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/walteh/livetmpl/cmd/livetmpl/list"
	"github.com/walteh/livetmpl/pkg/library"
)

const docs = `
group: docs
templates:
  - key: h1
    description: heading
    body: "# $TITLE$\n\n$END$"
  - key: link
    body: "[$TEXT$]($URL$)"
`

const code = `
template "todo" {
  body = "// TODO($USER$): $END$"
}
`

func execute(t *testing.T, args ...string) string {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/lib/docs.yaml", []byte(docs), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/lib/go.hcl", []byte(code), 0o644))

	var out bytes.Buffer
	cmd := list.NewListCommand(&library.Source{Fs: fsys, Root: "/lib"})
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(zerolog.New(zerolog.NewTestWriter(t)).WithContext(context.Background())))
	return out.String()
}

func TestListTable(t *testing.T) {
	lines := strings.Split(strings.TrimSpace(execute(t)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"GROUP", "KEY", "VARIABLES", "DESCRIPTION"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"docs", "h1", "TITLE", "heading"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"docs", "link", "TEXT,URL"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"go", "todo", "USER"}, strings.Fields(lines[3]))
}

func TestListYAML(t *testing.T) {
	var got []list.Entry
	require.NoError(t, yaml.Unmarshal([]byte(execute(t, "--yaml", "--group", "docs")), &got))
	assert.Equal(t, []list.Entry{
		{Group: "docs", Key: "h1", Description: "heading", Variables: []string{"TITLE"}},
		{Group: "docs", Key: "link", Variables: []string{"TEXT", "URL"}},
	}, got)
}

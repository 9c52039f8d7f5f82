package list

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/walteh/livetmpl/pkg/library"
	"github.com/walteh/livetmpl/pkg/template"
)

type Handler struct {
	src    *library.Source
	group  string
	asYAML bool
}

func NewListCommand(src *library.Source) *cobra.Command {
	me := &Handler{src: src}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "list the templates in the library",
		Args:  cobra.NoArgs,
	}

	cmd.Flags().StringVarP(&me.group, "group", "g", "", "only list templates of this group")
	cmd.Flags().BoolVar(&me.asYAML, "yaml", false, "print the templates as YAML")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return me.Run(cmd.Context(), cmd.OutOrStdout())
	}

	return cmd
}

// Entry is the listed view of one template.
type Entry struct {
	Group       string   `yaml:"group"`
	Key         string   `yaml:"key"`
	Description string   `yaml:"description,omitempty"`
	Variables   []string `yaml:"variables,omitempty"`
}

func entryOf(t *template.Template) Entry {
	e := Entry{Group: t.Group, Key: t.Key, Description: t.Description}
	for _, v := range t.Variables() {
		e.Variables = append(e.Variables, v.Name)
	}
	return e
}

func (me *Handler) Run(ctx context.Context, out io.Writer) error {
	lib, err := me.src.Open(ctx)
	if lib == nil {
		return err
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("some templates failed to load")
	}

	entries := []Entry{}
	for _, t := range lib.Templates() {
		if me.group != "" && t.Group != me.group {
			continue
		}
		entries = append(entries, entryOf(t))
	}

	if me.asYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return errors.Errorf("encoding templates: %w", err)
		}
		return enc.Close()
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tKEY\tVARIABLES\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Group, e.Key, strings.Join(e.Variables, ","), e.Description)
	}
	return w.Flush()
}

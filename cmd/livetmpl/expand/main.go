package expand

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/pkg/buffer"
	"github.com/walteh/livetmpl/pkg/choice"
	"github.com/walteh/livetmpl/pkg/library"
	"github.com/walteh/livetmpl/pkg/macro"
	"github.com/walteh/livetmpl/pkg/position"
	"github.com/walteh/livetmpl/pkg/postprocess"
	"github.com/walteh/livetmpl/pkg/session"
)

var (
	ErrUnknownTemplate = errors.Base("unknown template")
	ErrNoAbbreviation  = errors.Base("no template abbreviation at caret")
	ErrStalled         = errors.Base("template session stopped advancing")
)

type Handler struct {
	src *library.Source

	key     string
	offset  int
	line    int
	column  int
	values  []string
	defines []string
	choices []string
	write   bool
}

func NewExpandCommand(src *library.Source) *cobra.Command {
	me := &Handler{src: src}

	cmd := &cobra.Command{
		Use:   "expand <file>",
		Short: "expand a template at a position in a file",
		Args:  cobra.ExactArgs(1),
	}

	cmd.Flags().StringVarP(&me.key, "template", "t", "", "template key to insert; without it the abbreviation before the caret is expanded")
	cmd.Flags().IntVar(&me.offset, "offset", -1, "byte offset of the caret, defaults to the end of the file")
	cmd.Flags().IntVar(&me.line, "line", 0, "1-based line of the caret, takes precedence over --offset")
	cmd.Flags().IntVar(&me.column, "column", 1, "1-based column of the caret, counted in characters")
	cmd.Flags().StringArrayVar(&me.values, "set", nil, "NAME=VALUE typed when the variable becomes the current tab stop")
	cmd.Flags().StringArrayVar(&me.defines, "define", nil, "NAME=VALUE predefined variable value")
	cmd.Flags().StringArrayVar(&me.choices, "choose", nil, "NAME=VALUE answer for a variable offering several candidates")
	cmd.Flags().BoolVarP(&me.write, "write", "w", false, "write the result back to the file instead of stdout")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return me.Run(cmd.Context(), args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	return cmd
}

func parseAssignments(flag string, in []string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for _, a := range in {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, errors.Errorf("invalid --%s %q, expected NAME=VALUE", flag, a)
		}
		out[name] = value
	}
	return out, nil
}

func (me *Handler) caret(text string) (int, error) {
	switch {
	case me.line > 0:
		return position.OffsetOf(text, position.Place{Line: me.line - 1, Character: max(me.column-1, 0)})
	case me.offset >= 0:
		if me.offset > len(text) {
			return 0, errors.Errorf("offset %d is past the end of the file (%d bytes)", me.offset, len(text))
		}
		return me.offset, nil
	default:
		return len(text), nil
	}
}

func (me *Handler) Run(ctx context.Context, path string, stdout, stderr io.Writer) error {
	values, err := parseAssignments("set", me.values)
	if err != nil {
		return err
	}
	defines, err := parseAssignments("define", me.defines)
	if err != nil {
		return err
	}
	choices, err := parseAssignments("choose", me.choices)
	if err != nil {
		return err
	}

	lib, err := me.src.Open(ctx)
	if lib == nil {
		return errors.Errorf("loading template library: %w", err)
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("some templates failed to load")
	}

	data, err := afero.ReadFile(me.src.Fs, path)
	if err != nil {
		return errors.Errorf("reading %s: %w", path, err)
	}
	host := buffer.NewMemory(string(data))

	offset, err := me.caret(host.Text())
	if err != nil {
		return err
	}
	host.MoveCaret(offset)

	settings, err := postprocess.LoadSettings(me.src.Fs, path)
	if err != nil {
		return err
	}

	opts := []session.Option{
		session.WithSettings(settings),
		session.WithPredefined(defines),
		session.WithProperties(map[string]string{macro.PropertyFileName: path}),
		session.WithChoiceProvider(choice.Scripted{Values: choices}),
	}

	manager := session.NewManager(host)
	var s *session.Session
	if me.key != "" {
		tmpl, ok := lib.Lookup(me.key)
		if !ok {
			return errors.Errorf("%w: %s", ErrUnknownTemplate, me.key)
		}
		if s, err = manager.Start(ctx, tmpl, opts...); err != nil {
			return err
		}
	} else {
		var ok bool
		if s, ok, err = manager.ExpandAbbreviation(ctx, lib, opts...); err != nil {
			return err
		}
		if !ok {
			return errors.Errorf("%w: %s", ErrNoAbbreviation, position.PlaceOf(host.Text(), offset))
		}
	}

	if err := Drive(ctx, s, host, values); err != nil {
		return err
	}

	if me.write {
		perm := os.FileMode(0o644)
		if info, err := me.src.Fs.Stat(path); err == nil {
			perm = info.Mode().Perm()
		}
		if err := afero.WriteFile(me.src.Fs, path, []byte(host.Text()), perm); err != nil {
			return errors.Errorf("writing %s: %w", path, err)
		}
	} else if _, err := io.WriteString(stdout, host.Text()); err != nil {
		return err
	}

	caret := position.PlaceOf(host.Text(), host.CaretOffset())
	fmt.Fprintf(stderr, "%s %s %s\n",
		color.New(color.FgGreen, color.Bold).Sprint("expanded"),
		color.New(color.Bold).Sprint(s.Template().Key),
		color.New(color.Faint).Sprintf("caret at %d:%d", caret.Line+1, caret.Character+1),
	)
	return nil
}

// Drive walks s through its tab stops, typing the value given for each variable as it
// becomes current, until the session ends.
func Drive(ctx context.Context, s *session.Session, host *buffer.Memory, values map[string]string) error {
	limit := s.Template().VariableCount() + 2
	for steps := 0; !s.IsFinished(); steps++ {
		if steps > limit {
			s.Cancel(ctx)
			return errors.Errorf("%w after %d steps in state %s", ErrStalled, steps, s.State())
		}
		name, _ := s.CurrentVariable()
		if value, ok := values[name]; ok {
			if err := host.Type(value); err != nil {
				return errors.Errorf("typing %s: %w", name, err)
			}
			if s.IsFinished() {
				break
			}
		}
		zerolog.Ctx(ctx).Debug().Str("variable", name).Msg("next tab stop")
		s.NextTab(ctx)
	}

	if s.State() == session.Cancelled {
		if err := s.Err(); err != nil {
			return errors.Errorf("template %s cancelled: %w", s.Template().Key, err)
		}
		return errors.Errorf("template %s cancelled", s.Template().Key)
	}
	return nil
}

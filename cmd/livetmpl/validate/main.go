package validate

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"go.uber.org/multierr"

	"github.com/walteh/livetmpl/pkg/library"
)

var ErrInvalidLibrary = errors.Base("invalid template library")

type Handler struct {
	src *library.Source
}

func NewValidateCommand(src *library.Source) *cobra.Command {
	me := &Handler{src: src}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "check that every template in the library parses",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return me.Run(cmd.Context(), cmd.OutOrStdout())
	}

	return cmd
}

func (me *Handler) Run(ctx context.Context, out io.Writer) error {
	lib, err := me.src.Open(ctx)
	if lib == nil {
		return err
	}

	problems := multierr.Errors(err)
	for _, p := range problems {
		fmt.Fprintf(out, "%s %s\n", color.New(color.FgRed, color.Bold).Sprint("error"), p.Error())
	}
	fmt.Fprintf(out, "%d templates ok, %d problems\n", lib.Len(), len(problems))

	if len(problems) > 0 {
		return errors.Errorf("%w: %d problems", ErrInvalidLibrary, len(problems))
	}
	return nil
}

package main

import (
	"context"
	"os"
	"runtime/debug"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/livetmpl/cmd/livetmpl/expand"
	"github.com/walteh/livetmpl/cmd/livetmpl/list"
	"github.com/walteh/livetmpl/cmd/livetmpl/validate"
	"github.com/walteh/livetmpl/pkg/library"
	"github.com/walteh/livetmpl/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		println(err.Error())
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func run() error {
	// a missing .env is fine
	_ = godotenv.Load()

	src := &library.Source{Fs: afero.NewOsFs()}

	var (
		logLevel string
		logJSON  bool
	)

	rootCmd := &cobra.Command{
		Use:           "livetmpl",
		Short:         "Expand live templates into source files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		rootCmd.Version = "unknown"
	} else {
		rootCmd.Version = info.Main.Version
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LIVETMPL_LOG_LEVEL", "info"), "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log JSON lines instead of console output")
	rootCmd.PersistentFlags().StringVar(&src.Root, "library", envOr("LIVETMPL_LIBRARY", "."), "directory or .tar.gz bundle holding template library files")
	rootCmd.PersistentFlags().StringVar(&src.Pattern, "pattern", library.DefaultPattern, "glob selecting library files below --library")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		lvl, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger := logging.New(cmd.ErrOrStderr(), lvl, !logJSON)
		cmd.SetContext(logger.WithContext(cmd.Context()))
		return nil
	}

	cmdVersion := &cobra.Command{
		Use: "raw-version",
		Run: func(cmdz *cobra.Command, args []string) {
			cmdz.Println(rootCmd.Version)
		},
		Hidden: true,
	}

	rootCmd.AddCommand(cmdVersion)

	rootCmd.AddCommand(expand.NewExpandCommand(src))
	rootCmd.AddCommand(validate.NewValidateCommand(src))
	rootCmd.AddCommand(list.NewListCommand(src))

	ctx := zerolog.Nop().WithContext(context.Background())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return errors.Errorf("failed to execute command: %w", err)
	}

	return nil
}

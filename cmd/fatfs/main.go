// Command fatfs inspects and modifies FAT12/16/32 images.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aligator/fatfs"
)

var logger = zap.NewNop()

func newCmd() *cobra.Command {
	var flagDebug bool

	cmd := &cobra.Command{
		Use:               "fatfs",
		Short:             "work with FAT12/16/32 images",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewDevelopmentConfig()
			if !flagDebug {
				config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
			}

			var err error
			logger, err = config.Build()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	cmd.AddCommand(formatCmd())
	cmd.AddCommand(infoCmd())
	cmd.AddCommand(lsCmd())
	cmd.AddCommand(mkdirCmd())
	cmd.AddCommand(cpCmd())
	cmd.AddCommand(catCmd())
	cmd.AddCommand(rmCmd())

	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	return cmd
}

// withEngine mounts the image, calls fn and unmounts it again.
// Changes are only written back if writable is set.
func withEngine(image string, writable bool, fn func(e *fatfs.Engine) error) (err error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}

	file, err := afero.NewOsFs().OpenFile(image, flag, 0)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	e, err := fatfs.Mount(file, fatfs.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("unable to mount %s: %w", image, err)
	}

	if err := fn(e); err != nil {
		return err
	}

	if !writable {
		return nil
	}
	return e.Close()
}

func main() {
	if err := newCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/aligator/fatfs"
)

func lsCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "ls IMAGE [PATH]",
		Short: "list a directory of an image",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) == 2 {
				dir = args[1]
			}

			return withEngine(args[0], false, func(e *fatfs.Engine) error {
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				defer w.Flush()

				printEntry := func(path string, entry fatfs.DirectoryEntry) {
					size := humanize.IBytes(uint64(entry.FileSize))
					if entry.IsDirectory() {
						size = "<DIR>"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", entry.LastWriteTime.Format("2006-01-02 15:04"), size, path)
				}

				if recursive {
					return e.Walk(dir, func(path string, entry fatfs.DirectoryEntry) error {
						if path != "/" {
							printEntry(path, entry)
						}
						return nil
					})
				}

				entries, err := e.List(dir)
				if err != nil {
					return err
				}
				for _, entry := range entries {
					printEntry(entry.Name.String(), entry)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "List all sub directories")

	return cmd
}

func mkdirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir IMAGE PATH...",
		Short: "create directories including all missing parents",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(args[0], true, func(e *fatfs.Engine) error {
				for _, path := range args[1:] {
					if err := e.CreateDirectory(path); err != nil {
						return fmt.Errorf("unable to create %s: %w", path, err)
					}
				}
				return nil
			})
		},
	}

	return cmd
}

func cpCmd() *cobra.Command {
	var extract bool
	cmd := &cobra.Command{
		Use:   "cp IMAGE SOURCE DESTINATION",
		Short: "copy a local file into an image",
		Long: `Copy a local file into an image.
With --extract the source is a file in the image and the destination a local file.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := afero.NewOsFs()
			source, destination := args[1], args[2]

			return withEngine(args[0], !extract, func(e *fatfs.Engine) error {
				if extract {
					in, err := e.Open(source, os.O_RDONLY)
					if err != nil {
						return err
					}
					defer in.Close()

					out, err := host.Create(destination)
					if err != nil {
						return err
					}
					return copyAndClose(out, in)
				}

				in, err := host.Open(source)
				if err != nil {
					return err
				}
				defer in.Close()

				out, err := e.Open(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
				if err != nil {
					return err
				}
				return copyAndClose(out, in)
			})
		},
	}

	cmd.Flags().BoolVarP(&extract, "extract", "x", false, "Copy from the image to the local filesystem")

	return cmd
}

func copyAndClose(out io.WriteCloser, in io.Reader) error {
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	logger.Sugar().Debugf("copied %s", humanize.IBytes(uint64(n)))
	return nil
}

func catCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat IMAGE PATH",
		Short: "print a file of an image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(args[0], false, func(e *fatfs.Engine) error {
				f, err := e.Open(args[1], os.O_RDONLY)
				if err != nil {
					return err
				}
				defer f.Close()

				_, err = io.Copy(os.Stdout, f)
				return err
			})
		},
	}

	return cmd
}

func rmCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm IMAGE PATH...",
		Short: "remove files and directories from an image",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(args[0], true, func(e *fatfs.Engine) error {
				for _, path := range args[1:] {
					var err error
					if recursive {
						err = e.DeleteAll(path)
					} else {
						err = e.Delete(path)
					}
					if err != nil {
						return fmt.Errorf("unable to remove %s: %w", path, err)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Remove directories and their content")

	return cmd
}

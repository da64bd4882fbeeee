package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/aligator/fatfs"
)

var floppyTypes = map[string]fatfs.FloppyType{
	"720k":  fatfs.FloppyDoubleDensity,
	"1440k": fatfs.FloppyHighDensity,
	"2880k": fatfs.FloppyExtended,
}

func formatCmd() *cobra.Command {
	var (
		floppy   string
		size     string
		label    string
		oemName  string
		volumeID uint32
	)
	cmd := &cobra.Command{
		Use:   "format IMAGE",
		Short: "create a new FAT image",
		Long: `Create a new FAT image.
Either --floppy or --size has to be given. Partition images smaller than 512 MiB are
formatted as FAT16, larger ones as FAT32.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (floppy == "") == (size == "") {
				return fmt.Errorf("exactly one of --floppy and --size is required")
			}

			opts := []fatfs.Option{fatfs.WithLogger(logger), fatfs.WithLabel(label)}
			if oemName != "" {
				opts = append(opts, fatfs.WithOEMName(oemName))
			}
			if cmd.Flags().Changed("volume-id") {
				opts = append(opts, fatfs.WithVolumeID(volumeID))
			}

			file, err := afero.NewOsFs().OpenFile(args[0], os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
			if err != nil {
				return err
			}
			defer file.Close()

			var bs *fatfs.BootSector
			if floppy != "" {
				floppyType, ok := floppyTypes[floppy]
				if !ok {
					return fmt.Errorf("unknown floppy type %q, use 720k, 1440k or 2880k", floppy)
				}
				bs, err = fatfs.FormatFloppy(file, floppyType, opts...)
			} else {
				var bytes uint64
				bytes, err = humanize.ParseBytes(size)
				if err != nil {
					return fmt.Errorf("invalid size %q: %w", size, err)
				}
				bs, err = fatfs.Format(file, bytes/512, opts...)
			}
			if err != nil {
				return err
			}

			fmt.Printf("%s: %v\n", args[0], bs)
			return nil
		},
	}

	cmd.Flags().StringVar(&floppy, "floppy", "", "Floppy type: 720k, 1440k or 2880k")
	cmd.Flags().StringVar(&size, "size", "", "Size of a partition image, e.g. 64MiB")
	cmd.Flags().StringVar(&label, "label", "", "Volume label")
	cmd.Flags().StringVar(&oemName, "oem", "", "OEM name written into the boot sector")
	cmd.Flags().Uint32Var(&volumeID, "volume-id", 0, "Volume serial number, random by default")

	return cmd
}

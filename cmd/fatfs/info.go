package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aligator/fatfs"
)

func infoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info IMAGE",
		Short: "show the boot sector and usage of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(args[0], false, func(e *fatfs.Engine) error {
				bs := e.BootSector()

				fmt.Printf("Filesystem:   %s (%v)\n", e.FriendlyName(), e.Variant())
				fmt.Printf("Label:        %s\n", e.Label())
				fmt.Printf("OEM name:     %s\n", bs.OEM())
				fmt.Printf("Volume ID:    %04X-%04X\n", bs.EBR.VolumeID>>16, bs.EBR.VolumeID&0xFFFF)
				fmt.Printf("Sectors:      %d x %d bytes\n", bs.TotalSectors(), bs.BytesPerSector)
				fmt.Printf("Cluster size: %s\n", humanize.IBytes(uint64(bs.BytesPerCluster())))
				fmt.Printf("Clusters:     %d\n", bs.ClusterCount())
				fmt.Printf("FATs:         %d x %d sectors (mirrored: %v)\n", bs.NumFATs, bs.FATSize(), bs.MirrorFAT())
				fmt.Printf("Size:         %s\n", humanize.IBytes(e.Size()))
				fmt.Printf("Free:         %s\n", humanize.IBytes(e.FreeSpace()))
				return nil
			})
		},
	}

	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/ytcomments/internal/common"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// no configuration needed
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ytcomments version %s\n", common.GetFullVersion())
		},
	}
}

package cmd

import (
	"fmt"

	"github.com/kozaktomas/rollcall/internal/match"
	"github.com/spf13/cobra"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the available match strategies",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range match.Names() {
			if name == match.Default {
				fmt.Printf("%s (default)\n", name)
				continue
			}
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}

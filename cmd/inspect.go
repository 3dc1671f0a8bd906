package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"parkinson-voice/pkg/bundle"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <bundle>",
	Short: "Print a model bundle's metadata and steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		b, err := bundle.Decode(data, bundle.EncodingOf(args[0]))
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		fmt.Println(renderBundle(b))
		return nil
	},
}

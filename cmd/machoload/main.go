// Command machoload is a thin demo driver around the loader package. It
// reads a Mach-O image from disk and hands it to loader.Load. It is not
// part of the loader's core surface: it exists so the module has an
// entry point a developer can actually run, the way the teacher repo
// ships cmd/dtest and cmd/swiftparity alongside its library.
package main

import (
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/appsworld/macho-loader/loader"
)

var progName string

var rootCmd = &cobra.Command{
	Use:           "machoload <path>",
	Short:         "Load and jump into an arm64 Mach-O image",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := progName
		if name == "" {
			name = path
		}

		log.WithField("path", path).WithField("bytes", len(data)).Info("loading image")

		if err := loader.Load(data, name); err != nil {
			return err
		}

		// loader.Load only returns on failure; a nil error here means the
		// jump itself reported success without transferring control, which
		// should not happen on a real darwin/arm64 host.
		return fmt.Errorf("load returned without transferring control")
	},
}

func init() {
	rootCmd.Flags().StringVar(&progName, "name", "", "argv[0] for the loaded image (default: the input path)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("machoload failed")
		os.Exit(1)
	}
}

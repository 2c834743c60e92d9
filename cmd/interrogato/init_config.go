package interrogato

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundprediction/interrogato/pkg/config"
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write a default configuration file",
	Long: `Write a configuration file populated with the default settings.
The path defaults to ./interrogato.yaml.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "interrogato.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Println("Wrote default configuration to", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
}

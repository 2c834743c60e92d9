package interrogato

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "interrogato",
		Short: "Interrogato: Knowledge Graph Query Engine",
		Long: `Interrogato answers natural-language questions over an indexed
knowledge graph. It supports four search strategies:

- local:  entity-centred search over graph neighbourhoods
- global: map-reduce search over community reports
- basic:  plain vector search over source texts
- drift:  iterative search that decomposes the question into follow-ups

Complete documentation is available at https://github.com/soundprediction/interrogato`,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./interrogato.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

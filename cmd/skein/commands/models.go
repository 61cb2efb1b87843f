package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skeinworks/skein/pkg/cli"
	"github.com/skeinworks/skein/pkg/llm"
	"github.com/skeinworks/skein/pkg/llm/loader"
)

var (
	flagModelDir     string
	flagModelsOutput string
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models a config directory registers",
	Long: `List the model names a config directory would register.

Configs whose API keys are not set in the environment are skipped,
so the output matches what 'skein serve' would actually expose.`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().StringVar(&flagModelDir, "models", "./models", "model config directory")
	modelsCmd.Flags().StringVarP(&flagModelsOutput, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(flagModelsOutput)
	if err != nil {
		return err
	}

	mux := llm.NewMux()
	loader.Verbose = IsVerbose()
	if _, err := loader.LoadFromDir(mux, flagModelDir); err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	names := mux.Names()

	if format != cli.FormatTable {
		return cli.Output(cmd.OutOrStdout(), format, map[string]any{"models": names})
	}
	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no models registered (missing API keys?)")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

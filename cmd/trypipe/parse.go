package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dcshock/trypipe/config"
	"github.com/dcshock/trypipe/syntax"
)

var (
	parseFormat   string
	parsePipeline string
)

var parseCmd = &cobra.Command{
	Use:   "parse FILE",
	Short: "Print the outline of a pipeline",
	Long: `Parses and validates FILE and prints its outline: the try body and every
stage with its source location. YAML pipelines print the same outline as the
equivalent text pipeline.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseFormat, "format", "f", "yaml", "output format: yaml or json")
	parseCmd.Flags().StringVarP(&parsePipeline, "pipeline", "p", "", "pipeline to print from a multi-pipeline YAML file")
}

func runParse(cmd *cobra.Command, args []string) error {
	t, _, err := loadTarget(args[0], parsePipeline, nil, settings.ValidateOptions())
	if err != nil {
		return err
	}
	var p *syntax.Pipeline
	switch t := t.(type) {
	case programTarget:
		p = t.prog.Pipeline()
	case *config.Built:
		p = t.Program.Pipeline()
	default:
		return fmt.Errorf("%s is a sequence; pick one of its pipelines", t.Name())
	}
	outline := syntax.Describe(p)

	out := cmd.OutOrStdout()
	switch parseFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(outline)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(outline); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q (use yaml or json)", parseFormat)
}

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/template"
)

func newSynthCommand(a *app) *cobra.Command {
	var formatFlag string
	var outputPath string

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Render the stack as a CloudFormation template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := template.ParseFormat(formatFlag)
			if err != nil {
				return err
			}

			def, body, err := a.synth(format)
			if err != nil {
				return err
			}

			a.logger.DebugContext(cmd.Context(), "stack synthesized",
				slog.String("stackName", def.Config.StackName),
				slog.String("canaryName", def.Canary.Name),
				slog.String("assetHash", def.Canary.Code.Hash))

			if outputPath == "" {
				_, err := cmd.OutOrStdout().Write(body)
				return err
			}

			if err := os.WriteFile(outputPath, body, 0o644); err != nil {
				return fmt.Errorf("cannot write template: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template written to %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&formatFlag, "format", "f", string(template.FormatJSON), "Template format: json|yaml")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the template to this path instead of stdout")
	cmd.Example = `  # Print the JSON template
  canary-stack synth

  # Write a YAML template
  canary-stack synth --format yaml --output template.yaml`

	return cmd
}

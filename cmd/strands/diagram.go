package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ThomasRohde/strands-cli-sub000/internal/diagram"
	"github.com/ThomasRohde/strands-cli-sub000/internal/specload"
)

func newDiagramCommand() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "diagram <spec>",
		Short: "Draw the execution topology of a spec",
		Long: `Draw the units a spec runs and how control flows between them.

Mermaid text goes to stdout unless --out is set. PNG and SVG are laid out
with graphviz and require --out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "mermaid" && format != diagram.FormatPNG && format != diagram.FormatSVG {
				return &exitError{code: exitConfiguration, err: fmt.Errorf("--format must be mermaid, png or svg, got %q", format)}
			}
			if format != "mermaid" && out == "" {
				return &exitError{code: exitConfiguration, err: fmt.Errorf("--out is required for %s output", format)}
			}

			spec, err := specload.LoadFile(args[0])
			if err != nil {
				return err
			}
			model, err := diagram.Build(spec)
			if err != nil {
				return err
			}

			var data []byte
			if format == "mermaid" {
				data = []byte(diagram.RenderMermaid(model))
			} else if data, err = diagram.RenderImage(cmd.Context(), model, format); err != nil {
				return err
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write diagram: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "mermaid", "Output format: mermaid, png or svg")
	cmd.Flags().StringVar(&out, "out", "", "Write the diagram to this file")
	return cmd
}

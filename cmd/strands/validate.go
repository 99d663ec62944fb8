package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ThomasRohde/strands-cli-sub000/internal/specload"
	"github.com/ThomasRohde/strands-cli-sub000/internal/validation"
)

func newValidateCommand() *cobra.Command {
	var vars []string
	cmd := &cobra.Command{
		Use:   "validate <spec>",
		Short: "Check a spec without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := specload.LoadFile(args[0])
			if err != nil {
				return err
			}
			values, err := specload.ParseVars(vars)
			if err != nil {
				return err
			}
			v, err := validation.NewSpecValidator()
			if err != nil {
				return err
			}

			res := v.Validate(spec, values)
			out := cmd.OutOrStdout()
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "warning: %s: %s\n", w.Path, w.Message)
			}
			for _, e := range res.Errors {
				fmt.Fprintf(out, "error: %s: [%s] %s\n", e.Path, e.Code, e.Message)
			}
			if !res.Valid() {
				return &exitError{code: exitConfiguration}
			}
			fmt.Fprintf(out, "%s: valid %s spec\n", spec.Name, spec.Pattern.Type)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Variable as key=value (repeatable)")
	return cmd
}

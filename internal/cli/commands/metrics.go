package commands

import (
	"io"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// NewMetricsCommand creates the metrics command
func NewMetricsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Run the demo silently and print the mapper metrics",
		Long:  "Run the parent/child demo without output, then print the collected metrics in the Prometheus text format.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := runDemo(cmd.Context(), s, io.Discard); err != nil {
				return err
			}

			families, err := s.registry.Gather()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

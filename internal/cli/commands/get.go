package commands

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/docmap/internal/cli/ui"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// NewGetCommand creates the get command
func NewGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <collection> <key>",
		Short: "Print one stored document as JSON",
		Example: `  docmap get parents P1
  DOCMAP_STORE_DRIVER=redis docmap get children c`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, key := args[0], args[1]

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			doc, err := s.store.Get(cmd.Context(), collection, key)
			if store.IsNotFound(err) {
				var suggestions []string
				if !slices.Contains(demoCollections, collection) {
					suggestions = ui.FindSimilar(collection, demoCollections, nil)
				}
				return &renderedError{
					text: ui.DocumentNotFoundError(collection, key, suggestions, s.noColor),
					err:  err,
				}
			}
			if err != nil {
				return err
			}

			b, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode document: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}

	cmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return demoCollections, cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return cmd
}

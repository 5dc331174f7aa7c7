package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	planner "github.com/hanpama/fetchgraph/internal/planner"
	selection "github.com/hanpama/fetchgraph/internal/selection"
)

func newPlanCmd(a *app) *cobra.Command {
	var entity, query, operation string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the fetch paths for a query",
		Long: `Compile a GraphQL selection against the entity metadata and print the
fetch paths it needs, one per line.

With --entity the query selects fields of that entity directly. Without it,
root fields are mapped to entity types through --root (or by capitalizing the
field name) and each path is prefixed with its type.`,
		Example: `  # Fields of one entity
  fetchgraph plan --entity Film --query '{ title studios }'

  # A whole operation
  fetchgraph plan --root films=Film --query '{ films { title } }'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return errors.New("--query is required")
			}
			p, err := a.planner()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if entity != "" {
				sel, err := selection.FromQuery(query, operation, nil)
				if err != nil {
					return err
				}
				paths, err := p.PlanEntity(cmd.Context(), entity, sel)
				if err != nil {
					return err
				}
				for _, path := range paths {
					fmt.Fprintln(out, path)
				}
				return nil
			}

			byType, err := p.Plan(cmd.Context(), planner.Request{Query: query, OperationName: operation})
			if err != nil {
				return err
			}
			for _, typ := range sortedKeys(byType) {
				for _, path := range byType[typ] {
					fmt.Fprintf(out, "%s: %s\n", typ, path)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "entity type the query selects from")
	cmd.Flags().StringVarP(&query, "query", "q", "", "GraphQL query or selection set")
	cmd.Flags().StringVar(&operation, "operation", "", "operation name when the query holds several")
	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

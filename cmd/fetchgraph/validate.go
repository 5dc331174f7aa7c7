package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "validate",
		Short:   "Validate the metadata SDL",
		Long:    `Load the annotated SDL, build the fetch metadata and list the types it describes.`,
		Example: `  fetchgraph validate --metadata schema.graphql`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			if _, err := a.cfg.RootMap(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			types := reg.Types()
			fmt.Fprintf(out, "Metadata is valid. Found %d types:\n", len(types))
			for _, typ := range types {
				e, _ := reg.Lookup(typ)
				fmt.Fprintf(out, "  - %s (view %s, %d columns, %d lazy, %d embedded, %d relations)\n",
					typ, e.ViewName, len(e.Columns), len(e.LazyColumns), len(e.Embedded)+len(e.LazyEmbedded), len(e.Relations))
			}
			return nil
		},
	}
}

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"portal/internal/backend"
	"portal/internal/entities"
	"portal/internal/metadata"
)

func newValidateCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Build the entity registry and report registration problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := entities.NewRegistry()
			if err != nil {
				return err
			}
			for _, t := range reg.Types() {
				var backends []string
				for _, kind := range []metadata.DefinitionKind{
					metadata.KindPostgresMapping,
					metadata.KindTableMapping,
					metadata.KindMemoryMapping,
				} {
					if reg.HasDefinition(t, kind) {
						backends = append(backends, kind.String())
					}
				}
				if _, err := fmt.Fprintf(out, "%s\t%d fields\t%v\n", t, len(reg.FieldNames(t)), backends); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newGetCommand(out io.Writer, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Print one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withProvider(cmd.Context(), func(reg *metadata.Registry, opened *backend.Opened) error {
				t, err := resolveType(reg, args[0])
				if err != nil {
					return err
				}
				md, err := opened.Provider.GetMetadata(cmd.Context(), t, args[1])
				if err != nil {
					return err
				}
				return printJSON(out, rowView(md))
			})
		},
	}
}

func newQueryCommand(out io.Writer, opts *rootOptions) *cobra.Command {
	var (
		name string
		args []string
	)
	cmd := &cobra.Command{
		Use:   "query <type>",
		Short: "Run a fixed query and print the rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			queryArgs, err := parseArgs(args)
			if err != nil {
				return err
			}
			q, err := metadata.ParseFixedQuery(name, queryArgs)
			if err != nil {
				return err
			}
			return opts.withProvider(cmd.Context(), func(reg *metadata.Registry, opened *backend.Opened) error {
				t, err := resolveType(reg, positional[0])
				if err != nil {
					return err
				}
				rows, err := opened.Provider.FixedQueryMetadata(cmd.Context(), t, q)
				if err != nil {
					return err
				}
				views := make([]map[string]any, 0, len(rows))
				for _, md := range rows {
					views = append(views, rowView(md))
				}
				return printJSON(out, views)
			})
		},
	}
	cmd.Flags().StringVarP(&name, "query", "q", "all", "Query name (all|organization|delete-organization|corporate|alternate|repository|organizations|votes)")
	cmd.Flags().StringArrayVarP(&args, "arg", "a", nil, "Query argument as key=value, repeatable")
	return cmd
}

func rowView(md *metadata.EntityMetadata) map[string]any {
	view := map[string]any{"type": md.EntityType.String(), "fields": md.Fields}
	if md.EntityID != "" {
		view["id"] = md.EntityID
	}
	return view
}

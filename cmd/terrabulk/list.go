package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the entity types of a workspace with their row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.client(ctx)
			if err != nil {
				return err
			}

			types, err := client.ListEntityTypes(ctx, a.workspace())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(types))
			for name := range types {
				names = append(names, name)
			}
			sort.Strings(names)

			if len(names) == 0 {
				fmt.Fprintln(a.stdout, "No entity types in workspace")
				return nil
			}

			data := pterm.TableData{{"ENTITY TYPE", "COUNT", "ID COLUMN", "ATTRIBUTES"}}
			for _, name := range names {
				et := types[name]
				data = append(data, []string{
					name,
					strconv.Itoa(et.Count),
					et.IDName,
					strings.Join(et.AttributeNames, ", "),
				})
			}

			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, table)
			return nil
		},
	}
}

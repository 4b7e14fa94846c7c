package main

import (
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"chatd/internal/registry"
)

func newModelsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models of the config and whether their weights exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			printModels(cmd.OutOrStdout(), registry.Build(cfg.Models), cfg.DefaultModel)
			return nil
		},
	}
}

func printModels(w io.Writer, reg *registry.Registry, defaultModel string) {
	var data [][]string
	for _, m := range reg.List() {
		id := m.ID
		if id == defaultModel {
			id += " (default)"
		}
		data = append(data, []string{
			id,
			strconv.FormatBool(m.Available),
			strings.Join(stopTokens(m.Config.StopSequence), " "),
			m.Config.Weights,
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "AVAILABLE", "STOP", "WEIGHTS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

func stopTokens(ids []uint16) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.Itoa(int(id))
	}
	return out
}

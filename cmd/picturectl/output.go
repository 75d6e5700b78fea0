package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ggoodman/wsrpc/pictures"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func (c *commandContext) printSelector(cmd *cobra.Command, data pictures.DropDownData) error {
	if c.jsonOut {
		return writeJSON(cmd, data)
	}
	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintln(out, renderSelector(data, isTerminal(out))); err != nil {
		return err
	}
	if data.Disabled {
		_, err := fmt.Fprintln(out, "(selector disabled)")
		return err
	}
	return nil
}

func renderSelector(data pictures.DropDownData, fancy bool) string {
	tw := table.NewWriter()
	if fancy {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
	}
	tw.AppendHeader(table.Row{"", "#", "Label", "File"})
	for _, opt := range data.Options {
		marker := ""
		if opt.Index == data.SelectedIndex {
			marker = "*"
		}
		tw.AppendRow(table.Row{marker, strconv.Itoa(opt.Index), opt.Label, opt.Value})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

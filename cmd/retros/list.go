package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/retros/internal/config"
	"github.com/open-edge-platform/retros/internal/registry"
)

var listFormat outputFormat

// createListCommand creates the list subcommand
func createListCommand() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list [flags]",
		Short: "List installed retro packages",
		Args:  usageArgs(cobra.NoArgs),
		RunE:  executeList,
	}
	addFormatFlag(listCmd.Flags(), &listFormat)
	return listCmd
}

type listEntry struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

func kindLabel(k registry.Kind) string {
	if k == registry.KindExecutable {
		return "self-mounting"
	}
	return "squashfs"
}

func executeList(cmd *cobra.Command, args []string) error {
	reg, err := newRegistry(config.Global(), nil)
	if err != nil {
		return err
	}
	entries, err := reg.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch listFormat {
	case formatJSON:
		rows := make([]listEntry, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, listEntry{Name: e.Name, Kind: kindLabel(e.Kind), Path: e.Path, Size: e.Size, Modified: e.ModTime})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	default:
		if len(entries) == 0 {
			fmt.Fprintf(out, "No packages installed in %s\n", reg.Dir())
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tKIND\tSIZE\tINSTALLED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.Name, kindLabel(e.Kind), e.Size, e.ModTime.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	}
}

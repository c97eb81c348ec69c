package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/felixgeelhaar/gantry/internal/app"
	"github.com/felixgeelhaar/gantry/internal/domain/extension"
)

var (
	listDisabled bool
	listPending  bool
	listJSON     bool
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List installed extensions",
	Long: `Display the enabled extension set in load order.

--disabled adds extensions that are installed but not running.
--pending adds installs the update checker has been asked to fetch.

Examples:
  gantry list
  gantry list --disabled --pending
  gantry list --json`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withHost(runList)
	},
}

func init() {
	listCmd.Flags().BoolVar(&listDisabled, "disabled", false, "include disabled extensions")
	listCmd.Flags().BoolVar(&listPending, "pending", false, "include pending installs")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "machine-readable output")

	rootCmd.AddCommand(listCmd)
}

// extensionRow is one line of list output.
type extensionRow struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Version   string `json:"version,omitempty"`
	Kind      string `json:"kind,omitempty"`
	State     string `json:"state"`
	Location  string `json:"location,omitempty"`
	UpdateURL string `json:"update_url,omitempty"`
}

func runList(ctx context.Context, h *app.Host) error {
	rows, err := collectRows(ctx, h)
	if err != nil {
		return err
	}

	if listJSON {
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(rows) == 0 {
		fmt.Println("No extensions installed.")
		fmt.Println("")
		fmt.Println("Install one using:")
		fmt.Println("  gantry install <package-dir-or-zip>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tVERSION\tKIND\tSTATE\tLOCATION")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Name, r.Version, r.Kind, r.State, displayLocation(r.Location))
	}
	return w.Flush()
}

func collectRows(ctx context.Context, h *app.Host) ([]extensionRow, error) {
	reg := h.Registry()

	enabled, err := reg.Extensions(ctx)
	if err != nil {
		return nil, err
	}
	var rows []extensionRow
	for _, ext := range enabled {
		rows = append(rows, rowFor(ext, string(extension.StateEnabled)))
	}

	if listDisabled {
		disabled, err := reg.DisabledExtensions(ctx)
		if err != nil {
			return nil, err
		}
		for _, ext := range disabled {
			rows = append(rows, rowFor(ext, string(extension.StateDisabled)))
		}
	}

	if listPending {
		pending, err := reg.PendingInstalls(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			info := pending[id]
			row := extensionRow{ID: id, State: "pending", UpdateURL: info.UpdateURL}
			if info.ExpectedVersion != nil {
				row.Version = info.ExpectedVersion.Original()
			}
			if info.IsTheme {
				row.Kind = "theme"
			}
			rows = append(rows, row)
		}
	}

	return rows, nil
}

func rowFor(ext *extension.Extension, state string) extensionRow {
	return extensionRow{
		ID:        ext.ID,
		Name:      ext.Name(),
		Version:   ext.Manifest.Version,
		Kind:      kindFor(ext),
		State:     state,
		Location:  string(ext.Location),
		UpdateURL: ext.Manifest.UpdateURL,
	}
}

func kindFor(ext *extension.Extension) string {
	if ext.IsTheme() {
		return "theme"
	}
	return "extension"
}

// displayLocation turns a location value into a column label, e.g.
// "external-pref" becomes "External Pref".
func displayLocation(location string) string {
	caser := cases.Title(language.English)
	return caser.String(strings.ReplaceAll(location, "-", " "))
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gantry/internal/app"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show extension details",
	Long: `Display detailed information about an installed extension,
searching the disabled set too.

Examples:
  gantry info aaaabbbbccccddddeeeeffffgggghhhh`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runInfo(ctx, h, args[0])
		})
	},
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "machine-readable output")

	rootCmd.AddCommand(infoCmd)
}

func runInfo(ctx context.Context, h *app.Host, id string) error {
	reg := h.Registry()

	ext, err := reg.Extension(ctx, id, true)
	if err != nil {
		return fmt.Errorf("extension %q: %w", id, err)
	}

	state := "enabled"
	if _, lookupErr := reg.Extension(ctx, id, false); lookupErr != nil {
		state = "disabled"
	}

	incognito, err := reg.IsIncognitoEnabled(ctx, ext.ID)
	if err != nil {
		return err
	}
	pingDay, hasPing, err := reg.LastPingDay(ctx, ext.ID)
	if err != nil {
		return err
	}

	if infoJSON {
		row := rowFor(ext, state)
		out, err := json.MarshalIndent(row, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	m := ext.Manifest
	fmt.Printf("ID:          %s\n", ext.ID)
	fmt.Printf("Name:        %s\n", ext.Name())
	fmt.Printf("Version:     %s\n", m.Version)
	fmt.Printf("Kind:        %s\n", kindFor(ext))
	fmt.Printf("State:       %s\n", state)
	fmt.Printf("Location:    %s\n", displayLocation(string(ext.Location)))
	fmt.Printf("Path:        %s\n", ext.Path)
	fmt.Printf("Origin:      %s\n", ext.Origin())
	if m.Description != "" {
		fmt.Printf("Description: %s\n", m.Description)
	}
	if m.UpdateURL != "" {
		fmt.Printf("Update URL:  %s\n", m.UpdateURL)
	}
	if m.MinHostVersion != "" {
		fmt.Printf("Needs host:  %s\n", m.MinHostVersion)
	}
	if m.CurrentLocale != "" {
		fmt.Printf("Locale:      %s\n", m.CurrentLocale)
	}
	fmt.Printf("Incognito:   %v\n", incognito)
	if hasPing {
		fmt.Printf("Last ping:   %s\n", pingDay.Format(time.DateOnly))
	}

	if len(m.Permissions) > 0 {
		fmt.Println("")
		fmt.Println("Permissions:")
		for _, p := range m.Permissions {
			fmt.Printf("  • %s\n", p)
		}
	}

	if len(m.Overrides) > 0 {
		fmt.Println("")
		fmt.Println("Page overrides:")
		for page, replacement := range m.Overrides {
			fmt.Printf("  • %s → %s\n", page, strings.TrimSpace(replacement))
		}
	}

	return nil
}

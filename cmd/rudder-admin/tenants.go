package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mailflow/rudder/logger"
	"github.com/mailflow/rudder/registry"
)

func handleTenantsCommand(ctx context.Context) {
	if len(os.Args) < 3 {
		printTenantsUsage()
		os.Exit(1)
	}

	switch os.Args[2] {
	case "list":
		handleTenantsList(ctx)
	case "show":
		handleTenantsShow(ctx)
	case "help", "--help", "-h":
		printTenantsUsage()
	default:
		fmt.Printf("Unknown tenants subcommand: %s\n\n", os.Args[2])
		printTenantsUsage()
		os.Exit(1)
	}
}

func printTenantsUsage() {
	fmt.Printf(`Inspect the configured tenant set

Usage:
  rudder-admin tenants <subcommand> [options]

Subcommands:
  list   List all tenants with their domains
  show   Show the full configuration of one tenant

Examples:
  rudder-admin tenants list
  rudder-admin tenants show --id acme
`)
}

func loadSnapshot(ctx context.Context, configPath string) *registry.Snapshot {
	cfg := loadConfig(configPath)

	source, closer, err := tenantSource(ctx, &cfg)
	if err != nil {
		logger.Fatalf("Failed to open tenant source: %v", err)
	}
	defer closer()

	reg := registry.New(source)
	if err := reg.Reload(ctx); err != nil {
		logger.Fatalf("Failed to load tenants: %v", err)
	}
	snap, err := reg.Snapshot()
	if err != nil {
		logger.Fatalf("Failed to get snapshot: %v", err)
	}
	return snap
}

func handleTenantsList(ctx context.Context) {
	fs := flag.NewFlagSet("tenants list", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Parse(os.Args[3:])

	snap := loadSnapshot(ctx, *configPath)

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTIVE\tPRIMARY DOMAIN\tALIASES\tCATEGORIES")
	for _, t := range snap.Tenants {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n",
			t.ID, t.Active, t.PrimaryDomain,
			strings.Join(t.AliasDomains, ","),
			strings.Join(t.Categories(), ","))
	}
	w.Flush()
}

func handleTenantsShow(ctx context.Context) {
	fs := flag.NewFlagSet("tenants show", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	id := fs.String("id", "", "Tenant ID to show")
	fs.Parse(os.Args[3:])

	if *id == "" {
		fmt.Println("Usage: rudder-admin tenants show --id <tenant-id> [--config config.toml]")
		os.Exit(1)
	}

	snap := loadSnapshot(ctx, *configPath)
	t, ok := snap.TenantByID(*id)
	if !ok {
		logger.Fatalf("Tenant %q not found", *id)
	}

	fmt.Printf("ID:                  %s\n", t.ID)
	fmt.Printf("Name:                %s\n", t.Name)
	fmt.Printf("Active:              %t\n", t.Active)
	fmt.Printf("Primary domain:      %s\n", t.PrimaryDomain)
	fmt.Printf("Alias domains:       %s\n", strings.Join(t.AliasDomains, ", "))
	fmt.Printf("Default destination: %s\n", t.DefaultDestination)

	if len(t.RoutingTable) > 0 {
		fmt.Println("Routing table:")
		for _, cat := range t.Categories() {
			if dest, ok := t.RoutingTable[cat]; ok {
				fmt.Printf("  %-12s -> %s\n", cat, dest)
			}
		}
	}
	if len(t.EscalationKeywords) > 0 {
		fmt.Println("Escalation keywords:")
		for kw, dest := range t.EscalationKeywords {
			fmt.Printf("  %-12s -> %s\n", kw, dest)
		}
	}
	if len(t.VIPDomains) > 0 {
		fmt.Printf("VIP domains:         %s\n", strings.Join(t.VIPDomains, ", "))
		fmt.Printf("VIP destination:     %s\n", t.VIPDestination)
	}
	if t.BusinessHours != nil {
		fmt.Printf("Business hours:      %s-%s (%s)\n",
			t.BusinessHours.Start, t.BusinessHours.End, t.BusinessHours.Timezone)
		fmt.Printf("After-hours dest:    %s\n", t.AfterHoursDestination)
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/gatewaycore/internal/configstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/mcphub"
	"github.com/nextlevelbuilder/gatewaycore/internal/secretstore"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, secrets, and MCP provider health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("gatewaycore doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults will be used)")
	} else {
		fmt.Println(" (OK)")
	}

	cfgStore := configstore.Open(cfgPath)
	snap, err := cfgStore.ReadSnapshot()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if !snap.Valid {
		fmt.Println("  Config issues:")
		fmt.Print(configstore.FormatIssues(snap.Issues))
		return
	}
	fmt.Printf("  Config hash: %s\n", snap.Hash)

	stateDir := snap.Config.StateDir
	if stateDir == "" {
		stateDir = filepath.Dir(cfgPath)
	}
	fmt.Println()
	fmt.Printf("  State dir: %s", stateDir)
	if _, err := os.Stat(stateDir); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	secrets, err := secretstore.Open(filepath.Join(stateDir, "secrets"))
	if err != nil {
		fmt.Printf("  Secret store error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  MCP providers:")
	if len(snap.Config.MCP) == 0 {
		fmt.Println("    (none configured)")
	}

	ids := make([]string, 0, len(snap.Config.MCP))
	for id := range snap.Config.MCP {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Preflight each enabled provider concurrently (§4.F) rather than
	// serially, since each check is an independent network round trip.
	statuses := make([]string, len(ids))
	var g errgroup.Group
	for i, providerID := range ids {
		i, providerID, entry := i, providerID, snap.Config.MCP[providerID]
		g.Go(func() error {
			if !entry.Enabled {
				statuses[i] = "disabled"
				return nil
			}
			statuses[i] = checkMCPProvider(providerID, entry, secrets)
			return nil
		})
	}
	_ = g.Wait()

	for i, providerID := range ids {
		fmt.Printf("    %-28s %s\n", providerID+":", statuses[i])
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkMCPProvider(providerID string, entry configstore.MCPProviderEntry, secrets *secretstore.Store) string {
	for _, field := range entry.RequiredSecrets {
		if ok, _ := secrets.Has(secretstore.ProviderRef(providerID, field)); !ok {
			return fmt.Sprintf("MISSING SECRET (%s)", field)
		}
	}
	if entry.Connection.DeploymentURL == "" {
		return "NO DEPLOYMENT URL"
	}

	token, _, _ := secrets.HasAnyAlias(providerID)
	client := mcphub.NewClient(mcphub.ClientOptions{
		DeploymentURL: entry.Connection.DeploymentURL,
		AuthType:      entry.Connection.AuthType,
		BearerToken:   token,
	})
	ctx, cancel := context.WithTimeout(context.Background(), mcphub.DefaultTimeout)
	defer cancel()
	result := mcphub.Preflight(ctx, client, entry.Connection.DeploymentURL)
	if !result.OK {
		return fmt.Sprintf("PREFLIGHT FAILED (%s)", result.Error)
	}
	return fmt.Sprintf("OK (%d tools, smoke-tested %q)", result.ToolCount, result.SmokeTool)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/rodaine/table"

	"github.com/isometry/adscan/internal/config"
	"github.com/isometry/adscan/internal/dclocator"
	"github.com/isometry/adscan/internal/directory"
	"github.com/isometry/adscan/internal/domainkey"
)

func newTable(columns ...any) table.Table {
	tbl := table.New(columns...)
	tbl.WithHeaderFormatter(color.New(color.FgGreen, color.Underline).SprintfFunc()).
		WithFirstColumnFormatter(color.New(color.FgYellow).SprintfFunc())
	return tbl
}

func printTable(tbl table.Table) {
	fmt.Println()
	tbl.Print()
	fmt.Println()
}

// connect validates cfg, dials the configured backends and resolves the
// directory root.
func connect(ctx context.Context, cfg *config.Config) (*directory.Connection, *directory.Info, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	mode, err := cfg.ConnectionMode()
	if err != nil {
		return nil, nil, err
	}

	conn, err := directory.Dial(ctx, mode, cfg.Factories())
	if err != nil {
		return nil, nil, err
	}
	info, err := conn.ResolveRoot(ctx)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, info, nil
}

func cmdRoot(ctx context.Context, cfg *config.Config) error {
	conn, info, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	sid, err := directory.ResolveDomainSID(ctx, conn, info)
	if err != nil && !directory.IsUnauthorized(err) {
		return err
	}
	netbios, err := directory.ResolveNetBIOSName(ctx, conn, info)
	if err != nil && !directory.IsNotFound(err) && !directory.IsUnauthorized(err) {
		return err
	}

	tbl := newTable("Property", "Value")
	tbl.AddRow("Backend", string(conn.Active()))
	tbl.AddRow("Domain", info.DomainName)
	tbl.AddRow("Forest", info.ForestName)
	tbl.AddRow("NetBIOS", netbios)
	tbl.AddRow("Domain SID", sid)
	tbl.AddRow("DC", info.DNSHostName)
	tbl.AddRow("Default NC", info.DefaultNamingContext)
	tbl.AddRow("Configuration NC", info.ConfigurationNamingContext)
	tbl.AddRow("Schema NC", info.SchemaNamingContext)
	tbl.AddRow("Domain level", info.DomainFunctionalLevel)
	tbl.AddRow("Forest level", info.ForestFunctionalLevel)
	tbl.AddRow("Schema version", info.SchemaVersion)
	if !info.SchemaLastChanged.IsZero() {
		tbl.AddRow("Schema changed", info.SchemaLastChanged.UTC().Format("2006-01-02 15:04:05"))
	}
	printTable(tbl)
	return nil
}

func cmdEnum(ctx context.Context, cfg *config.Config, args []string) error {
	scope, err := directory.ParseScope(flags.scope)
	if err != nil {
		return err
	}

	conn, info, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := directory.SearchRequest{
		BaseDN: flags.base,
		Filter: strings.Join(args, " "),
		Scope:  scope,
	}
	if req.BaseDN == "" {
		req.BaseDN = info.DefaultNamingContext
	}
	if flags.attributes != "" {
		for _, a := range strings.Split(flags.attributes, ",") {
			if a = strings.TrimSpace(a); a != "" {
				req.Attributes = append(req.Attributes, a)
			}
		}
	}

	tbl := newTable("Class", "Name", "SAM account", "SID", "Distinguished name")
	count := 0
	err = conn.Enumerate(ctx, req, func(item *directory.Item) error {
		count++
		tbl.AddRow(item.Class, item.Name, item.SAMAccountName, item.ObjectSID, item.DistinguishedName)
		return nil
	})
	printTable(tbl)
	fmt.Printf("%d objects via %s\n", count, conn.Active())
	return err
}

func cmdDomains(ctx context.Context, cfg *config.Config) error {
	conn, info, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := directory.ResolveDomainSID(ctx, conn, info); err != nil && !directory.IsUnauthorized(err) {
		return err
	}
	if _, err := directory.ResolveNetBIOSName(ctx, conn, info); err != nil && !directory.IsNotFound(err) && !directory.IsUnauthorized(err) {
		return err
	}

	reg := domainkey.NewRegistry()
	if err := directory.CollectDomains(ctx, conn, info, reg); err != nil {
		return err
	}

	tbl := newTable("Domain", "NetBIOS", "SID")
	for _, k := range reg.Keys() {
		tbl.AddRow(k.Name(), k.NetBIOS(), k.SID())
	}
	printTable(tbl)
	return nil
}

func cmdPlan(ctx context.Context, cfg *config.Config) error {
	conn, info, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	root := flags.base
	if root == "" {
		root = info.DefaultNamingContext
	}

	plan, err := directory.PlanOUExploration(ctx, conn, root, cfg.OUSplitDepth)
	if err != nil {
		return err
	}

	tbl := newTable("#", "Scope", "Distinguished name")
	for i, entry := range plan {
		tbl.AddRow(strconv.Itoa(i+1), entry.Scope.String(), entry.DN)
	}
	printTable(tbl)
	return nil
}

func cmdLocate(ctx context.Context, cfg *config.Config, args []string) error {
	name := cfg.Domain
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return errors.New("domain name required (locate <name> or -d DOMAIN)")
	}

	locator := dclocator.New(dclocator.NewDNSService(dclocator.Options{
		DNSSuffixes: cfg.DNSSuffixes,
		PingTimeout: cfg.Timeout,
	}))

	locateFlags := dclocator.ReturnDNSName
	if flags.flat {
		locateFlags = dclocator.ReturnFlatName
	}
	domain, forest, found, err := locator.Locate(ctx, name, locateFlags)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("domain %q not found", name)
	}

	dc, err := locator.LocateHost(ctx, name, locateFlags)
	if err != nil {
		return err
	}

	tbl := newTable("Domain", "Forest", "DC", "Site", "Flags")
	tbl.AddRow(domain, forest, dc.DomainControllerName, dc.DCSiteName, fmt.Sprintf("0x%08x", dc.Flags))
	printTable(tbl)
	return nil
}

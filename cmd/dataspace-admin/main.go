package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
	"github.com/tendant/simple-dataspace/pkg/dataspace/config"
	"github.com/tendant/simple-dataspace/pkg/dataspace/scan"
)

const usage = `Data Space Admin CLI

Administers a data space deployment directly against its storage and database.

USAGE:
  dataspace-admin <command> [options]

COMMANDS:
  protect   Establish the audit container and reconcile its access control
  activity  Print the per-principal activity summary
  events    Export audit events as JSON lines
  spaces    List data spaces

ENVIRONMENT VARIABLES:
  Same as the server: STORAGE_URL, DATABASE_URL, DATASPACE_AUDIT_ADMINS,
  DATASPACE_OPERATOR, REDIS_ADDR, ...

  Configuration can be loaded from a .env file in the current directory.
  Command line environment variables override .env file values.

EXAMPLES:
  # Reconcile audit container access after changing DATASPACE_AUDIT_ADMINS
  dataspace-admin protect

  # Activity summary, read as audit admin alice
  dataspace-admin activity --as=alice

  # Export login events since a handle
  dataspace-admin events --action=Login --since=audit/2024-05-01T12:00:00.000000000Z.json

  # Rebuild the Redis activity index from the log
  dataspace-admin activity --rebuild

OPTIONS:
  --as=<principal>      Principal to act as (default: first audit admin; operator for protect)
  --since=<handle>      Only events after this handle (events)
  --actor=<principal>   Only events by this actor (events)
  --action=<action>     Only events with this action, repeatable (events)
  --member=<principal>  Only spaces with this member (spaces)
  --rebuild             Reset the Redis activity index and replay the log (activity)
  --dry-run             Count matching events without printing them (events)
  --json                Output as JSON
`

type options struct {
	as      string
	since   string
	actor   string
	actions []dataspace.Action
	member  string
	rebuild bool
	dryRun  bool
	useJSON bool
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" || command == "--help" || command == "-h" {
		fmt.Print(usage + "\n")
		os.Exit(0)
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn, TimeFormat: time.Kitchen}))

	cfg, err := config.LoadServerConfig()
	if err != nil {
		fatal("Failed to load configuration", err)
	}

	ctx := context.Background()
	rt, err := cfg.Build(ctx, logger)
	if err != nil {
		fatal("Failed to build data space runtime", err)
	}
	defer rt.Close()

	opts := parseOptions(os.Args[2:])

	switch command {
	case "protect":
		err = handleProtect(ctx, cfg, rt, opts)
	case "activity":
		err = handleActivity(ctx, cfg, rt, opts)
	case "events":
		err = handleEvents(ctx, cfg, rt, opts, logger)
	case "spaces":
		err = handleSpaces(ctx, cfg, rt, opts)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}
	if err != nil {
		_ = rt.Close()
		fatal(command+" failed", err)
	}
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func parseOptions(args []string) options {
	var opts options
	for _, arg := range args {
		key, value := parseFlag(arg)
		switch key {
		case "as":
			opts.as = value
		case "since":
			opts.since = value
		case "actor":
			opts.actor = value
		case "action":
			opts.actions = append(opts.actions, dataspace.Action(value))
		case "member":
			opts.member = value
		case "rebuild":
			opts.rebuild = true
		case "dry-run":
			opts.dryRun = true
		case "json":
			opts.useJSON = true
		}
	}
	return opts
}

func parseFlag(arg string) (string, string) {
	arg = strings.TrimLeft(arg, "-")
	key, value, _ := strings.Cut(arg, "=")
	return key, value
}

// sessionFor returns ctx acting as --as, falling back to the first audit admin.
func sessionFor(ctx context.Context, cfg *config.ServerConfig, opts options) (context.Context, error) {
	if opts.as != "" {
		return dataspace.WithSession(ctx, dataspace.AuthenticatedAs(opts.as)), nil
	}
	if auditCtx, ok := cfg.AuditorContext(ctx); ok {
		return auditCtx, nil
	}
	return nil, fmt.Errorf("no principal: pass --as or set DATASPACE_AUDIT_ADMINS")
}

func handleProtect(ctx context.Context, cfg *config.ServerConfig, rt *config.Runtime, opts options) error {
	ctx = cfg.OperatorContext(ctx)
	if opts.as != "" {
		ctx = dataspace.WithSession(ctx, dataspace.AuthenticatedAs(opts.as))
	}
	if err := rt.Core.AuditLog.Protect(ctx); err != nil {
		return err
	}
	fmt.Printf("Audit container %q protected\n", rt.Core.AuditLog.Container())
	return nil
}

func handleActivity(ctx context.Context, cfg *config.ServerConfig, rt *config.Runtime, opts options) error {
	ctx, err := sessionFor(ctx, cfg, opts)
	if err != nil {
		return err
	}

	var entries []dataspace.ActivityIndexEntry
	switch {
	case rt.ActivityIndex != nil && opts.rebuild:
		if err := rt.ActivityIndex.Reset(ctx); err != nil {
			return err
		}
		applied, err := rt.ActivityIndex.Sync(ctx, rt.Core.AuditLog)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Replayed %d events into the activity index\n", applied)
		entries, err = rt.ActivityIndex.Entries(ctx)
		if err != nil {
			return err
		}
	case rt.ActivityIndex != nil:
		entries, err = rt.ActivityIndex.Entries(ctx)
	default:
		entries, err = rt.Core.Activity.Entries(ctx)
	}
	if err != nil {
		return err
	}

	if opts.useJSON {
		return printJSON(entries)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRINCIPAL\tLOGINS\tLAST SEEN")
	for _, e := range entries {
		lastSeen := "-"
		if !e.LastSeen.IsZero() {
			lastSeen = e.LastSeen.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", e.Principal, e.LoginCount, lastSeen)
	}
	return w.Flush()
}

func handleEvents(ctx context.Context, cfg *config.ServerConfig, rt *config.Runtime, opts options, logger *slog.Logger) error {
	ctx, err := sessionFor(ctx, cfg, opts)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	result, err := scan.New(rt.Core.AuditLog, logger).Scan(ctx, scan.ScanOptions{
		Filters: scan.Filters{
			Since:   dataspace.EventHandle(opts.since),
			Actor:   opts.actor,
			Actions: opts.actions,
		},
		Processor: scan.NewJSONLinesExporter(out),
		DryRun:    opts.dryRun,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Events: %d matched, %d exported, %d failed, %d filtered out\n",
		result.TotalFound, result.TotalProcessed, result.TotalFailed, result.TotalSkipped)
	if result.LastHandle != "" {
		fmt.Fprintf(os.Stderr, "Resume with --since=%s\n", result.LastHandle)
	}
	return nil
}

func handleSpaces(ctx context.Context, cfg *config.ServerConfig, rt *config.Runtime, opts options) error {
	ctx, err := sessionFor(ctx, cfg, opts)
	if err != nil {
		return err
	}

	var spaces []*dataspace.DataSpace
	if opts.member != "" {
		spaces, err = rt.Core.Members.ListSpacesForMember(ctx, opts.member)
	} else {
		spaces, err = rt.Core.Members.ListSpaces(ctx)
	}
	if err != nil {
		return err
	}

	if opts.useJSON {
		return printJSON(spaces)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tACCESS\tCREATOR\tMEMBERS\tCREATED")
	for _, s := range spaces {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.Title, s.AccessMode, s.CreatorPrincipal, len(s.Members), s.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/aagudeloRN/RAGPruebas/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}
	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage()
		return
	}
	switch sub {
	case "up", "down", "status", "steps", "force":
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbURL := fs.String("db-url", "", "Database connection URL (overrides config)")
	// steps/force 的数值参数可能为负数，需在解析 flag 之前取出
	rest := args[1:]
	var positional []string
	if (sub == "steps" || sub == "force") && len(rest) > 0 {
		positional, rest = rest[:1], rest[1:]
	}
	fs.Parse(rest)

	migrator, err := createMigrator(*configPath, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migrateCommand(context.Background(), migration.NewCLI(migrator), sub, positional); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", sub, err)
		migrator.Close()
		os.Exit(1)
	}
}

// createMigrator builds a postgres migrator from --db-url or the loaded config
func createMigrator(configPath, dbURL string) (*migration.PostgresMigrator, error) {
	if dbURL != "" {
		return migration.NewMigrator(&migration.Config{
			DatabaseURL: dbURL,
			TableName:   "schema_migrations",
		})
	}
	return migration.NewMigratorFromConfig(mustLoadConfig(configPath))
}

// migrateCommand dispatches a migrate subcommand; args holds the numeric argument of steps/force
func migrateCommand(ctx context.Context, cli *migration.CLI, sub string, args []string) error {
	switch sub {
	case "up":
		return cli.RunUp(ctx)
	case "down":
		return cli.RunDown(ctx)
	case "status":
		return cli.RunStatus(ctx)
	case "steps":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		return cli.RunSteps(ctx, n)
	case "force":
		v, err := intArg(args)
		if err != nil {
			return err
		}
		return cli.RunForce(ctx, v)
	default:
		return fmt.Errorf("unknown subcommand %q", sub)
	}
}

func intArg(args []string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("missing numeric argument")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", args[0])
	}
	return n, nil
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  ragserver migrate <subcommand> [options] [args]

Subcommands:
  up           Apply all pending migrations (pgvector, documents, qa_cache)
  down         Rollback the last migration
  steps <n>    Apply n migrations, or roll back when n is negative
  force <v>    Force set migration version (use with caution)
  status       Show migration status
  help         Show this help message

Options:
  --config <path>   Path to configuration file (YAML)
  --db-url <url>    postgres:// connection URL (default: from config)

Examples:
  ragserver migrate up
  ragserver migrate status --config /etc/ragserver/config.yaml
  ragserver migrate steps -1
  ragserver migrate force 2`)
}

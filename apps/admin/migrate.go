package main

import (
	"database/sql"

	"github.com/spf13/cobra"
	"github.com/trezcool/goose"

	appfs "github.com/trezcool/atelier/fs"
)

const migrationsDir = "migrations"

// mockable
var gooseRunFunc = func(command string, db *sql.DB, args ...string) error {
	return goose.RunFS(command, db, appfs.FS, migrationsDir, args...)
}

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS]",
		Short: "Run a goose command: up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix",
		// goose parses its own args
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return errHelp
			}
			return cli.migrate(args)
		},
	}
}

func (cli *commandLine) migrate(args []string) error {
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], cli.db, arguments...)
}

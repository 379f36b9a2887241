package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/pulseq/am"
	"github.com/teranos/pulseq/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the job database",
	Long: sym.DB + ` db: manage the job database

Examples:
  pulseq db migrate               # Create or upgrade the queue schema`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, closeStore, err := openStore(cmd.Context(), config)
		if err != nil {
			return err
		}
		closeStore()

		target := config.GetDatabasePath()
		if config.Database.Driver == am.DriverPostgres {
			target = "postgres"
		}
		fmt.Printf("%s Schema up to date (%s)\n", sym.DB, target)
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
}

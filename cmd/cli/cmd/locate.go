package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdock/internal/artifact"
	"taskdock/internal/logger"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Show which package artifact would be installed",
	Long: `Locate scans the project's dist directory for package artifacts and
prints the one with the latest modification time, i.e. the newest build.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		found, err := artifact.NewLocator(logger.New()).Locate(viper.GetString("project-dir"))
		if err != nil {
			return err
		}
		if found == nil {
			cmd.Println("No package artifact found in the dist directory")
			return nil
		}
		cmd.Printf("Package file located in: %s\n", found.LocalPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(locateCmd)
}

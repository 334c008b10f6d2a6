package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "taskdock",
	Short: "Taskdock runs a single task on a remote compute session",
	Long: `taskdock prepares and runs one unit of work on a remote compute session.

It resolves which build artifacts must be present, pushes them to the remote
side, installs them in order, refreshes the remote interpreter when the
runtime supports it, resolves task parameters that reference uploaded
artifacts, and dispatches execution of either a standalone script or a
registered entry point.

Common workflows:

  Run a script with the newest package from ./dist installed first:
    taskdock execute --task-file job.py

  Run a registered entry point without installing the project package:
    taskdock execute --package-name mypkg --entry-point main --no-package

  Check which package artifact would be installed:
    taskdock locate

Configuration:
  Connection settings come from environment variables:
    TASKDOCK_WORKSPACE_URL       Remote execution service endpoint
    TASKDOCK_TOKEN               API token for authentication
    TASKDOCK_CONTEXT_ID          Execution context to attach commands to
    TASKDOCK_ARTIFACT_STORE_URL  Artifact store endpoint (defaults to workspace)

For more information, visit: https://github.com/taskdock/taskdock`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".taskdock"
		viper.AddConfigPath(home)
		viper.SetConfigName(".taskdock")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "TASKDOCK_VARNAME"
	viper.SetEnvPrefix("TASKDOCK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.taskdock.yaml)")

	rootCmd.PersistentFlags().String("project-dir", "", "project directory holding the dist folder (default: current directory)")
	viper.BindPFlag("project-dir", rootCmd.PersistentFlags().Lookup("project-dir"))
}

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdock/internal/artifact"
	"taskdock/internal/config"
	"taskdock/internal/executor"
	"taskdock/internal/logger"
	"taskdock/internal/observability"
	"taskdock/internal/params"
	"taskdock/internal/remote"
	"taskdock/internal/transfer"
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Prepare and run a task on the remote compute session",
	Long: `Execute installs the requested artifacts on the remote session in order
(requirements file, project package, extra package), resolves task
parameters that reference local artifacts, and dispatches either a script
file or a registered entry point.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskFile, _ := cmd.Flags().GetString("task-file")
		packageName, _ := cmd.Flags().GetString("package-name")
		entryPoint, _ := cmd.Flags().GetString("entry-point")
		noPackage, _ := cmd.Flags().GetBool("no-package")
		extraPackage, _ := cmd.Flags().GetString("extra-package")
		requirementsFile, _ := cmd.Flags().GetString("requirements-file")
		uploadViaContext, _ := cmd.Flags().GetBool("upload-via-context")
		pipInstallExtras, _ := cmd.Flags().GetString("pip-install-extras")
		positional, _ := cmd.Flags().GetStringArray("parameter")
		named, _ := cmd.Flags().GetStringToString("named-parameter")

		task, err := buildTask(taskFile, packageName, entryPoint, positional, named)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		log := logger.New()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.OTELEndpoint != "" {
			shutdownTracer, err := observability.InitTracer(ctx, "taskdock", cfg.OTELEndpoint)
			if err != nil {
				return fmt.Errorf("failed to init tracing: %w", err)
			}
			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					log.Warn("Failed to shutdown tracer", "error", err)
				}
			}()
		}

		if cfg.MetricsPort > 0 {
			handler, shutdownMetrics, err := observability.InitMetrics()
			if err != nil {
				return fmt.Errorf("failed to init metrics: %w", err)
			}
			defer shutdownMetrics(context.Background())

			mux := http.NewServeMux()
			mux.Handle("/metrics", handler)
			go func() {
				addr := fmt.Sprintf(":%d", cfg.MetricsPort)
				if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
					log.Warn("Metrics listener stopped", "error", err)
				}
			}()
		}

		var core *artifact.Artifact
		if !noPackage {
			core, err = artifact.NewLocator(log).Locate(viper.GetString("project-dir"))
			if err != nil {
				return err
			}
		}

		var extra *artifact.Artifact
		if extraPackage != "" {
			if _, err := os.Stat(extraPackage); err != nil {
				return fmt.Errorf("extra package %s is not readable: %w", extraPackage, err)
			}
			a := artifact.New(extraPackage)
			extra = &a
		}

		artifacts := artifact.NewSet(noPackage, core, extra)
		if err := artifacts.Validate(); err != nil {
			return err
		}

		session := remote.NewAPIClient(cfg.WorkspaceURL, cfg.Token, cfg.ContextID, cfg.HTTPTimeout, cfg.PollInterval, log)

		ctrl, err := executor.New(ctx, executor.Config{
			Session:          session,
			Artifacts:        artifacts,
			Task:             task,
			UploadViaContext: uploadViaContext,
			ContextFiles:     session,
			Store:            transfer.NewStoreClient(cfg.ArtifactStoreURL, cfg.Token, cfg.HTTPTimeout),
			RequirementsFile: requirementsFile,
			InstallExtras:    pipInstallExtras,
			Log:              log,
		})
		if err != nil {
			return err
		}

		return ctrl.Run(ctx)
	},
}

// buildTask validates flag combinations and builds the task descriptor.
// Exactly one of the two shapes must be selected.
func buildTask(taskFile, packageName, entryPoint string, positional []string, named map[string]string) (executor.Task, error) {
	if len(positional) > 0 && len(named) > 0 {
		return nil, fmt.Errorf("--parameter and --named-parameter are mutually exclusive")
	}
	p := params.Parameters{Positional: positional, Named: named}

	switch {
	case taskFile != "" && (packageName != "" || entryPoint != ""):
		return nil, fmt.Errorf("--task-file cannot be combined with --package-name/--entry-point")
	case taskFile != "":
		return &executor.ScriptTask{File: taskFile, Parameters: p}, nil
	case packageName != "" && entryPoint != "":
		return &executor.EntryPointTask{PackageName: packageName, EntryPoint: entryPoint, Parameters: p}, nil
	default:
		return nil, fmt.Errorf("either --task-file or both --package-name and --entry-point are required")
	}
}

func init() {
	rootCmd.AddCommand(executeCmd)

	executeCmd.Flags().String("task-file", "", "script file to execute on the remote session")
	executeCmd.Flags().String("package-name", "", "package holding the entry point to execute")
	executeCmd.Flags().String("entry-point", "", "registered entry point to execute")
	executeCmd.Flags().Bool("no-package", false, "skip installing the project package")
	executeCmd.Flags().String("extra-package", "", "path to an additional package artifact to install")
	executeCmd.Flags().String("requirements-file", "", "requirements manifest to install before any package")
	executeCmd.Flags().Bool("upload-via-context", false, "upload artifacts through the execution context instead of the artifact store")
	executeCmd.Flags().String("pip-install-extras", "", "extras clause for the project package install, e.g. \"dev,test\"")
	executeCmd.Flags().StringArray("parameter", nil, "positional task parameter (repeatable)")
	executeCmd.Flags().StringToString("named-parameter", nil, "named task parameter as key=value (repeatable)")
}

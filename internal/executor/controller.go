package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"taskdock/internal/artifact"
	"taskdock/internal/logger"
	"taskdock/internal/params"
	"taskdock/internal/remote"
	"taskdock/internal/transfer"
	"taskdock/pkg/api"
)

// refreshVersionThreshold is the lowest runtime major version that
// requires an interpreter restart after package installation. Older
// runtimes pick up newly installed libraries without it.
const refreshVersionThreshold = 13

// finalizeTimeout bounds the best-effort run close when the run context
// is already cancelled.
const finalizeTimeout = 30 * time.Second

// ConfigError is a fatal configuration error detected before any remote
// call for the affected phase.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Reason
}

// Config holds everything the controller needs for a single run.
type Config struct {
	Session   remote.Session
	Artifacts artifact.Set
	Task      Task

	// UploadViaContext selects the context-attached transfer strategy;
	// otherwise a tracked run is opened in the artifact store.
	UploadViaContext bool
	ContextFiles     transfer.ContextFileWriter
	Store            *transfer.StoreClient

	// RequirementsFile is an optional local requirements manifest to
	// install before any package.
	RequirementsFile string

	// InstallExtras is an optional package-manager extras clause applied
	// to the core package install, e.g. "dev,test".
	InstallExtras string

	// NewResolver builds the parameter resolver for the selected transfer
	// strategy. Defaults to the file-reference resolver.
	NewResolver func(transfer.Strategy) params.Resolver

	Log *slog.Logger
}

// Controller sequences one remote task run: requirements install, core and
// extra package installs, environment refresh, parameter resolution, and
// dispatch. Phases execute strictly sequentially with no retries; any
// remote-call failure aborts the run.
type Controller struct {
	session   remote.Session
	artifacts artifact.Set
	task      Task

	uploader    transfer.Strategy
	runUploader *transfer.RunStoreUploader

	requirementsFile string
	installExtras    string
	resolver         params.Resolver

	log    *slog.Logger
	tracer trace.Tracer

	installs   metric.Int64Counter
	restarts   metric.Int64Counter
	dispatches metric.Int64Counter
}

// New creates a Controller and selects its transfer strategy. When the
// run-store strategy is chosen, a tracked run is opened here and held for
// the controller's lifetime; Run closes it.
func New(ctx context.Context, cfg Config) (*Controller, error) {
	if cfg.Session == nil {
		return nil, &ConfigError{Reason: "remote session is required"}
	}
	if cfg.Task == nil {
		return nil, &ConfigError{Reason: "task descriptor is required"}
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	c := &Controller{
		session:          cfg.Session,
		artifacts:        cfg.Artifacts,
		task:             cfg.Task,
		requirementsFile: cfg.RequirementsFile,
		installExtras:    cfg.InstallExtras,
		log:              log,
		tracer:           otel.Tracer("taskdock-executor"),
	}

	if cfg.UploadViaContext {
		if cfg.ContextFiles == nil {
			return nil, &ConfigError{Reason: "context upload selected but no context file writer supplied"}
		}
		log.Info("Context-based file uploader will be used")
		c.uploader = transfer.NewContextUploader(cfg.ContextFiles, log)
	} else {
		if cfg.Store == nil {
			return nil, &ConfigError{Reason: "run-store upload selected but no store client supplied"}
		}
		log.Info("Run-store file uploader will be used")
		run, err := cfg.Store.StartRun(ctx, "taskdock-"+uuid.NewString())
		if err != nil {
			return nil, err
		}
		c.runUploader = transfer.NewRunStoreUploader(cfg.Store, run, log)
		c.uploader = c.runUploader
	}

	if cfg.NewResolver != nil {
		c.resolver = cfg.NewResolver(c.uploader)
	} else {
		c.resolver = params.NewFileReferenceResolver(c.uploader, c.log)
	}

	meter := otel.Meter("taskdock-executor")
	c.installs, _ = meter.Int64Counter("taskdock_installs_total",
		metric.WithDescription("Number of remote package installs issued"))
	c.restarts, _ = meter.Int64Counter("taskdock_interpreter_restarts_total",
		metric.WithDescription("Number of remote interpreter restarts issued"))
	c.dispatches, _ = meter.Int64Counter("taskdock_dispatches_total",
		metric.WithDescription("Number of task dispatches issued"))

	return c, nil
}

// Run executes all phases in order and finalizes the tracked run, if one
// was opened, on success and failure paths alike.
func (c *Controller) Run(ctx context.Context) (err error) {
	ctx, span := c.tracer.Start(ctx, "execute_task")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		c.finalize(err)
	}()

	if c.runUploader != nil {
		ctx = logger.WithRunID(ctx, c.runUploader.Run().ID)
	}
	log := logger.FromContext(ctx, c.log)

	if c.requirementsFile == "" && c.artifacts.SuppressCoreInstall && c.artifacts.Extra == nil {
		log.Warn("No installation was requested for this run, dispatching without installing anything")
	}

	if c.requirementsFile != "" {
		if err = c.installRequirements(ctx); err != nil {
			return err
		}
	}

	if !c.artifacts.SuppressCoreInstall {
		if err = c.installCorePackage(ctx); err != nil {
			return err
		}
	}

	if c.artifacts.Extra != nil {
		log.Info("Installing extra package")
		if err = c.installExtraPackage(ctx); err != nil {
			return err
		}
	}

	if p := c.task.TaskParameters(); !p.IsEmpty() {
		if err = c.resolveParameters(ctx, p); err != nil {
			return err
		}
	}

	return c.dispatch(ctx)
}

// installRequirements uploads the requirements manifest and installs it.
func (c *Controller) installRequirements(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "install_requirements",
		trace.WithAttributes(attribute.String("requirements.file", c.requirementsFile)))
	defer span.End()

	if _, err := os.Stat(c.requirementsFile); err != nil {
		return &ConfigError{Reason: fmt.Sprintf("requirements file provided, but doesn't exist at path %s", c.requirementsFile)}
	}

	log := logger.FromContext(ctx, c.log)
	log.Info("Installing provided requirements", "file", c.requirementsFile)
	remotePath, err := c.uploader.UploadAndProvidePath(ctx, artifact.LocalScheme+c.requirementsFile)
	if err != nil {
		return err
	}

	installCommand := fmt.Sprintf("%%pip install -U -r %s", remotePath)
	if _, err := c.session.ExecuteCommand(ctx, installCommand, false); err != nil {
		return err
	}
	c.installs.Add(ctx, 1)

	if err := c.refreshInterpreterIfNecessary(ctx); err != nil {
		return err
	}
	log.Info("Provided requirements installed")
	return nil
}

// installCorePackage uploads and installs the project package.
func (c *Controller) installCorePackage(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "install_core_package")
	defer span.End()

	if c.artifacts.Core == nil {
		return fmt.Errorf("project package was not found, check that the dist directory exists: %w", artifact.ErrMissingArtifact)
	}

	log := logger.FromContext(ctx, c.log)
	log.Info("Uploading package", "uri", c.artifacts.Core.URI)
	localURI := artifact.LocalScheme + c.artifacts.Core.StrippedURI()
	remotePath, err := c.uploader.UploadAndProvidePath(ctx, localURI)
	if err != nil {
		return err
	}
	log.Info("Uploading package - done")

	log.Info("Installing package on the remote session")
	if err := c.session.InstallPackage(ctx, remotePath, c.installExtras); err != nil {
		return err
	}
	c.installs.Add(ctx, 1)

	if err := c.refreshInterpreterIfNecessary(ctx); err != nil {
		return err
	}
	log.Info("Installing package - done")
	return nil
}

// installExtraPackage uploads and installs the extra package. The artifact
// was present at construction; its absence here is fatal.
func (c *Controller) installExtraPackage(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "install_extra_package")
	defer span.End()

	if c.artifacts.Extra == nil {
		return fmt.Errorf("extra package was not found, check that the dist directory exists: %w", artifact.ErrMissingArtifact)
	}

	log := logger.FromContext(ctx, c.log)
	log.Info("Uploading extra package", "uri", c.artifacts.Extra.URI)
	localURI := artifact.LocalScheme + c.artifacts.Extra.StrippedURI()
	remotePath, err := c.uploader.UploadAndProvidePath(ctx, localURI)
	if err != nil {
		return err
	}
	log.Info("Uploading extra package - done")

	log.Info("Installing extra package on the remote session")
	if err := c.session.InstallPackage(ctx, remotePath, ""); err != nil {
		return err
	}
	c.installs.Add(ctx, 1)

	if err := c.refreshInterpreterIfNecessary(ctx); err != nil {
		return err
	}
	log.Info("Installing extra package - done")
	return nil
}

// refreshInterpreterIfNecessary restarts the remote interpreter when the
// probed runtime version supports it. An unknown version skips silently;
// refresh is an optimization, not a requirement.
func (c *Controller) refreshInterpreterIfNecessary(ctx context.Context) error {
	log := logger.FromContext(ctx, c.log)
	major, ok := remote.ProbeRuntimeVersion(ctx, c.session, log)
	if !ok || major < refreshVersionThreshold {
		return nil
	}

	log.Info("Restarting interpreter to reflect the changes in environment", "runtime_version", major)
	if err := c.session.RestartInterpreter(ctx); err != nil {
		return err
	}
	c.restarts.Add(ctx, 1)
	log.Info("Restarting interpreter to reflect the changes in environment - done")
	return nil
}

// resolveParameters rewrites artifact references embedded in the task's
// parameters and pushes the result into the session's argument context.
func (c *Controller) resolveParameters(ctx context.Context, p *params.Parameters) error {
	ctx, span := c.tracer.Start(ctx, "resolve_parameters")
	defer span.End()

	log := logger.FromContext(ctx, c.log)
	log.Info("Processing task parameters", "positional", p.Positional, "named", p.Named)
	if err := c.resolver.Traverse(ctx, p); err != nil {
		return err
	}
	if err := c.session.SetupArguments(ctx, *p); err != nil {
		return err
	}
	log.Info("Processing task parameters - done")
	return nil
}

// dispatch executes exactly one branch per the task's active shape.
func (c *Controller) dispatch(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "dispatch")
	defer span.End()

	log := logger.FromContext(ctx, c.log)
	switch t := c.task.(type) {
	case *ScriptTask:
		span.SetAttributes(attribute.String("task.file", t.File))
		log.Info("Starting script file execution", "file", t.File)
		if err := c.session.ExecuteFile(ctx, t.File); err != nil {
			return err
		}
		c.dispatches.Add(ctx, 1)
		log.Info("Script file execution finished")
		return nil
	case *EntryPointTask:
		span.SetAttributes(
			attribute.String("task.package", t.PackageName),
			attribute.String("task.entry_point", t.EntryPoint),
		)
		log.Info("Starting entry point execution", "package", t.PackageName, "entry_point", t.EntryPoint)
		if err := c.session.ExecuteEntryPoint(ctx, t.PackageName, t.EntryPoint); err != nil {
			return err
		}
		c.dispatches.Add(ctx, 1)
		log.Info("Entry point execution finished")
		return nil
	default:
		return fmt.Errorf("unsupported task shape %T", c.task)
	}
}

// finalize closes the tracked run, if one was opened. Best-effort: the run
// context may already be cancelled, so a fresh one is used.
func (c *Controller) finalize(runErr error) {
	if c.runUploader == nil {
		return
	}

	status := transferStatus(runErr)
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := c.runUploader.Close(ctx, status); err != nil {
		c.log.Warn("Failed to close tracked run", "run_id", c.runUploader.Run().ID, "error", err)
	}
}

func transferStatus(runErr error) string {
	if runErr != nil {
		return api.RunStatusFailed
	}
	return api.RunStatusFinished
}

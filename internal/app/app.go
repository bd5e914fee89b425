package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"biblfs/internal/biblfs"
	"biblfs/internal/config"
	"biblfs/internal/database"
	"biblfs/internal/fusefs"
	"biblfs/internal/metrics"
	"biblfs/internal/output"
)

// Options are per-invocation settings that do not belong in the config file.
type Options struct {
	// Command names the CLI command being run (e.g. "mount", "tree").
	Command string

	// Verbosity is the -v count: 1 enables debug logs, 2 also traces
	// kernel requests.
	Verbosity int
}

// BiblApp is the application layer between the CLI and the filesystem.
// It constructs all dependencies from config, builds the inode index and
// manages the mount and DB lifecycle.
type BiblApp struct {
	cfg     *config.Config
	opts    Options
	session *Session

	db      *database.SQLiteDatabase
	index   *biblfs.Index
	handler *biblfs.Handler

	metricsServer *metrics.Server
	server        *fusefs.Server

	logger  *slog.Logger
	logFile *os.File
}

// NewBiblApp creates a fully wired BiblApp from the given config. The
// index is built before it returns. The caller must call Close when done.
func NewBiblApp(ctx context.Context, cfg *config.Config, opts Options) (*BiblApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Verbosity > 0 {
		level = slog.LevelDebug
	}

	session := NewSession(opts.Command, cfg.Database.Path, time.Now())
	logger, logFile, err := newLogger(cfg.Log.Dir, session.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &BiblApp{cfg: cfg, opts: opts, session: session, logger: logger, logFile: logFile}
	log := &slogAdapter{l: logger}

	a.db, err = database.NewDatabaseFromConfig(cfg.Database, nil, nil)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if st, err := a.db.SchemaStatus(); err != nil {
		logger.Warn("reading schema status", "error", err)
	} else {
		logger.Debug("schema status", "schema", st.String())
	}

	a.index, err = biblfs.BuildIndex(ctx, a.db, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building index: %w", err)
	}

	fsMetrics := metrics.NewNoopFSMetrics()
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		fsMetrics = metrics.NewFSMetrics(reg)
		a.metricsServer = metrics.NewServer(cfg.Metrics.Addr, reg)
	}

	a.handler = biblfs.NewHandler(a.db, a.index, biblfs.Options{
		TTL:                    cfg.Mount.AttrTTL.Duration,
		NeverReplaceCommonTags: cfg.XAttr.NeverReplaceCommonTags,
		DefaultQuery:           defaultQuery(cfg.Query),
		Logger:                 log,
		Metrics:                fsMetrics,
	})

	logger.Debug("app initialized", "command", opts.Command, "database", cfg.Database.Path, "read_only", cfg.Database.ReadOnly)
	return a, nil
}

func defaultQuery(cfg config.QueryConfig) *biblfs.Query {
	if cfg.Default == "" {
		return nil
	}
	q := biblfs.FullTextQuery(cfg.Default)
	if cfg.DefaultKind == "sql" {
		q = biblfs.SQLQuery(cfg.Default)
	}
	return &q
}

// Logger returns the session logger.
func (a *BiblApp) Logger() *slog.Logger { return a.logger }

// Handler returns the protocol handler serving the mount.
func (a *BiblApp) Handler() *biblfs.Handler { return a.handler }

// Mount attaches the filesystem at the configured mount point and starts
// the metrics endpoint when one is configured.
func (a *BiblApp) Mount() error {
	if a.cfg.Mount.MountPoint == "" {
		return fmt.Errorf("mount point is required")
	}
	if a.server != nil {
		return fmt.Errorf("already mounted at %s", a.server.MountPoint())
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		a.logger.Info("serving metrics", "addr", a.metricsServer.Addr())
	}

	srv, err := fusefs.Mount(a.handler, fusefs.Options{
		MountPoint: a.cfg.Mount.MountPoint,
		FsName:     a.cfg.Mount.FsName,
		AllowOther: a.cfg.Mount.AllowOther,
		Debug:      a.opts.Verbosity > 1,
		Logger:     &slogAdapter{l: a.logger},
	})
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// Run mounts the filesystem and blocks until it is unmounted, either
// externally (fusermount -u) or after SIGINT or SIGTERM. A failed unmount
// on signal, for example while files are open, keeps the mount serving
// until the next signal.
func (a *BiblApp) Run(ctx context.Context) error {
	if err := a.Mount(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		a.server.Wait()
		close(done)
	}()

	for {
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		select {
		case <-done:
			stop()
			a.server = nil
			a.logger.Info("filesystem unmounted", "mount_point", a.cfg.Mount.MountPoint)
			return nil
		case <-sigCtx.Done():
			stop()
			if err := a.server.Unmount(); err != nil {
				if ctx.Err() != nil {
					return err
				}
				a.logger.Error("unmount failed, still serving", "error", err)
				continue
			}
			<-done
			a.server = nil
			return nil
		}
	}
}

// Tree renders the namespace without mounting it.
func (a *BiblApp) Tree(ctx context.Context) (string, error) {
	return output.RenderTree(ctx, a.handler, a.cfg.Database.Path)
}

// Close stops the metrics endpoint and closes the database and log file.
// A live mount is unmounted first.
func (a *BiblApp) Close() error {
	var firstErr error

	if a.server != nil {
		if err := a.server.Unmount(); err != nil {
			firstErr = err
		}
		a.server = nil
	}

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsServer.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}

	a.session.Finish(firstErr)
	a.logger.Debug("session finished", "command", a.session.Command, "status", a.session.Status,
		"duration", time.Since(a.session.Started).Round(time.Millisecond))

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// InitDB creates a new bibliothecula database at path.
func InitDB(path string) error {
	db, err := database.CreateDatabase(path, nil, nil)
	if err != nil {
		return err
	}
	return db.Close()
}

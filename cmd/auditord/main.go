// auditord is the long-running audit daemon. It connects to Postgres, loads
// the active reference catalog, and processes batches dropped into an inbox
// directory, writing one XLSX audit report per finished job. A gRPC health
// endpoint reports store reachability.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dgarciaq/forms-auditor/internal/batch"
	"github.com/dgarciaq/forms-auditor/internal/catalog"
	"github.com/dgarciaq/forms-auditor/internal/common"
	"github.com/dgarciaq/forms-auditor/internal/export"
	"github.com/dgarciaq/forms-auditor/internal/ingest"
	"github.com/dgarciaq/forms-auditor/internal/locator"
	"github.com/dgarciaq/forms-auditor/internal/marks"
	"github.com/dgarciaq/forms-auditor/internal/pipeline"
	"github.com/dgarciaq/forms-auditor/internal/quota"
	"github.com/dgarciaq/forms-auditor/internal/repository"
	"github.com/dgarciaq/forms-auditor/internal/rules"
	"github.com/dgarciaq/forms-auditor/internal/server"
	"github.com/dgarciaq/forms-auditor/internal/vision"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	inbox := os.Getenv("INBOX_DIR")
	outDir := os.Getenv("REPORT_DIR")
	tenantID := os.Getenv("TENANT_ID")
	if inbox == "" || tenantID == "" {
		logger.Error("INBOX_DIR and TENANT_ID env vars are required")
		os.Exit(1)
	}
	if outDir == "" {
		outDir = filepath.Dir(inbox)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repository.Close(pool, logger)

	if err := repository.HealthCheck(ctx, pool, 3*time.Second, logger); err != nil {
		logger.Error("database health check failed", "error", err)
		os.Exit(1)
	}

	// Catalog: the last persisted upload batch becomes the active snapshot.
	catalogStore := repository.NewCatalogStore(pool, logger)
	holder := catalog.NewHolder()
	records, err := catalogStore.ListActive(ctx)
	if err != nil {
		logger.Error("failed to load reference catalog", "error", err)
		os.Exit(1)
	}
	holder.Swap(catalog.NewCatalog(records, time.Now().UTC()))
	logger.Info("reference catalog loaded", "records", len(records))

	guard := quota.NewGuard(repository.NewQuotaStore(pool), cfg.Quota.DefaultMonthly, logger)

	visionClient := vision.NewClient(vision.Config{
		LocateURL: cfg.Vision.LocateURL,
		TextURL:   cfg.Vision.TextURL,
		APIKey:    cfg.Vision.APIKey,
		Timeout:   cfg.Vision.Timeout,
	}, logger)
	loc := locator.New(visionClient, locator.DefaultTable(), locator.Config{
		MinBoxSide: cfg.Vision.MinBoxSide,
		MaxBoxSide: cfg.Vision.MaxBoxSide,
	}, logger)
	reader := marks.NewReader(marks.Config{
		LuminanceCutoff: cfg.Marks.LuminanceCutoff,
		LowThreshold:    cfg.Marks.LowThreshold,
		HighThreshold:   cfg.Marks.HighThreshold,
	}, logger)
	proc := pipeline.NewProcessor(loc, reader, visionClient, logger)

	orch := batch.NewOrchestrator(batch.Config{
		MaxItemsPerJob: cfg.Batch.MaxItemsPerJob,
		WorkersPerJob:  cfg.Batch.WorkersPerJob,
		GlobalWorkers:  cfg.Batch.GlobalWorkers,
		MaxRetries:     cfg.Batch.MaxRetries,
		ItemTimeout:    cfg.Batch.ItemTimeout,
		InFlightLease:  cfg.Batch.InFlightLease,
		SweepInterval:  cfg.Batch.SweepInterval,
	}, guard, repository.NewJobStore(pool, logger), logger)
	defer orch.Close()

	source := ingest.NewFSSource(logger)
	svc := server.NewAuditService(orch, proc, pipeline.DefaultTemplate(), rules.DefaultRegistry(),
		holder, catalogStore, source, export.NewService(logger), logger)

	hs := server.NewHealthServer(func(ctx context.Context) error {
		return repository.HealthCheck(ctx, pool, 3*time.Second, logger)
	}, logger)
	go func() {
		if err := hs.Serve(cfg.Server.GRPCAddr); err != nil {
			logger.Error("health server stopped", "error", err)
			stop()
		}
	}()
	hs.Probe(ctx)
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				hs.Probe(ctx)
			}
		}
	}()

	runInboxLoop(ctx, svc, source, inbox, outDir, tenantID, logger)

	logger.Info("shutting down")
	hs.Stop()
}

// runInboxLoop polls the inbox, submits each wave of new pages as one batch,
// and writes the audit report when the job finishes. Processed pages are
// moved aside so the next poll only sees new work.
func runInboxLoop(ctx context.Context, svc *server.AuditService, source *ingest.FSSource, inbox, outDir, tenantID string, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		docIDs, _, err := source.ScanDirectory(inbox)
		if err != nil {
			logger.Error("inbox scan failed", "dir", inbox, "error", err)
			continue
		}
		if len(docIDs) == 0 {
			continue
		}

		jobID, err := svc.SubmitBatch(ctx, tenantID, docIDs, 0)
		if err != nil {
			logger.Error("batch submission rejected", "items", len(docIDs), "error", err)
			continue
		}
		if err := svc.Wait(ctx, jobID); err != nil {
			logger.Warn("job wait interrupted", "job_id", jobID, "error", err)
			return
		}

		report, err := svc.ExportJob(jobID)
		if err != nil {
			logger.Error("report export failed", "job_id", jobID, "error", err)
			continue
		}
		outPath := filepath.Join(outDir, "audit-"+jobID.String()+".xlsx")
		if err := os.WriteFile(outPath, report, 0o644); err != nil {
			logger.Error("report write failed", "path", outPath, "error", err)
			continue
		}

		archiveProcessed(source, docIDs, inbox, logger)

		st, _ := svc.Status(jobID)
		logger.Info("inbox batch finished",
			"job_id", jobID, "items", len(docIDs), "status", string(st), "report", outPath)
	}
}

func archiveProcessed(source *ingest.FSSource, docIDs []uuid.UUID, inbox string, logger *slog.Logger) {
	doneDir := filepath.Join(inbox, ".processed")
	if err := os.MkdirAll(doneDir, 0o755); err != nil {
		logger.Error("cannot create archive dir", "dir", doneDir, "error", err)
		return
	}
	for _, id := range docIDs {
		path, ok := source.Path(id)
		if !ok {
			continue
		}
		if err := os.Rename(path, filepath.Join(doneDir, filepath.Base(path))); err != nil {
			logger.Warn("cannot archive page", "path", path, "error", err)
		}
	}
}

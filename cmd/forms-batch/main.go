// forms-batch audits one directory of scanned questionnaires and writes an
// XLSX report, using an embedded SQLite store so it runs without Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgarciaq/forms-auditor/constants"
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

// printError prints to stderr, falling back to stdout if stderr fails.
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		inmem       = flag.Bool("inmem", false, "use an in-memory SQLite store")
		dbPath      = flag.String("db", "forms-auditor.db", "SQLite database path (ignored with --inmem)")
		dir         = flag.String("dir", "", "directory of scanned pages to audit (required)")
		catalogPath = flag.String("catalog", "", "reference catalog XLSX to load before auditing")
		out         = flag.String("out", "", "output XLSX report path (defaults next to --dir)")
		tenant      = flag.String("tenant", "local", "tenant the batch is billed to")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*dir), "audit.xlsx")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	cfg := common.LoadConfig()

	storePath := *dbPath
	if *inmem {
		storePath = ":memory:"
	}
	store, err := repository.OpenLocal(storePath, logger)
	if err != nil {
		logger.Error("failed to open local store", "path", storePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// The local runner admits everything the configured monthly default
	// allows; seed the tenant so repeated runs share one counter.
	if err := store.SetQuota(ctx, *tenant, cfg.Quota.DefaultMonthly); err != nil {
		logger.Error("failed to seed tenant quota", "error", err)
		os.Exit(1)
	}
	guard := quota.NewGuard(store, cfg.Quota.DefaultMonthly, logger)

	visionClient := vision.NewClient(vision.Config{
		LocateURL: cfg.Vision.LocateURL,
		TextURL:   cfg.Vision.TextURL,
		APIKey:    cfg.Vision.APIKey,
		Timeout:   cfg.Vision.Timeout,
	}, logger)
	if cfg.Vision.LocateURL == "" {
		logger.Warn("vision service not configured, using fallback coordinates only")
	}
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
	}, guard, store, logger)
	defer orch.Close()

	holder := catalog.NewHolder()
	holder.Swap(catalog.NewCatalog(nil, time.Now().UTC()))

	source := ingest.NewFSSource(logger)
	svc := server.NewAuditService(orch, proc, pipeline.DefaultTemplate(), rules.DefaultRegistry(),
		holder, store, source, export.NewService(logger), logger)

	switch {
	case *catalogPath != "":
		f, err := os.Open(*catalogPath)
		if err != nil {
			logger.Error("cannot open catalog file", "path", *catalogPath, "error", err)
			os.Exit(1)
		}
		n, err := svc.UploadCatalog(ctx, f)
		_ = f.Close()
		if err != nil {
			logger.Error("catalog upload failed", "path", *catalogPath, "error", err)
			os.Exit(1)
		}
		logger.Info("catalog loaded", "path", *catalogPath, "records", n)
	default:
		// Fall back to whatever batch a previous run persisted.
		records, err := store.ListActive(ctx)
		if err != nil {
			logger.Error("cannot load stored catalog", "error", err)
			os.Exit(1)
		}
		holder.Swap(catalog.NewCatalog(records, time.Now().UTC()))
		logger.Info("using stored catalog", "records", len(records))
	}

	docIDs, stats, err := source.ScanDirectory(*dir)
	if err != nil {
		logger.Error("failed to scan directory", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if len(docIDs) == 0 {
		printError("No scanned pages found under %s\n", *dir)
		os.Exit(1)
	}

	jobID, err := svc.SubmitBatch(ctx, *tenant, docIDs, 0)
	if err != nil {
		logger.Error("batch rejected", "items", len(docIDs), "error", err)
		os.Exit(1)
	}
	if err := svc.Wait(ctx, jobID); err != nil {
		logger.Error("job did not finish", "job_id", jobID, "error", err)
		os.Exit(1)
	}

	job, err := svc.Job(jobID)
	if err != nil {
		logger.Error("job lookup failed", "job_id", jobID, "error", err)
		os.Exit(1)
	}
	report, err := svc.ExportJob(jobID)
	if err != nil {
		logger.Error("report export failed", "job_id", jobID, "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, report, 0o644); err != nil {
		logger.Error("failed to write report", "path", *out, "error", err)
		os.Exit(1)
	}

	var validated, review, rejected, failed int
	for _, it := range job.Items {
		if it.Result == nil {
			failed++
			continue
		}
		switch it.Result.Verdict {
		case constants.VerdictValidated:
			validated++
		case constants.VerdictNeedsReview:
			review++
		default:
			rejected++
		}
	}

	st, _ := svc.Status(jobID)
	logger.Info("batch audit complete",
		"job_id", jobID, "status", string(st),
		"pages_found", stats.Matched, "validated", validated,
		"needs_review", review, "rejected", rejected, "failed", failed,
		"report", *out)

	fmt.Printf("Audit complete (%s)\n", st)
	fmt.Printf("- Pages audited: %d\n", len(job.Items))
	fmt.Printf("- Validated: %d\n", validated)
	fmt.Printf("- Needs review: %d\n", review)
	fmt.Printf("- Rejected: %d\n", rejected)
	fmt.Printf("- Failed: %d\n", failed)
	fmt.Printf("- Report: %s\n", *out)
}

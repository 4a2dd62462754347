// Command ingest-cli drives a batch of documents through the ingestion
// job-dispatch core directly, without the HTTP front-end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/WessleyAI/ingest-dispatch/internal/broker"
	"github.com/WessleyAI/ingest-dispatch/internal/jobspec"
	"github.com/WessleyAI/ingest-dispatch/internal/orchestrator"
	"github.com/WessleyAI/ingest-dispatch/internal/tracing"
)

// multiFlag collects repeated occurrences of a flag into a slice, the
// idiomatic Go stand-in for the source CLI's native list flags.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

const (
	exitOK          = 0
	exitUserInput   = 1
	exitBrokerDown  = 2
	exitPartialFail = 3
)

func main() {
	var docs, taskFlags multiFlag

	batchSize := flag.Int("batch_size", 10, "documents per batch, >= 1")
	flag.Var(&docs, "doc", "document path (repeatable)")
	dataset := flag.String("dataset", "", "path to a dataset file listing documents")
	client := flag.String("client", "REDIS", "broker client kind (REDIS, kept for CLI parity; transport is NATS)")
	clientHost := flag.String("client_host", envOr("BROKER_HOST", ""), "broker host (required)")
	clientPort := flag.String("client_port", envOr("BROKER_PORT", ""), "broker port (required)")
	clientKwargs := flag.String("client_kwargs", "{}", "extra broker client kwargs, JSON object")
	concurrencyN := flag.Int("concurrency_n", 10, "worker pool size")
	dryRun := flag.Bool("dry_run", false, "validate tasks and documents, do not submit")
	outputDirectory := flag.String("output_directory", "", "directory for per-document result files")
	logLevel := flag.String("log_level", "INFO", "DEBUG, INFO, WARNING, ERROR, CRITICAL")
	shuffleDataset := flag.Bool("shuffle_dataset", true, "shuffle the document list before batching")
	flag.Var(&taskFlags, "task", "NAME:{JSON} task definition (repeatable)")
	ttl := flag.Duration("response_ttl", 30*time.Second, "response channel TTL per job")
	submitRate := flag.Float64("submit_rate", 0, "max job submissions per second, 0 = unbounded")
	flag.Parse()

	_ = client
	_ = clientKwargs

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(*logLevel)}))
	slog.SetDefault(logger)

	if *clientHost == "" || *clientPort == "" {
		logger.Error("client_host and client_port are required")
		os.Exit(exitUserInput)
	}

	docPaths := append([]string{}, docs...)
	if *dataset != "" {
		fromDataset, err := readDatasetFile(*dataset)
		if err != nil {
			logger.Error("reading dataset file", "err", err)
			os.Exit(exitUserInput)
		}
		docPaths = append(docPaths, fromDataset...)
	}
	if len(docPaths) == 0 {
		logger.Error("no documents given: pass --doc or --dataset")
		os.Exit(exitUserInput)
	}
	if *shuffleDataset {
		rand.Shuffle(len(docPaths), func(i, j int) { docPaths[i], docPaths[j] = docPaths[j], docPaths[i] })
	}

	factory := jobspec.NewTaskFactory()
	tasks, err := buildTasks(factory, taskFlags)
	if err != nil {
		logger.Error("invalid task definition", "err", err)
		os.Exit(exitUserInput)
	}

	docsIn, err := loadDocuments(docPaths)
	if err != nil {
		logger.Error("loading documents", "err", err)
		os.Exit(exitUserInput)
	}

	if *dryRun {
		logger.Info("dry run ok", "documents", len(docsIn), "tasks", len(tasks))
		os.Exit(exitOK)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	exporter, err := tracing.NewExporter(ctx, otelEndpoint)
	if err != nil {
		logger.Error("building OTLP exporter", "err", err)
		os.Exit(exitBrokerDown)
	}
	if exporter != nil {
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := exporter.Shutdown(shutCtx); err != nil {
				logger.Warn("shutting down OTLP exporter", "err", err)
			}
		}()
	}

	brokerClient := broker.NewClient(broker.Options{Host: *clientHost, Port: *clientPort})
	orch := orchestrator.New(brokerClient, orchestrator.Options{
		ConcurrencyN:    *concurrencyN,
		BatchSize:       *batchSize,
		OutputDirectory: *outputDirectory,
		JobTTL:          *ttl,
		SubmitRate:      *submitRate,
		Trace:           otelEndpoint != "",
		Logger:          logger,
		Exporter:        exporter,
	})

	stats, err := orch.CreateAndProcessJobs(ctx, docsIn, tasks)
	if err != nil {
		logger.Error("broker unavailable", "err", err)
		os.Exit(exitBrokerDown)
	}

	logger.Info("run complete",
		"submitted", stats.Submitted,
		"completed", stats.Completed,
		"timed_out", stats.TimedOut,
		"errored", stats.Errored,
		"pages_processed", stats.PagesProcessed,
	)
	for _, sl := range stageLatencies(stats.TraceTimes) {
		logger.Info("stage latency", "stage", sl.Stage, "mean_ns", sl.MeanNS, "median_ns", sl.MedianNS)
	}

	if stats.TimedOut > 0 || stats.Errored > 0 {
		os.Exit(exitPartialFail)
	}
	os.Exit(exitOK)
}

// stageLatency is one stage's mean/median duration across all completed
// jobs, per §7's final-report requirement.
type stageLatency struct {
	Stage           string
	MeanNS, MedianNS int64
}

// stageLatencies computes stageLatency for every stage in traceTimes,
// sorted by stage name for deterministic log output.
func stageLatencies(traceTimes map[string][]int64) []stageLatency {
	stages := make([]string, 0, len(traceTimes))
	for stage := range traceTimes {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	out := make([]stageLatency, 0, len(stages))
	for _, stage := range stages {
		durations := append([]int64{}, traceTimes[stage]...)
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

		var sum int64
		for _, d := range durations {
			sum += d
		}
		mean := sum / int64(len(durations))
		median := durations[len(durations)/2]
		if len(durations)%2 == 0 {
			median = (durations[len(durations)/2-1] + durations[len(durations)/2]) / 2
		}

		out = append(out, stageLatency{Stage: stage, MeanNS: mean, MedianNS: median})
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func readDatasetFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// buildTasks parses --task 'NAME:{JSON}' flags into validated jobspec.Task
// values via factory.
func buildTasks(factory *jobspec.TaskFactory, taskFlags []string) ([]jobspec.Task, error) {
	tasks := make([]jobspec.Task, 0, len(taskFlags))
	for _, raw := range taskFlags {
		name, body, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, fmt.Errorf("task flag %q missing ':' separator", raw)
		}
		task, err := factory.BuildTask(name, json.RawMessage(body))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func loadDocuments(paths []string) ([]orchestrator.Document, error) {
	docs := make([]orchestrator.Document, 0, len(paths))
	for _, path := range paths {
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		docType, err := docTypeFromExt(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, orchestrator.Document{
			SourceID:     path,
			SourceName:   filepath.Base(path),
			DocumentType: docType,
			Payload:      payload,
		})
	}
	return docs, nil
}

func docTypeFromExt(path string) (jobspec.DocumentType, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "pdf":
		return jobspec.DocPDF, nil
	case "docx":
		return jobspec.DocDOCX, nil
	case "pptx":
		return jobspec.DocPPTX, nil
	case "html", "htm":
		return jobspec.DocHTML, nil
	case "xml":
		return jobspec.DocXML, nil
	case "xlsx", "xls":
		return jobspec.DocExcel, nil
	case "csv":
		return jobspec.DocCSV, nil
	case "parquet":
		return jobspec.DocParquet, nil
	default:
		return "", fmt.Errorf("unsupported document extension: %q", ext)
	}
}

// Command partjoin joins two CSV or Parquet files on equal key columns.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/paveg/partjoin"
	"github.com/paveg/partjoin/internal/config"
	"github.com/paveg/partjoin/internal/execution"
	pjio "github.com/paveg/partjoin/internal/io"
	"github.com/paveg/partjoin/internal/join"
	"github.com/paveg/partjoin/internal/version"
)

const progressStep = 0.1

func customUsage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "partjoin (version %s)\n\n", version.Version)
		fmt.Fprintf(out, "Usage: partjoin [options] -left FILE -right FILE -left-keys COLS -right-keys COLS\n\n")
		fmt.Fprintf(out, "Joins two .csv or .parquet files. Without -out the result is written as CSV to stdout.\n\n")
		fmt.Fprintf(out, "Options:\n")
		fs.PrintDefaults()
	}
}

type options struct {
	left, right, out                       string
	leftKeyCol, rightKeyCol, outKeyCol     string
	configFile                             string
	mode, composition, duplicates, rowKeys string
	leftKeys, rightKeys                    string
	leftInclude, rightInclude              string
	removeLeftKeys, removeRightKeys        bool
	suffix, separator                      string
	spillDir                               string
	maxOpenFiles, initialBits, maxBits     int
	verbose, progress, metrics             bool
	showVersion                            bool
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.left, "left", "", "left input file")
	fs.StringVar(&o.right, "right", "", "right input file")
	fs.StringVar(&o.out, "out", "", "output file (.csv or .parquet)")
	fs.StringVar(&o.leftKeyCol, "left-row-keys", "", "column of the left file holding row keys")
	fs.StringVar(&o.rightKeyCol, "right-row-keys", "", "column of the right file holding row keys")
	fs.StringVar(&o.outKeyCol, "out-row-keys", "row_key", "output column for row keys (empty to omit)")
	fs.StringVar(&o.configFile, "config", "", "YAML or JSON file with engine and join sections")
	fs.StringVar(&o.mode, "mode", "", "join mode: inner, left_outer, right_outer, full_outer")
	fs.StringVar(&o.composition, "composition", "", "key composition: match_all, match_any")
	fs.StringVar(&o.leftKeys, "left-keys", "", "comma separated left key columns ($RowID$ for row keys)")
	fs.StringVar(&o.rightKeys, "right-keys", "", "comma separated right key columns")
	fs.StringVar(&o.leftInclude, "left-include", "", "comma separated left output columns (default all)")
	fs.StringVar(&o.rightInclude, "right-include", "", "comma separated right output columns (default all)")
	fs.BoolVar(&o.removeLeftKeys, "remove-left-keys", false, "drop left key columns from the output")
	fs.BoolVar(&o.removeRightKeys, "remove-right-keys", false, "drop right key columns from the output")
	fs.StringVar(&o.duplicates, "duplicates", "", "duplicate columns: filter, append_suffix, dont_execute")
	fs.StringVar(&o.suffix, "suffix", "", "suffix for duplicate right columns")
	fs.StringVar(&o.rowKeys, "row-keys", "", "row key policy: concatenate, reuse, sequence")
	fs.StringVar(&o.separator, "separator", "", "separator of concatenated row keys")
	fs.StringVar(&o.spillDir, "spill-dir", "", "directory for temporary files")
	fs.IntVar(&o.maxOpenFiles, "max-open-files", 0, "files open at once while sorting")
	fs.IntVar(&o.initialBits, "initial-bits", 0, "log2 of the initial partition count")
	fs.IntVar(&o.maxBits, "max-bits", 0, "log2 of the maximum partition count")
	fs.BoolVar(&o.verbose, "v", false, "verbose logging")
	fs.BoolVar(&o.progress, "progress", false, "log progress")
	fs.BoolVar(&o.metrics, "metrics", false, "print phase metrics when done")
	fs.BoolVar(&o.showVersion, "version", false, "print version information and exit")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("partjoin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = customUsage(fs)

	var o options
	o.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if o.showVersion {
		if o.verbose {
			fmt.Fprint(stdout, version.Info().String())
		} else {
			fmt.Fprintln(stdout, version.Info().Short())
		}
		return 0
	}
	if o.left == "" || o.right == "" {
		fs.Usage()
		return 2
	}

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if err := execute(ctx, &o, fs, stdout, stderr, logger); err != nil {
		logger.Error("join failed", "error", err)
		return 1
	}
	return 0
}

func execute(ctx context.Context, o *options, fs *flag.FlagSet, stdout, stderr io.Writer, logger *slog.Logger) error {
	cfg, js, err := o.settings(fs)
	if err != nil {
		return err
	}
	cfg, hints, err := config.NewConfigValidator().Validate(cfg)
	if err != nil {
		return err
	}
	for _, h := range hints {
		logger.Warn(h)
	}
	if cfg.VerboseLogging && !o.verbose {
		logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	settings, err := join.SettingsFromConfig(js, cfg)
	if err != nil {
		return err
	}

	left, err := partjoin.OpenFile(o.left, o.leftKeyCol)
	if err != nil {
		return err
	}
	right, err := partjoin.OpenFile(o.right, o.rightKeyCol)
	if err != nil {
		return err
	}

	opts := []partjoin.Option{partjoin.WithConfig(cfg), partjoin.WithLogger(logger)}
	if o.progress {
		opts = append(opts, partjoin.WithProgressMonitor(execution.NewLogMonitor(logger, progressStep)))
	}
	j, err := partjoin.NewJoiner(settings, opts...)
	if err != nil {
		return err
	}

	res, err := j.Join(ctx, left, right)
	if err != nil {
		return err
	}
	defer res.Release()

	for _, w := range res.Warnings {
		fmt.Fprintf(stderr, "warning: %s\n", w)
	}

	if o.out == "" {
		csvOpts := pjio.DefaultCSVOptions()
		csvOpts.KeyColumn = o.outKeyCol
		if err := pjio.NewCSVWriter(stdout, csvOpts).Write(res.Table); err != nil {
			return err
		}
	} else if err := partjoin.WriteFile(o.out, res.Table, o.outKeyCol); err != nil {
		return err
	}
	logger.Info("join finished", "rows", res.Table.RowCount(), "passes", res.Passes)

	if o.metrics {
		printMetrics(stderr, j)
	}
	return nil
}

// settings merges the engine configuration (environment or config file)
// with the flags given on the command line.
func (o *options) settings(fs *flag.FlagSet) (config.Config, config.JoinSettings, error) {
	cfg := config.LoadFromEnv()
	var js config.JoinSettings
	if o.configFile != "" {
		doc, err := config.LoadDocument(o.configFile)
		if err != nil {
			return cfg, js, err
		}
		cfg, js = doc.Engine, doc.Join
	}

	initialSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			js.Mode = o.mode
		case "composition":
			js.Composition = o.composition
		case "left-keys":
			js.LeftKeys = splitList(o.leftKeys)
		case "right-keys":
			js.RightKeys = splitList(o.rightKeys)
		case "left-include":
			js.LeftInclude = splitList(o.leftInclude)
		case "right-include":
			js.RightInclude = splitList(o.rightInclude)
		case "remove-left-keys":
			js.RemoveLeftKeys = o.removeLeftKeys
		case "remove-right-keys":
			js.RemoveRightKeys = o.removeRightKeys
		case "duplicates":
			js.DuplicateHandling = o.duplicates
		case "suffix":
			js.Suffix = o.suffix
		case "row-keys":
			js.RowKeyPolicy = o.rowKeys
		case "separator":
			js.RowKeySeparator = o.separator
		case "spill-dir":
			cfg.SpillDirectory = o.spillDir
		case "max-open-files":
			cfg.MaxOpenFiles = o.maxOpenFiles
		case "initial-bits":
			cfg.InitialPartitionBits = o.initialBits
			initialSet = true
		case "max-bits":
			cfg.MaxPartitionBits = o.maxBits
		case "metrics":
			cfg.MetricsCollection = o.metrics
		}
	})
	if !initialSet && cfg.InitialPartitionBits > cfg.MaxPartitionBits {
		cfg.InitialPartitionBits = cfg.MaxPartitionBits
	}
	return cfg, js, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func printMetrics(w io.Writer, j *partjoin.Joiner) {
	summary := j.Metrics().GetSummary()
	ops := make([]string, 0, len(summary.OperationCounts))
	for op := range summary.OperationCounts {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	fmt.Fprintf(w, "total: %d operations, %d rows, %s\n", summary.TotalOperations, summary.TotalRows, summary.TotalDuration)
	for _, op := range ops {
		fmt.Fprintf(w, "  %s: %d\n", op, summary.OperationCounts[op])
	}
	for _, name := range summary.CounterNames() {
		fmt.Fprintf(w, "  %s: %d\n", name, summary.Counters[name])
	}
}

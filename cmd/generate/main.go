package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bobarin/kanjivoice/internal/app"
	"github.com/bobarin/kanjivoice/internal/cache"
	"github.com/bobarin/kanjivoice/internal/config"
	"github.com/bobarin/kanjivoice/internal/models"
)

var readingsPath string

var rootCmd = &cobra.Command{
	Use:          "generate",
	Short:        "Synthesize audio for every reading in a readings file",
	SilenceUsage: true,
	Long: `Generate resolves each (literal, text) pair in a readings JSON file through
the audio cache, synthesizing only texts that are not cached yet.

The file is a JSON array: [{"literal":"一","text":"いち","r_type":"ja_on"}, ...].
Configuration comes from the same environment variables as the API server.`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	rootCmd.Flags().StringVarP(&readingsPath, "readings", "r", "db/readings.json", "path to the readings JSON file")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	readings, err := loadReadings(readingsPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	manager, err := app.NewManager(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := manager.ResolveAll(ctx, readings)
	s := summarize(results, cfg.AudioDir)
	s.print(cmd.OutOrStdout())

	if s.failed > 0 {
		return fmt.Errorf("%d of %d readings failed", s.failed, len(results))
	}
	return nil
}

func loadReadings(path string) ([]models.Reading, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read readings file: %w", err)
	}

	var readings []models.Reading
	if err := json.Unmarshal(data, &readings); err != nil {
		return nil, fmt.Errorf("failed to parse readings file %s: %w", path, err)
	}
	return readings, nil
}

type summary struct {
	synthesized int
	cached      int
	failed      int
	bytes       uint64
	failures    []cache.ReadingResult
}

func summarize(results []cache.ReadingResult, audioDir string) summary {
	var s summary
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.failed++
			s.failures = append(s.failures, r)
		case r.Result.Cached:
			s.cached++
		default:
			s.synthesized++
			if info, err := os.Stat(filepath.Join(audioDir, r.Result.Path)); err == nil {
				s.bytes += uint64(info.Size())
			}
		}
	}
	return s
}

func (s summary) print(w io.Writer) {
	for _, f := range s.failures {
		fmt.Fprintf(w, "FAIL %s (%s): %v\n", f.Reading.Literal, f.Reading.Text, f.Err)
	}
	fmt.Fprintf(w, "%s synthesized (%s), %s cached, %s failed\n",
		humanize.Comma(int64(s.synthesized)),
		humanize.Bytes(s.bytes),
		humanize.Comma(int64(s.cached)),
		humanize.Comma(int64(s.failed)),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

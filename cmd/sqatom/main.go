package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/liliang-cn/sqatom/pkg/core"
	"github.com/liliang-cn/sqatom/pkg/ingest"
	"github.com/liliang-cn/sqatom/pkg/sqatom"
)

var (
	dbPath  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sqatom",
	Short: "CLI tool for the SQLite atom store",
	Long:  `A command-line interface for ingesting large objects into content-addressed atoms, reconstructing them, and searching embeddings spatially.`,
}

func openEngine(opts ...sqatom.Option) (*sqatom.Engine, error) {
	config := sqatom.DefaultConfig(dbPath)
	if verbose {
		config.Logger = core.NewStdLogger(core.LevelDebug)
	}
	return sqatom.Open(config, opts...)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new atom database",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		defer engine.Close()

		fmt.Printf("Atom database initialized at %s\n", dbPath)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a file as a governed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modality, _ := cmd.Flags().GetString("modality")
		subtype, _ := cmd.Flags().GetString("subtype")
		chunkSize, _ := cmd.Flags().GetUint64("chunk-size")
		quota, _ := cmd.Flags().GetUint64("quota")
		modelID, _ := cmd.Flags().GetInt64("model")
		stepOnly, _ := cmd.Flags().GetBool("step")
		chunkRate, _ := cmd.Flags().GetFloat64("rate")

		var opts []sqatom.Option
		if chunkRate > 0 {
			opts = append(opts, sqatom.WithChunkRate(rate.NewLimiter(rate.Limit(chunkRate), 1)))
		}

		engine, err := openEngine(opts...)
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		defer engine.Close()

		ctx := context.Background()
		jobID, err := engine.SubmitIngestionJob(ctx, ingest.SubmitOptions{
			SourceURI: args[0],
			Modality:  modality,
			Subtype:   subtype,
			ChunkSize: chunkSize,
			UnitQuota: quota,
			ModelID:   modelID,
		})
		if err != nil {
			return fmt.Errorf("failed to submit job: %w", err)
		}

		fmt.Printf("Job submitted: %s\n", jobID)
		if stepOnly {
			return nil
		}

		job, err := engine.RunJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("job run interrupted: %w", err)
		}

		printJob(job)
		if job.Status == core.JobFailed {
			os.Exit(1)
		}
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage ingestion jobs",
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		defer engine.Close()

		job, err := engine.Job(context.Background(), args[0])
		if err != nil {
			return err
		}

		printJob(job)
		return nil
	},
}

var jobStepCmd = &cobra.Command{
	Use:   "step <job-id>",
	Short: "Advance a job by one chunk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		defer engine.Close()

		job, err := engine.StepJob(context.Background(), args[0])
		if err != nil {
			return err
		}

		printJob(job)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		engine, err := openEngine()
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		defer engine.Close()

		jobs, err := engine.Store().ListJobs(context.Background(), core.JobStatus(status))
		if err != nil {
			return err
		}

		for _, job := range jobs {
			fmt.Printf("%s  %-10s  parent=%d  units=%d  cursor=%d\n",
				job.ID, job.Status, job.ParentID, job.UnitsProcessed, job.Cursor)
		}
		return nil
	},
}

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct <atom-id>",
	Short: "Reconstruct an ingested object bit-for-bit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		atomID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid atom id %q: %w", args[0], err)
		}

		engine, err := openEngine()
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		defer engine.Close()

		w := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		return engine.Reconstruct(context.Background(), atomID, w)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search for similar atoms",
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		modelID, _ := cmd.Flags().GetInt64("model")
		topK, _ := cmd.Flags().GetInt("top-k")

		if vectorStr == "" {
			return fmt.Errorf("vector is required")
		}

		var vector []float32
		for _, part := range strings.Split(vectorStr, ",") {
			val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
			if err != nil {
				return fmt.Errorf("invalid vector format: %w", err)
			}
			vector = append(vector, float32(val))
		}

		engine, err := openEngine()
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		defer engine.Close()

		results, err := engine.Search(context.Background(), vector, modelID, topK)
		if err != nil {
			return err
		}

		for i, r := range results {
			fmt.Printf("%2d. atom=%d distance=%.6f\n", i+1, r.AtomID, r.Distance)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return fmt.Errorf("failed to open engine: %w", err)
		}
		defer engine.Close()

		db := engine.Store().DB()
		stats := map[string]int64{}
		for name, query := range map[string]string{
			"atoms":        "SELECT COUNT(*) FROM atoms",
			"compositions": "SELECT COUNT(*) FROM compositions",
			"embeddings":   "SELECT COUNT(*) FROM embeddings",
			"jobs":         "SELECT COUNT(*) FROM jobs",
			"collectible":  "SELECT COUNT(*) FROM atoms WHERE ref_count = 0",
		} {
			var n int64
			if err := db.QueryRowContext(context.Background(), query).Scan(&n); err != nil {
				return err
			}
			stats[name] = n
		}

		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func printJob(job *core.Job) {
	fmt.Printf("Job:    %s\nStatus: %s\nParent: %d\nUnits:  %d\nCursor: %d\n",
		job.ID, job.Status, job.ParentID, job.UnitsProcessed, job.Cursor)
	if job.Error != "" {
		fmt.Printf("Error:  %s\n", job.Error)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "atoms.db", "Database file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	ingestCmd.Flags().String("modality", "blob", "Source modality (blob, tensor, text, image, audio, number)")
	ingestCmd.Flags().String("subtype", "", "Modality subtype, e.g. f32x128 or u4096")
	ingestCmd.Flags().Uint64("chunk-size", 100000, "Units per chunk")
	ingestCmd.Flags().Uint64("quota", 0, "Unit quota (0 = unlimited)")
	ingestCmd.Flags().Int64("model", 0, "Embedding model id (0 = no embeddings)")
	ingestCmd.Flags().Bool("step", false, "Only submit; advance later with 'job step'")
	ingestCmd.Flags().Float64("rate", 0, "Max chunks per second (0 = unthrottled)")

	jobListCmd.Flags().String("status", "", "Filter by status")

	reconstructCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	searchCmd.Flags().String("vector", "", "Query vector as comma-separated floats")
	searchCmd.Flags().Int64("model", 0, "Embedding model id")
	searchCmd.Flags().Int("top-k", 10, "Number of results")

	jobCmd.AddCommand(jobStatusCmd, jobStepCmd, jobListCmd)
	rootCmd.AddCommand(initCmd, ingestCmd, jobCmd, reconstructCmd, searchCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

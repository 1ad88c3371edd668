package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/seq2seq-encoder/s2s"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/config"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/dataset"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/encoder"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/normalize"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/store"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/tokenizer"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "s2s-encode",
		Short:        "Encode source/target corpora into masked-span training samples",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("dsn", "", "Sample store DSN (overrides store.dsn)")
	rootCmd.PersistentFlags().Bool("quiet", false, "Only log warnings and errors")

	rootCmd.AddCommand(NewEncodeCmd(), NewInspectCmd())
	return rootCmd
}

func NewEncodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode [split...]",
		Short: "Encode one or more splits (train, dev, test)",
		Args:  cobra.ArbitraryArgs,
		RunE:  encodeHandler,
	}
	cmd.Flags().String("task", "", "Corpus name, selects the text normalizer (cnn_dm, gigaword, ...)")
	cmd.Flags().String("data-dir", "", "Directory holding <split>.source and <split>.target")
	cmd.Flags().Int("max-source-length", 0, "Source slot length including the prompt")
	cmd.Flags().Int("max-target-length", 0, "Target slot length including the end-of-piece token")
	cmd.Flags().String("mask-kind", "", "Mask token: short or generation")
	cmd.Flags().Int("workers", 0, "Number of encoding goroutines")
	cmd.Flags().String("snapshot-dir", "", "Write a <split>.s2s snapshot per split into this directory")
	cmd.Flags().Bool("save", false, "Persist every split as a run in the sample store")
	return cmd
}

func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect persisted runs and samples",
	}

	runsCmd := &cobra.Command{
		Use:     "runs",
		Aliases: []string{"ls"},
		Short:   "List persisted runs",
		Args:    cobra.NoArgs,
		RunE:    listRunsHandler,
	}

	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Print one sample position by position",
		Args:  cobra.NoArgs,
		RunE:  sampleHandler,
	}
	sampleCmd.Flags().String("run", "", "Run id in the sample store")
	sampleCmd.Flags().String("snapshot", "", "Snapshot file")
	sampleCmd.Flags().Int("index", 0, "Sample index")
	sampleCmd.MarkFlagsMutuallyExclusive("run", "snapshot")

	deleteCmd := &cobra.Command{
		Use:     "delete RUN_ID",
		Aliases: []string{"rm"},
		Short:   "Delete a persisted run",
		Args:    cobra.ExactArgs(1),
		RunE:    deleteRunHandler,
	}

	cmd.AddCommand(runsCmd, sampleCmd, deleteCmd)
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if dsn, _ := cmd.Flags().GetString("dsn"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) zerolog.Logger {
	logger := internal.GetLogger()
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		logger = logger.Level(zerolog.WarnLevel)
	}
	return logger
}

// applyEncodeFlags lets explicitly set flags win over file and env values.
func applyEncodeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("task") {
		cfg.Data.Task, _ = flags.GetString("task")
	}
	if flags.Changed("data-dir") {
		cfg.Data.Dir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("max-source-length") {
		cfg.Encoding.MaxSourceLength, _ = flags.GetInt("max-source-length")
	}
	if flags.Changed("max-target-length") {
		cfg.Encoding.MaxTargetLength, _ = flags.GetInt("max-target-length")
	}
	if flags.Changed("mask-kind") {
		cfg.Encoding.MaskKind, _ = flags.GetString("mask-kind")
	}
	if flags.Changed("workers") {
		cfg.Encoding.Workers, _ = flags.GetInt("workers")
	}
}

func encodeHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyEncodeFlags(cmd, cfg)
	logger := newLogger(cmd)

	splits := args
	if len(splits) == 0 {
		splits = []string{"train"}
	}

	tok, err := tokenizer.Load(cfg.Tokenizer.Kind, cfg.Tokenizer.VocabPath, cfg.Tokenizer.Lowercase, cfg.Tokenizer.SpecialTokens())
	if err != nil {
		return fmt.Errorf("failed to load tokenizer: %w", err)
	}

	snapshotDir, _ := cmd.Flags().GetString("snapshot-dir")
	save, _ := cmd.Flags().GetBool("save")

	var db *store.SQLStore
	if save {
		db, err = store.OpenSQLStore(cfg.Store.DSN, logger)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	var rows [][]string
	for _, split := range splits {
		encCfg, err := cfg.EncoderConfig(split)
		if err != nil {
			return err
		}
		enc, err := encoder.NewEncoder(tok, encCfg,
			encoder.WithStrategy(normalize.ForTask(cfg.Data.Task)),
			encoder.WithPromptText(cfg.Encoding.PromptText))
		if err != nil {
			return err
		}

		start := time.Now()
		d, err := dataset.Build(cmd.Context(), enc, cfg.Data.Dir, split,
			dataset.WithLogger(logger),
			dataset.WithWorkers(cfg.Encoding.Workers))
		if err != nil {
			return fmt.Errorf("failed to encode split %s: %w", split, err)
		}
		logger.Debug().Str("split", split).Dur("elapsed", time.Since(start)).Msg("Encoded split")

		if snapshotDir != "" {
			path := filepath.Join(snapshotDir, split+".s2s")
			if err := store.PersistSnapshot(path, d.Samples()); err != nil {
				return fmt.Errorf("failed to write snapshot %s: %w", path, err)
			}
			logger.Info().Str("split", split).Str("path", path).Msg("Snapshot written")
		}

		runID := "-"
		if db != nil {
			m := store.NewManifest(d, encCfg, cfg.Data.Task)
			if err := db.SaveDataset(cmd.Context(), m, d); err != nil {
				return err
			}
			runID = m.ID.String()
		}

		rows = append(rows, statsRow(d, encCfg, runID))
	}

	renderTable(cmd.OutOrStdout(),
		[]string{"SPLIT", "MODE", "EXAMPLES", "SEQ LEN", "SRC TRUNC", "TGT TRUNC", "EMPTY SRC", "SRC LEN", "TGT LEN", "RUN"},
		rows)
	return nil
}

func statsRow(d *dataset.Dataset, cfg encoder.Config, runID string) []string {
	st := d.Stats()
	tgt := "-"
	if cfg.Mode == encoder.Train {
		tgt = formatLengths(st.TargetLengths)
	}
	return []string{
		d.Split(),
		cfg.Mode.String(),
		strconv.Itoa(st.Examples),
		strconv.Itoa(cfg.SequenceLength()),
		strconv.Itoa(st.NumSourceTruncated()),
		strconv.Itoa(st.NumTargetTruncated()),
		strconv.Itoa(st.NumEmptySource()),
		formatLengths(st.SourceLengths),
		tgt,
		runID,
	}
}

func formatLengths(s dataset.LengthSummary) string {
	return fmt.Sprintf("%.1f±%.1f (max %d)", s.Mean, s.StdDev, s.Max)
}

func listRunsHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := store.OpenSQLStore(cfg.Store.DSN, newLogger(cmd))
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(cmd.Context())
	if err != nil {
		return err
	}

	var data [][]string
	for _, m := range runs {
		data = append(data, []string{
			m.ID.String(),
			m.Split,
			m.Task,
			m.Mode.String(),
			m.MaskKind.String(),
			fmt.Sprintf("%d/%d", m.MaxSourceLength, m.MaxTargetLength),
			strconv.Itoa(m.NumSamples),
			strconv.Itoa(m.SourceTruncated),
			strconv.Itoa(m.TargetTruncated),
			m.CreatedAt.Local().Format(time.DateTime),
		})
	}
	renderTable(cmd.OutOrStdout(),
		[]string{"ID", "SPLIT", "TASK", "MODE", "MASK", "LENGTHS", "SAMPLES", "SRC TRUNC", "TGT TRUNC", "CREATED"},
		data)
	return nil
}

func sampleHandler(cmd *cobra.Command, args []string) error {
	index, _ := cmd.Flags().GetInt("index")
	runFlag, _ := cmd.Flags().GetString("run")
	snapshot, _ := cmd.Flags().GetString("snapshot")

	var (
		sample encoder.Sample
		ex     dataset.Example
		hasEx  bool
	)
	switch {
	case snapshot == "" && runFlag == "":
		return errors.New("one of --run or --snapshot is required")
	case snapshot != "":
		samples, err := store.LoadSnapshot(snapshot)
		if err != nil {
			return err
		}
		d := dataset.New("", samples, nil)
		if sample, err = d.Get(index); err != nil {
			return err
		}
	default:
		id, err := uuid.Parse(runFlag)
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", runFlag, err)
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := store.OpenSQLStore(cfg.Store.DSN, newLogger(cmd))
		if err != nil {
			return err
		}
		defer db.Close()
		d, _, err := db.LoadDataset(cmd.Context(), id)
		if err != nil {
			return err
		}
		if sample, err = d.Get(index); err != nil {
			return err
		}
		ex, hasEx = d.Example(sample.ID)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "id: %s\nattention boundary: %d\n", sample.ID, sample.AttentionBoundary)
	if hasEx {
		fmt.Fprintf(w, "source: %s\ntarget: %s\nreference: %s\n", ex.Source, ex.Target, ex.Reference)
	}
	renderTable(w, sampleHeader(sample), sampleRows(sample))
	return nil
}

func sampleHeader(s encoder.Sample) []string {
	if s.HasTarget() {
		return []string{"POS", "TOKEN", "TARGET", "LOSS", "ABS", "BLOCK"}
	}
	return []string{"POS", "TOKEN", "ABS", "BLOCK"}
}

func sampleRows(s encoder.Sample) [][]string {
	rows := make([][]string, len(s.Tokens))
	for i := range s.Tokens {
		row := []string{strconv.Itoa(i), strconv.FormatInt(s.Tokens[i], 10)}
		if s.HasTarget() {
			row = append(row, strconv.FormatInt(s.Target[i], 10), strconv.FormatInt(s.LossMask[i], 10))
		}
		row = append(row,
			strconv.FormatInt(s.PositionIDs.Absolute[i], 10),
			strconv.FormatInt(s.PositionIDs.BlockRelative[i], 10))
		rows[i] = row
	}
	return rows
}

func deleteRunHandler(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := store.OpenSQLStore(cfg.Store.DSN, newLogger(cmd))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DeleteRun(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted run %s\n", id)
	return nil
}

func renderTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(data)
	table.Render()
}

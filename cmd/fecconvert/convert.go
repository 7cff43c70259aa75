package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"facture-fec/internal/app"
	"facture-fec/internal/config"
	"facture-fec/internal/fec"
	"facture-fec/internal/services"
)

type convertFlags struct {
	mode   string
	out    string
	format string
}

func newConvertCmd() *cobra.Command {
	var flags convertFlags
	cmd := &cobra.Command{
		Use:   "convert <invoice.pdf>",
		Short: "Run one invoice through OCR and the model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.mode, "mode", "", "conversion mode: text, json or document (default from FEC_MODE)")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&flags.format, "format", "raw", "output format: raw, fec, csv or xlsx")
	return cmd
}

func runConvert(cmd *cobra.Command, path string, flags convertFlags) error {
	switch flags.format {
	case "raw", "fec", "csv", "xlsx":
	default:
		return fmt.Errorf("unknown format %q", flags.format)
	}
	if flags.mode != "" && !config.ValidMode(flags.mode) {
		return fmt.Errorf("unknown mode %q", flags.mode)
	}
	if flags.format == "xlsx" && flags.out == "" {
		return fmt.Errorf("xlsx output needs --out")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// keep stderr readable; progress lines carry the useful information
	logger := app.NewLogger("warn")
	if cfg.LogLevel == "debug" {
		logger = app.NewLogger(cfg.LogLevel)
	}
	defer logger.Sync()

	deps, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	stderr := cmd.ErrOrStderr()
	res, err := deps.Converter.ConvertWithProgress(cmd.Context(), services.ConvertRequest{
		FileName: filepath.Base(path),
		Data:     data,
		Mode:     flags.mode,
	}, func(step, message string, current, total int) {
		fmt.Fprintf(stderr, "[%3d%%] %s\n", current*100/total, message)
	})
	if err != nil {
		logger.Debug("conversion failed", zap.Error(err))
		return &conversionError{name: filepath.Base(path), err: err}
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(stderr, "avertissement: %s\n", w)
	}
	for _, issue := range res.Issues {
		fmt.Fprintf(stderr, "contrôle: %s\n", issue)
	}

	var buf bytes.Buffer
	if err := render(&buf, res, flags.format); err != nil {
		return err
	}
	if flags.out == "" {
		_, err = io.Copy(cmd.OutOrStdout(), &buf)
		return err
	}
	if err := os.WriteFile(flags.out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", flags.out, err)
	}
	fmt.Fprintf(stderr, "écrit %s (conversion %d)\n", flags.out, res.ConversionID)
	return nil
}

// conversionError marks a failure of the pipeline itself, as opposed to bad
// flags or I/O, so main can print the user message for it.
type conversionError struct {
	name string
	err  error
}

func (e *conversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.name, e.err)
}

func (e *conversionError) Unwrap() error { return e.err }

// userMessage is the French line printed for a failed conversion.
func userMessage(err error) string {
	var convErr *conversionError
	if errors.As(err, &convErr) {
		return fmt.Sprintf("Erreur avec %s: %v", convErr.name, convErr.err)
	}
	return err.Error()
}

func render(w io.Writer, res *services.ConvertResult, format string) error {
	if format == "raw" {
		_, err := io.WriteString(w, strings.TrimRight(res.Text, "\n")+"\n")
		return err
	}
	if res.FEC == nil {
		return fmt.Errorf("the model reply is not a FEC table; use --format raw")
	}
	switch format {
	case "fec":
		return fec.WriteFEC(w, res.FEC)
	case "csv":
		return fec.WriteCSV(w, res.FEC, ';')
	default:
		return fec.WriteXLSX(w, res.FEC)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"manual-smart-go/internal/pipeline"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Upload and ingest a manual",
	Long:  `Uploads a local file to object storage and runs the ingestion pipeline on it synchronously.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var statusCmd = &cobra.Command{
	Use:   "status [filename]",
	Short: "Show the processing status of a manual",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered manuals",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

// ingest 命令参数。
var (
	ingestTitle       string
	ingestDescription string
	ingestCategory    string
	ingestYearRange   string
	ingestUploader    string
	ingestTimeout     time.Duration
	outputJSON        bool
	listStatus        string
	listLimit         int
)

func init() {
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "Override the title derived from the filename")
	ingestCmd.Flags().StringVar(&ingestDescription, "description", "", "Free text description")
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "Override the detected category")
	ingestCmd.Flags().StringVar(&ingestYearRange, "year-range", "", "Override the detected year range, e.g. 1976-1991")
	ingestCmd.Flags().StringVar(&ingestUploader, "uploader", "", "Uploader identifier")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 0, "Overall ingestion timeout (0 uses the configured value)")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by processing status")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of manuals to list")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	svc, err := setup(ctx)
	if err != nil {
		return err
	}

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("读取文件信息失败: %w", err)
	}

	req, err := svc.Upload(ctx, filepath.Base(path), f, fi.Size())
	if err != nil {
		return err
	}
	req.Title = ingestTitle
	req.Description = ingestDescription
	req.Category = ingestCategory
	req.YearRange = ingestYearRange
	req.UploaderID = ingestUploader
	req.Timeout = ingestTimeout

	res, err := svc.Ingest(ctx, req)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, err := setup(cmdContext(cmd))
	if err != nil {
		return err
	}
	st, err := svc.GetStatus(args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), st)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Manual:   %s (%s)\n", st.Filename, st.ID)
	fmt.Fprintf(out, "Status:   %s\n", st.Status)
	fmt.Fprintf(out, "Pages:    %d\n", st.PageCount)
	fmt.Fprintf(out, "Chunks:   %d (%d embedded)\n", st.ChunkCount, st.EmbeddedChunkCount)
	if st.ErrorMessage != nil {
		fmt.Fprintf(out, "Error:    %s\n", *st.ErrorMessage)
	}
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	svc, err := setup(cmdContext(cmd))
	if err != nil {
		return err
	}
	docs, err := svc.ListDocuments(listStatus, listLimit, 0)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), docs)
	}
	out := cmd.OutOrStdout()
	if len(docs) == 0 {
		fmt.Fprintln(out, "No manuals found.")
		return nil
	}
	for _, d := range docs {
		fmt.Fprintf(out, "%s  %-10s  %4d chunks  %s\n", d.ID, d.ProcessingStatus, d.ChunkCount, d.Filename)
	}
	return nil
}

func printResult(w io.Writer, res *pipeline.IngestResult) {
	if res.Duplicate {
		fmt.Fprintln(w, "Duplicate content, existing manual returned.")
	}
	fmt.Fprintf(w, "Manual:   %s\n", res.ManualID)
	fmt.Fprintf(w, "Title:    %s\n", res.Title)
	fmt.Fprintf(w, "Status:   %s\n", res.Status)
	fmt.Fprintf(w, "Pages:    %d\n", res.Pages)
	fmt.Fprintf(w, "Chunks:   %d (%d embedded)\n", res.Chunks, res.EmbeddedChunks)
	fmt.Fprintf(w, "Category: %s\n", res.Category)
	if len(res.ModelCodes) > 0 {
		fmt.Fprintf(w, "Models:   %s\n", strings.Join(res.ModelCodes, ", "))
	}
	if res.YearRange != nil {
		fmt.Fprintf(w, "Years:    %s\n", *res.YearRange)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

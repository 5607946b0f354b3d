package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"tcp-chat/repositories"
)

const previewLength = 60

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run prints the newest transcript records, or the hits of a full text search.
func run() error {
	dbPath := flag.String("db", "", "Path to the transcript badger DB")
	indexPath := flag.String("index", "", "Path to the bluge search index")
	query := flag.String("search", "", `Full text query, or "sender:<addr>" (requires -index)`)
	limit := flag.Int("limit", 20, "Records per page")
	pages := flag.Int("pages", 1, "Number of pages to print")
	flag.Parse()

	log := logs.GetLoggerFromLevel(slog.LevelWarn)

	switch {
	case *indexPath != "" && (*query != "" || *dbPath == ""):
		return printSearch(os.Stdout, *indexPath, *query, *limit, log)
	case *dbPath != "":
		return printTranscript(os.Stdout, *dbPath, *limit, *pages, log)
	default:
		flag.Usage()
		return fmt.Errorf("either -db or -index is required")
	}
}

func printTranscript(out io.Writer, path string, limit, pages int, log *slog.Logger) error {
	db, err := badger.Open(badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		return fmt.Errorf("error while opening badger: %w", err)
	}
	defer db.Close()

	repository := repositories.NewTranscriptRepository(db, log, &limit)
	table := newTable(out, []string{"At", "Sender", "Delivered", "Failed", "Mime", "Lang", "Content"})

	var cursor *string
	for page := 0; page < pages; page++ {
		records, next, err := repository.GetMessages(cursor)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			break
		}
		table.AppendBulk(lo.Map(records, func(r repositories.TranscriptRecord, _ int) []string {
			return []string{
				r.At.Local().Format(time.DateTime),
				r.Sender,
				fmt.Sprint(r.Delivered),
				fmt.Sprint(r.Failed),
				r.Mime,
				r.Language,
				preview(r.Content),
			}
		}))
		cursor = next
	}
	table.Render()
	return nil
}

func printSearch(out io.Writer, path, query string, limit int, log *slog.Logger) error {
	reader, err := bluge.OpenReader(bluge.DefaultConfig(path))
	if err != nil {
		return fmt.Errorf("error while opening index: %w", err)
	}
	defer reader.Close()

	hits, err := repositories.SearchReader(context.Background(), reader, query, limit, log)
	if err != nil {
		return err
	}

	table := newTable(out, []string{"Score", "At", "Sender", "Lang", "Content"})
	for _, h := range hits {
		table.Append([]string{
			fmt.Sprintf("%.3f", h.Score),
			h.At.Local().Format(time.DateTime),
			h.Sender,
			h.Language,
			preview([]byte(h.Content)),
		})
	}
	table.Render()
	return nil
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

// preview keeps the table on one line per record. Binary chunks are shown as their size.
func preview(content []byte) string {
	s := strings.ToValidUTF8(string(content), "")
	if len(s) < len(content)/2 {
		return fmt.Sprintf("<%d bytes>", len(content))
	}
	s = strings.ReplaceAll(s, "\n", `\n`)
	if r := []rune(s); len(r) > previewLength {
		return string(r[:previewLength]) + "…"
	}
	return s
}

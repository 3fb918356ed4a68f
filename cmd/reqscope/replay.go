package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"reqscope/internal/analytics"
	"reqscope/internal/event"
	"reqscope/internal/timeline"
)

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "bucket a saved JSON array of request logs and print the timeline",
		ArgsUsage: "<file.json|->",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "range", Value: timeline.DefaultRangeID, Usage: "time range id"},
			&cli.StringFlag{Name: "now", Usage: "window end as RFC3339 (default: newest event)"},
			&cli.BoolFlag{Name: "summary", Usage: "also print analytics summaries"},
		},
		Action: runReplay,
	}
}

func runReplay(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("replay: missing input file")
	}

	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	events, dropped, err := readEvents(in)
	if err != nil {
		return err
	}

	r, known := timeline.Lookup(cmd.String("range"))
	if !known {
		fmt.Fprintf(stderr(cmd), "unknown range %q, using %s\n", cmd.String("range"), r.ID)
	}

	now, err := replayNow(cmd.String("now"), events)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	out := stdout(cmd)
	buckets := timeline.Aggregate(events, r, now)
	writeBuckets(out, r, buckets)
	fmt.Fprintf(out, "%s events read, %s in range %s, %s dropped\n",
		humanize.Comma(int64(len(events))), humanize.Comma(int64(timeline.Total(buckets))), r.ID, humanize.Comma(int64(dropped)))

	if cmd.Bool("summary") {
		writeSummary(out, analytics.Summarize(analytics.InRange(events, r, now)))
	}
	return nil
}

// readEvents decodes a JSON array of request logs. Entries that fail to
// decode are counted, not fatal.
func readEvents(r io.Reader) ([]event.Event, int, error) {
	var raws []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		return nil, 0, fmt.Errorf("decode input: %w", err)
	}
	events := make([]event.Event, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		e, err := event.Decode(raw)
		if err != nil {
			dropped++
			continue
		}
		events = append(events, e)
	}
	return events, dropped, nil
}

func replayNow(flag string, events []event.Event) (time.Time, error) {
	if flag != "" {
		t, err := time.Parse(time.RFC3339Nano, flag)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --now: %w", err)
		}
		return t, nil
	}
	var newest time.Time
	for _, e := range events {
		if e.Timestamp.After(newest) {
			newest = e.Timestamp
		}
	}
	if newest.IsZero() {
		return time.Now(), nil
	}
	return newest, nil
}

func writeBuckets(w io.Writer, r timeline.Range, buckets []timeline.Bucket) {
	max := timeline.MaxCount(buckets)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Start", "End", "Count", ""})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, b := range buckets {
		table.Append([]string{
			b.Start.Format(r.LabelFormat),
			b.End.Format(r.LabelFormat),
			strconv.Itoa(b.Count),
			bar(b.Count, max, 30),
		})
	}
	table.Render()
}

func writeSummary(w io.Writer, s analytics.Summary) {
	fmt.Fprintf(w, "\naverage response: %dms, unique visitors: %d\n", s.AvgResponseMs, s.UniqueVisitors)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Endpoint", "Requests", "Share"})
	for _, e := range s.TopEndpoints {
		table.Append([]string{e.Path, strconv.Itoa(e.Count), strconv.FormatFloat(e.Percentage, 'f', 1, 64) + "%"})
	}
	table.Render()

	table = tablewriter.NewWriter(w)
	table.SetHeader([]string{"Status", "Endpoint", "Errors"})
	for _, e := range s.TopErrors {
		table.Append([]string{strconv.Itoa(e.Status), e.Path, strconv.Itoa(e.Count)})
	}
	table.Render()
}

func bar(n, max, width int) string {
	if max == 0 || n == 0 {
		return ""
	}
	size := n * width / max
	if size == 0 {
		size = 1
	}
	return strings.Repeat("#", size)
}

func rangesCommand() *cli.Command {
	return &cli.Command{
		Name:  "ranges",
		Usage: "list the selectable time ranges",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			table := tablewriter.NewWriter(stdout(cmd))
			table.SetHeader([]string{"ID", "Duration", "Bucket", "Buckets", "Ticks", "Label"})
			for _, r := range timeline.Ranges() {
				table.Append([]string{
					r.ID,
					r.Duration.String(),
					r.BucketWidth.String(),
					strconv.Itoa(r.BucketCount()),
					strconv.Itoa(r.TickCount),
					r.LabelFormat,
				})
			}
			table.Render()
			return nil
		},
	}
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stderr(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

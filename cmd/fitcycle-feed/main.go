package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/claude/fitcycle/internal/datekey"
	"github.com/claude/fitcycle/internal/upload"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	serverURL := flag.String("server", "", "fitcycle server URL (e.g. https://fitcycle.tail1234.ts.net)")
	apiKey := flag.String("api-key", os.Getenv("FITCYCLE_API_KEY"), "sensor API key (default $FITCYCLE_API_KEY)")
	dir := flag.String("dir", "", "directory of Health Auto Export JSON files to send")
	haeHost := flag.String("hae-host", "", "Health Auto Export TCP server host")
	haePort := flag.Int("hae-port", 9000, "Health Auto Export TCP server port")
	days := flag.Int("days", 7, "days to sync over TCP when no previous sync is recorded")
	chunkDays := flag.Int("chunk-days", 7, "days per TCP query")
	readings := flag.String("readings", "", "comma-separated cumulative pedometer counts to push")
	total := flag.String("total", "", "platform step total as YYYY-MM-DD=steps")
	available := flag.String("available", "", "report pedometer availability (true or false)")
	dryRun := flag.Bool("dry-run", false, "parse but don't send to server")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("fitcycle-feed", Version)
		return
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *dir == "" && *haeHost == "" && *readings == "" && *total == "" && *available == "" {
		fmt.Fprintf(os.Stderr, "Usage: fitcycle-feed -server <URL> [-dir <exports> | -hae-host <host> | -readings N,N | -total DATE=N | -available BOOL]\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *serverURL == "" && !*dryRun {
		fmt.Fprintf(os.Stderr, "Error: -server is required (or use -dry-run)\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var client *upload.Client
	if !*dryRun {
		client = upload.NewClient(*serverURL, *apiKey)
	}

	if err := sendDirect(ctx, client, *readings, *total, *available, *dryRun, log); err != nil {
		log.Error("send failed", "error", err)
		os.Exit(1)
	}
	if *dir == "" && *haeHost == "" {
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Error("failed to get home directory", "error", err)
		os.Exit(1)
	}
	state, err := upload.OpenStateDB(filepath.Join(homeDir, ".fitcycle-feed"))
	if err != nil {
		log.Error("failed to open state database", "error", err)
		os.Exit(1)
	}
	defer state.Close()

	if *dryRun {
		log.Info("DRY RUN mode: files will be parsed but not sent")
	}
	uploader := upload.New(client, state, *dryRun, log)

	var stats *upload.Stats
	if *dir != "" {
		stats, err = uploader.RunDir(ctx, *dir)
	} else {
		start, end := tcpRange(state, *days, log)
		log.Info("querying step counts", "host", *haeHost, "from", datekey.Key(start), "to", datekey.Key(end))
		stats, err = uploader.RunTCP(ctx, upload.NewHAEClient(*haeHost, *haePort), start, end, *chunkDays)
	}
	printStats(stats)
	if err != nil {
		log.Error("upload failed", "error", err)
		os.Exit(1)
	}
	log.Info("upload complete")
}

// sendDirect handles the single-shot sensor flags.
func sendDirect(ctx context.Context, client *upload.Client, readings, total, available string, dryRun bool, log *slog.Logger) error {
	if available != "" {
		ok, err := strconv.ParseBool(available)
		if err != nil {
			return fmt.Errorf("parsing -available: %w", err)
		}
		if dryRun {
			log.Info("dry-run: would report availability", "available", ok)
		} else if err := client.SetAvailability(ctx, ok); err != nil {
			return err
		}
	}

	if readings != "" {
		var counts []int64
		for _, f := range strings.Split(readings, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
			if err != nil {
				return fmt.Errorf("parsing -readings: %w", err)
			}
			counts = append(counts, n)
		}
		if dryRun {
			log.Info("dry-run: would push readings", "counts", len(counts))
		} else {
			res, err := client.SendReadings(ctx, counts)
			if err != nil {
				return err
			}
			log.Info("readings pushed", "accepted", res.Accepted, "subscribers", res.Subscribers)
		}
	}

	if total != "" {
		date, stepsStr, ok := strings.Cut(total, "=")
		if !ok {
			return fmt.Errorf("-total must look like YYYY-MM-DD=steps")
		}
		steps, err := strconv.ParseInt(stepsStr, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing -total: %w", err)
		}
		if dryRun {
			log.Info("dry-run: would report total", "date", date, "steps", steps)
		} else if err := client.SendTotal(ctx, date, steps); err != nil {
			return err
		}
	}
	return nil
}

// tcpRange resumes from the last recorded sync date, or goes back days.
// The end is tomorrow's midnight so today's running total is included.
func tcpRange(state *upload.StateDB, days int, log *slog.Logger) (time.Time, time.Time) {
	today := datekey.StartOfDay(time.Now())
	end := datekey.AddDays(today, 1)
	start := datekey.AddDays(today, -days)

	last, err := state.GetSyncState(upload.SyncKeyTCP)
	if err != nil {
		log.Warn("failed to read sync state", "error", err)
		return start, end
	}
	if last == "" {
		return start, end
	}
	d, err := datekey.Parse(last, today.Location())
	if err != nil {
		return start, end
	}
	// Resync the last day; its total may have grown since.
	if resume := datekey.AddDays(d, -1); resume.After(start) {
		start = resume
	}
	return start, end
}

func printStats(stats *upload.Stats) {
	if stats == nil {
		return
	}
	fmt.Println()
	fmt.Println("=== Feed Summary ===")
	fmt.Printf("  Files total:      %d\n", stats.FilesTotal)
	fmt.Printf("  Files sent:       %d\n", stats.FilesUploaded)
	fmt.Printf("  Files skipped:    %d (already sent)\n", stats.FilesSkipped)
	fmt.Printf("  Files errored:    %d\n", stats.FilesErrored)
	fmt.Printf("  TCP chunks:       %d\n", stats.TCPChunks)
	fmt.Println()
	fmt.Printf("  Dates recorded:   %d\n", stats.DatesSent)
	fmt.Printf("  Points skipped:   %d\n", stats.PointsSkipped)
	fmt.Println()
}

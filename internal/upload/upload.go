// Package upload feeds step data from a device or Health Auto Export into
// the fitcycle server's sensor endpoints.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/claude/fitcycle/internal/datekey"
	"github.com/claude/fitcycle/internal/models"
)

// SyncKeyTCP is the sync_state key holding the last date synced over TCP.
const SyncKeyTCP = "tcp_last_steps_sync"

// Stats tracks upload progress.
type Stats struct {
	FilesTotal    int
	FilesUploaded int
	FilesSkipped  int
	FilesErrored  int

	DatesSent     int
	PointsSkipped int

	TCPChunks int
}

// Uploader sends Health Auto Export step data to the server, either from a
// directory of JSON exports or straight from the HAE TCP server.
type Uploader struct {
	client *Client
	state  *StateDB
	dryRun bool
	log    *slog.Logger
	stats  Stats
}

// New creates a new Uploader. client may be nil in dry-run mode.
func New(client *Client, state *StateDB, dryRun bool, log *slog.Logger) *Uploader {
	return &Uploader{
		client: client,
		state:  state,
		dryRun: dryRun,
		log:    log,
	}
}

// RunDir walks dir for *.json exports and sends the step counts of every
// file not sent before. A file that fails is logged and retried next run.
func (u *Uploader) RunDir(ctx context.Context, dir string) (*Stats, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return &u.stats, fmt.Errorf("walking %s: %w", dir, err)
	}
	u.stats.FilesTotal = len(files)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return &u.stats, err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		if err := u.processFile(ctx, path, rel); err != nil {
			u.stats.FilesErrored++
			u.log.Warn("file failed", "file", rel, "error", err)
		}
	}
	return &u.stats, nil
}

func (u *Uploader) processFile(ctx context.Context, path, rel string) error {
	hash, err := HashFile(path)
	if err != nil {
		return fmt.Errorf("hashing: %w", err)
	}
	sent, err := u.state.IsSent(rel, hash)
	if err != nil {
		return fmt.Errorf("checking state: %w", err)
	}
	if sent {
		u.stats.FilesSkipped++
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var payload models.HAEPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parsing export: %w", err)
	}

	stepsOnly := StepsOnly(&payload)
	dates, err := u.send(ctx, stepsOnly)
	if err != nil {
		return err
	}
	if u.dryRun {
		return nil
	}
	if err := u.state.MarkSent(rel, hash, dates); err != nil {
		return fmt.Errorf("recording state: %w", err)
	}
	u.stats.FilesUploaded++
	u.log.Info("file sent", "file", rel, "dates", dates)
	return nil
}

// RunTCP queries the HAE TCP server for daily step counts in chunks of
// chunkDays and forwards each chunk.
func (u *Uploader) RunTCP(ctx context.Context, hae *HAEClient, start, end time.Time, chunkDays int) (*Stats, error) {
	if chunkDays <= 0 {
		chunkDays = 7
	}
	for chunkStart := start; chunkStart.Before(end); chunkStart = datekey.AddDays(chunkStart, chunkDays) {
		if err := ctx.Err(); err != nil {
			return &u.stats, err
		}
		chunkEnd := datekey.AddDays(chunkStart, chunkDays)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		payload, err := hae.QueryStepCountWithRetry(chunkStart, chunkEnd, u.log)
		if err != nil {
			u.log.Warn("failed to query steps, skipping",
				"from", datekey.Key(chunkStart),
				"to", datekey.Key(chunkEnd),
				"error", err,
			)
			continue
		}
		if _, err := u.send(ctx, StepsOnly(payload)); err != nil {
			return &u.stats, fmt.Errorf("forwarding %s: %w", datekey.Key(chunkStart), err)
		}
		u.stats.TCPChunks++
	}

	if !u.dryRun {
		if err := u.state.SetSyncState(SyncKeyTCP, datekey.Key(end)); err != nil {
			u.log.Warn("failed to save sync state", "error", err)
		}
	}
	return &u.stats, nil
}

// send forwards a payload and returns how many dates the server recorded.
// Payloads without step points are not sent.
func (u *Uploader) send(ctx context.Context, payload *models.HAEPayload) (int, error) {
	points := 0
	for _, m := range payload.Data.Metrics {
		points += len(m.Data)
	}
	if points == 0 {
		return 0, nil
	}
	if u.dryRun {
		u.log.Info("dry-run: would send step points", "points", points)
		return 0, nil
	}

	res, err := u.client.SendPayload(ctx, payload)
	if err != nil {
		return 0, err
	}
	u.stats.DatesSent += res.Dates
	u.stats.PointsSkipped += res.Skipped
	return res.Dates, nil
}

// StepsOnly returns a copy of payload holding just its step_count metrics.
func StepsOnly(payload *models.HAEPayload) *models.HAEPayload {
	out := &models.HAEPayload{}
	for _, m := range payload.Data.Metrics {
		if m.Name == models.StepCountMetric {
			out.Data.Metrics = append(out.Data.Metrics, m)
		}
	}
	return out
}

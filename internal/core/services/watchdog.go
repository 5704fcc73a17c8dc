// Package services contains core business logic services
package services

import (
	"context"
	"log/slog"
	"time"

	"rulekeeper/internal/core/ports"
)

const (
	watchdogInterval = 10 * time.Minute
	purgeBatchSize   = 1000
)

// RunWatchdog starts the audit-trail retention service. Every interval
// it removes request records older than the retention window in
// bounded batches so a large backlog cannot stall the database.
func RunWatchdog(audit ports.AuditRepository, retentionDays int) {
	ticker := time.NewTicker(watchdogInterval)

	go func() {
		for range ticker.C {
			runPurge(audit, retentionDays)
		}
	}()
}

// runPurge executes a single retention pass
func runPurge(audit ports.AuditRepository, retentionDays int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	total, err := audit.Count(ctx)
	if err != nil {
		slog.Error("Watchdog: failed to count audit rows", "error", err)
		return
	}

	purged, err := audit.PurgeOlderThan(ctx, cutoff, purgeBatchSize)
	if err != nil {
		slog.Error("Watchdog: audit purge failed", "error", err)
		return
	}

	if purged > 0 {
		slog.Info("Watchdog: purged old audit records",
			"purged", purged,
			"remaining", total-purged,
			"cutoff", cutoff,
		)
	}
}

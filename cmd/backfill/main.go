// Command backfill recomputes risk assessments for completed scans, for use
// after the rule table or scoring policy changes.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	pg "legalscan/internal/adapters/postgres"
	"legalscan/internal/config"
	"legalscan/internal/domain"
	"legalscan/internal/risk"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report what would change without writing")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("config error", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect error", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	engine := risk.NewEngine(risk.DefaultPolicy())
	rules, err := db.RiskRules(ctx)
	if err != nil {
		log.Error("load risk rules", "err", err)
		os.Exit(1)
	}

	scans, err := db.ListScans(ctx, domain.StatusCompleted)
	if err != nil {
		log.Error("list scans", "err", err)
		os.Exit(1)
	}

	var updated, failed int
	for i := range scans {
		scan := &scans[i]
		findings, err := db.FindingsByScan(ctx, scan.ID)
		if err != nil {
			log.Error("load findings", "scan_id", scan.ID, "err", err)
			failed++
			continue
		}
		assessment, err := engine.Score(findings, rules)
		if err != nil {
			log.Error("score", "scan_id", scan.ID, "err", err)
			failed++
			continue
		}
		oldScore := -1
		if scan.Risk != nil {
			oldScore = scan.Risk.Score
		}
		if oldScore == assessment.Score {
			continue
		}
		log.Info("risk changed", "scan_id", scan.ID, "old_score", oldScore,
			"new_score", assessment.Score, "level", assessment.Level)
		if *dryRun {
			continue
		}
		scan.Risk = &assessment
		if err := db.UpdateScan(ctx, scan); err != nil {
			log.Error("update scan", "scan_id", scan.ID, "err", err)
			failed++
			continue
		}
		updated++
	}
	log.Info("backfill done", "scans", len(scans), "updated", updated, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

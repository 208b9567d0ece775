package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"jordanella.com/natro-go/internal/config"
	"jordanella.com/natro-go/internal/database"
)

func main() {
	iniPath := flag.String("config", "Settings.ini", "Path to Settings.ini")
	dbPath := flag.String("db", "", "Journal database (default from config)")
	needle := flag.String("needle", "", "Limit output to one needle")
	limit := flag.Int("limit", 1000, "Maximum rows to export")
	csvOut := flag.String("csv", "", "Export searches to this CSV file")
	prune := flag.Int("prune", 0, "Delete journal rows older than this many days")
	backup := flag.String("backup", "", "Copy the journal to this path")
	flag.Parse()

	settings, err := config.LoadFromINI(*iniPath)
	if err != nil {
		settings = config.NewDefaultSettings()
	}
	if *dbPath == "" {
		*dbPath = settings.JournalPath
	}

	db, err := database.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to migrate journal: %v", err)
	}

	if *backup != "" {
		if err := db.Backup(*backup); err != nil {
			log.Fatalf("Backup failed: %v", err)
		}
		fmt.Printf("Journal copied to %s\n", *backup)
	}

	if *prune > 0 {
		n, err := db.Prune(*prune)
		if err != nil {
			log.Fatalf("Prune failed: %v", err)
		}
		fmt.Printf("Pruned %d rows older than %d days\n", n, *prune)
	}

	if *csvOut != "" {
		f, err := os.Create(*csvOut)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *csvOut, err)
		}
		n, err := db.ExportSearches(f, *needle, *limit)
		f.Close()
		if err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		fmt.Printf("Exported %d searches to %s\n", n, *csvOut)
		return
	}

	stats, err := db.GetStats()
	if err != nil {
		log.Fatalf("Failed to read stats: %v", err)
	}
	fmt.Printf("Journal %s: %s searches, %s calibrations\n",
		db.Path(), humanize.Comma(stats["search_log"]), humanize.Comma(stats["calibration_log"]))

	summaries, err := db.NeedleSummaries()
	if err != nil {
		log.Fatalf("Failed to summarize: %v", err)
	}
	fmt.Printf("%-24s %8s %8s %8s %10s %10s  %s\n", "NEEDLE", "ERRORS", "MISSES", "HITS", "MEAN(ms)", "P95(ms)", "LAST SEEN")
	for _, s := range summaries {
		if *needle != "" && s.Needle != *needle {
			continue
		}
		timing, err := db.SearchTiming(s.Needle)
		if err != nil {
			log.Fatalf("Failed to time %s: %v", s.Needle, err)
		}
		fmt.Printf("%-24s %8d %8d %8d %10.1f %10.1f  %s\n",
			s.Needle, s.ErrorCount, s.MissCount, s.HitCount, timing.MeanMs, timing.P95Ms, humanize.Time(s.LastSeen))
	}
}

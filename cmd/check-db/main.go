// Package main is a diagnostic tool that connects with the server's config
// and prints what the audit service holds: schema version, settings, the
// directory projection and audit log volume. It exits non-zero on any
// failure so it can gate a deployment step.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/config"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/repositories"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Fatalf("Migration check failed: %v", err)
	}
	fmt.Println("=== SCHEMA ===")
	fmt.Printf("version=%d dirty=%v\n", version, dirty)

	settings, err := repositories.NewSettingsRepository(database).Get(ctx)
	if err != nil {
		log.Fatalf("Settings query failed: %v", err)
	}
	fmt.Println("\n=== SETTINGS ===")
	fmt.Printf("schedule_enabled=%v frequency=%s retention_days=%d included_roles=%v\n",
		settings.ScheduleEnabled, settings.ScheduleFrequency, settings.RetentionDays, settings.IncludedRoles)
	fmt.Printf("recipients=%q\n", settings.EmailRecipients)

	users, err := repositories.NewDirectoryRepository(database).ListUsers(ctx)
	if err != nil {
		log.Fatalf("Directory query failed: %v", err)
	}
	fmt.Println("\n=== DIRECTORY ===")
	fmt.Printf("%d users\n", len(users))

	audit := repositories.NewAuditRepository(database)
	fmt.Println("\n=== AUDIT LOG ===")
	for _, ct := range models.AllChangeTypes {
		n, err := audit.Count(ctx, repositories.AuditFilter{ChangeType: &ct})
		if err != nil {
			log.Fatalf("Audit count failed: %v", err)
		}
		fmt.Printf("%-16s %d\n", ct, n)
	}
}

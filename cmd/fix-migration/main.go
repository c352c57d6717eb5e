// Package main clears a dirty migration state. golang-migrate marks a version
// dirty when a migration is interrupted, and the server refuses to start
// until the flag is cleared. Fix the schema by hand first if the failed
// migration left it half applied.
package main

import (
	"log"
	"os"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/config"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	version, cleared, err := db.ClearDirty(database.DB)
	if err != nil {
		log.Fatalf("Failed to fix migration state: %v", err) // #nosec G706 -- error text comes from the migration driver
	}
	if cleared {
		log.Printf("Cleared dirty flag at version %d", version)
	} else {
		log.Printf("Migration state is already clean (version %d)", version)
	}
}

// Package main generates the ingest API key for POST /api/v1/events. Only
// the bcrypt hash goes into the server config (auth.ingest_api_key_hash);
// the raw key is handed to the host application.
//
// With an argument it hashes that key instead of generating a new one.
package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/auth"
)

func main() {
	if len(os.Args) > 1 {
		hash, err := bcrypt.GenerateFromPassword([]byte(os.Args[1]), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(hash))
		return
	}

	key, hash, prefix, err := auth.GenerateAPIKey(auth.IngestKeyPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Key:    %s\n", key)
	fmt.Printf("Prefix: %s\n", prefix)
	fmt.Printf("Hash:   %s\n", hash)
	fmt.Println()
	fmt.Println("Set UAS_AUTH_INGEST_API_KEY_HASH to the hash. The key is not shown again.")
}

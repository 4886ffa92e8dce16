// Command clear-data empties the booking tables of a development database.
// The catalog (services, add-ons, availability) is left in place.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mariiahub/booking-reconciliation/internal/config"
	"github.com/mariiahub/booking-reconciliation/internal/database"
)

func main() {
	var (
		dbURL     string
		keepAudit bool
		confirmed bool
	)
	flag.StringVar(&dbURL, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.BoolVar(&keepAudit, "keep-audit", false, "leave payment_audits untouched")
	flag.BoolVar(&confirmed, "yes", false, "skip the confirmation prompt")
	flag.Parse()

	_ = godotenv.Load()

	if os.Getenv("ENVIRONMENT") == "production" {
		log.Fatal("refusing to clear data with ENVIRONMENT=production")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	// Children first so the listing reads in dependency order
	tables := []string{"package_grants", "bookings", "holds"}
	if !keepAudit {
		tables = append([]string{"payment_audits"}, tables...)
	}

	if !confirmed {
		fmt.Printf("This deletes every row in: %s\nType 'yes' to continue: ", strings.Join(tables, ", "))
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     2,
		MaxIdleConnections: 1,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", "))); err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	for _, table := range tables {
		var count int
		if err := db.Get(&count, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
			fmt.Printf("  %-15s error: %v\n", table, err)
			continue
		}
		fmt.Printf("  %-15s %d rows\n", table, count)
	}
	fmt.Println("Booking data cleared.")
}

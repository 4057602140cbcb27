package commands

import (
	"context"
	"database/sql"
	"fmt"

	contextutils "assessapp/internal/utils"
)

// maskDatabaseURL hides credentials in the database URL for display
func maskDatabaseURL(url string) string {
	return contextutils.RedactURL(url)
}

// getDatabaseInfo describes the database the connection points at
func getDatabaseInfo(ctx context.Context, db *sql.DB) string {
	if db == nil {
		return "Not connected"
	}

	var dbName string
	if err := db.QueryRowContext(ctx, "SELECT current_database()").Scan(&dbName); err != nil {
		// sqlite has no current_database()
		return "Connected"
	}

	var host string
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(inet_server_addr()::text, 'local socket')").Scan(&host); err != nil {
		return fmt.Sprintf("Connected to %s", dbName)
	}
	return fmt.Sprintf("Connected to %s on %s", dbName, host)
}

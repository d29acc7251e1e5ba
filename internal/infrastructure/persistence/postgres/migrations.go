package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

// RunMigrations applies every *.up.sql file in dir that is not yet recorded
// in the migrations table, each in its own transaction, in name order.
func RunMigrations(ctx context.Context, conn *Connection, dir string, log *logger.Logger) error {
	db := conn.GetDB()

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT name FROM migrations")
	if err != nil {
		return fmt.Errorf("query migrations table: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations directory %s: %w", dir, err)
	}

	var migrations []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".up.sql") {
			migrations = append(migrations, file.Name())
		}
	}
	sort.Strings(migrations)

	for _, migration := range migrations {
		if applied[migration] {
			log.Debug("Migration already applied", "name", migration)
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, migration))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", migration, err)
		}

		tx, err := conn.BeginTx(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", migration, err)
		}

		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", migration, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (name) VALUES ($1)", migration); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", migration, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", migration, err)
		}

		log.Info("Applied migration", "name", migration)
	}

	return nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"safechat/internal/config"
	"safechat/internal/logging"
)

// DSN builds the MariaDB data source name for cfg.
func DSN(cfg config.Config) string {
	c := mysql.NewConfig()
	c.User = cfg.DBUser
	c.Passwd = cfg.DBPassword
	c.Net = "tcp"
	c.Addr = cfg.DBHost + ":" + cfg.DBPort
	c.DBName = cfg.DBName
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN()
}

// Init initializes database connection
func Init(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 接続テスト
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info().
		Str("host", cfg.DBHost).
		Str("database", cfg.DBName).
		Msg("✅ Database connection established")
	return db, nil
}

// Migrate creates the tables used by the moderation core if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		username VARCHAR(64) NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'user',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		suspended_until DATETIME(6) NULL,
		total_messages INT NOT NULL DEFAULT 0,
		flagged_messages INT NOT NULL DEFAULT 0,
		warnings_received INT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_users_timeout (is_active, suspended_until)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		username VARCHAR(64) NOT NULL,
		text TEXT NOT NULL,
		room VARCHAR(160) NOT NULL,
		visibility VARCHAR(16) NOT NULL,
		recipient_id VARCHAR(64) NULL,
		recipient_username VARCHAR(64) NULL,
		analysis LONGTEXT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'active',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_messages_room (room, created_at),
		INDEX idx_messages_user (user_id, created_at),
		INDEX idx_messages_status (status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	// active_message_id は未却下のフラグでのみ値を持ち、UNIQUE で1メッセージ1フラグを保証する
	`CREATE TABLE IF NOT EXISTS flags (
		id VARCHAR(36) PRIMARY KEY,
		message_id VARCHAR(36) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		moderator_id VARCHAR(64) NULL,
		flag_type VARCHAR(16) NOT NULL,
		reason VARCHAR(32) NOT NULL,
		description VARCHAR(500) NULL,
		severity VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		action_taken VARCHAR(32) NOT NULL DEFAULT 'none',
		ai_confidence DOUBLE NOT NULL DEFAULT 0,
		reviewed_by VARCHAR(64) NULL,
		reviewer_notes VARCHAR(1000) NULL,
		reviewed_at DATETIME(6) NULL,
		metadata TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		active_message_id VARCHAR(36) AS (IF(status <> 'dismissed', message_id, NULL)) STORED,
		UNIQUE KEY uq_flags_active_message (active_message_id),
		INDEX idx_flags_user (user_id),
		INDEX idx_flags_status (status, severity, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

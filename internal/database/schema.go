package database

var mysqlSchema = []string{`
CREATE TABLE IF NOT EXISTS kv_entries (
    k VARCHAR(191) PRIMARY KEY,
    v TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS generation_logs (
    id VARCHAR(36) PRIMARY KEY,
    prompt TEXT NOT NULL,
    aspect_ratio VARCHAR(16) NOT NULL,
    images INT NOT NULL,
    credits_after INT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`}

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS kv_entries (
    k TEXT PRIMARY KEY,
    v TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS generation_logs (
    id TEXT PRIMARY KEY,
    prompt TEXT NOT NULL,
    aspect_ratio TEXT NOT NULL,
    images INTEGER NOT NULL,
    credits_after INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`}

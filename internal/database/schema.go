package database

// The schema avoids vendor-specific SQL so the same statements run on both
// sqlite and MySQL: string keys generated in Go, timestamps supplied by the
// repository, and a CHECK guarding the balance invariant at the store.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(64) PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    name VARCHAR(255) NOT NULL,
    avatar VARCHAR(512) NOT NULL DEFAULT '',
    balance INT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
}

//go:build postgres_integration

package store

import (
	"os"
	"testing"
)

func TestPostgresContract(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := p.ReplaceAll(t.Context(), nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runContract(t, p)
}

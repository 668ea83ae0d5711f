package migrations

import (
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func TestEmbeddedMigrationsAreSequential(t *testing.T) {
	src, err := iofs.New(FS, ".")
	if err != nil {
		t.Fatalf("open embedded migrations: %v", err)
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		t.Fatalf("first migration: %v", err)
	}
	seen := []uint{version}
	for {
		next, err := src.Next(version)
		if err != nil {
			break
		}
		seen = append(seen, next)
		version = next
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Fatalf("unexpected migration versions %v", seen)
	}
	for _, v := range seen {
		if _, _, err := src.ReadDown(v); err != nil {
			t.Fatalf("migration %d has no down file: %v", v, err)
		}
	}
}

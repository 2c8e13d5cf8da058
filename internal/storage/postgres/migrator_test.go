package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFiles(files map[string]string) fstest.MapFS {
	fsys := make(fstest.MapFS, len(files))
	for name, body := range files {
		fsys["sql/migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestLoadMigrationsFromFS_SortsByVersion(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationFiles(map[string]string{
		"0002_reservations.up.sql":   "CREATE TABLE r (id INT);",
		"0002_reservations.down.sql": "DROP TABLE r;",
		"0001_init.up.sql":           "CREATE TABLE i (id INT);",
		"0001_init.down.sql":         "DROP TABLE i;",
	}))
	if err != nil {
		t.Fatalf("loadMigrationsFromFS: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].String() != "0001_init" || migrations[1].String() != "0002_reservations" {
		t.Fatalf("unexpected order: %s, %s", migrations[0], migrations[1])
	}
	if migrations[1].body(migrationDown) != "DROP TABLE r;" {
		t.Fatalf("unexpected down body: %q", migrations[1].DownSQL)
	}
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		files   map[string]string
		wantErr string
	}{
		"missing down": {
			files:   map[string]string{"0001_init.up.sql": "SELECT 1;"},
			wantErr: "both up and down",
		},
		"bad file name": {
			files:   map[string]string{"init.sql": "SELECT 1;"},
			wantErr: "invalid migration file name",
		},
		"blank body": {
			files:   map[string]string{"0001_init.up.sql": " \n", "0001_init.down.sql": "SELECT 1;"},
			wantErr: "is empty",
		},
		"name mismatch": {
			files:   map[string]string{"0001_init.up.sql": "SELECT 1;", "0001_other.down.sql": "SELECT 1;"},
			wantErr: "name mismatch",
		},
		"no files": {
			files:   map[string]string{},
			wantErr: "no migration files",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := loadMigrationsFromFS(migrationFiles(tc.files))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadMigrationsFromFS_Embedded(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 embedded migrations, got %d", len(migrations))
	}
	if !strings.Contains(migrations[1].UpSQL, "stock_reservations") {
		t.Fatalf("second migration must create stock_reservations, got %s", migrations[1])
	}
	if migrations[2].Name != "outbox_leases" || !strings.Contains(migrations[2].UpSQL, "claimed_until") {
		t.Fatalf("third migration must add outbox leases, got %s", migrations[2])
	}
}

func TestPendingMigrations(t *testing.T) {
	t.Parallel()

	migrations := []migration{
		{Version: 1, Name: "init"},
		{Version: 2, Name: "stock_reservations"},
		{Version: 3, Name: "outbox_leases"},
	}

	pending := pendingMigrations(migrations, map[int64]bool{1: true})
	if strings.Join(pending, ",") != "0002_stock_reservations,0003_outbox_leases" {
		t.Fatalf("unexpected pending list: %v", pending)
	}
	if got := pendingMigrations(migrations, map[int64]bool{1: true, 2: true, 3: true}); len(got) != 0 {
		t.Fatalf("expected no pending migrations, got %v", got)
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	migrations := []migration{{Version: 1, Name: "a"}, {Version: 2, Name: "b"}, {Version: 3, Name: "c"}}
	names := func(plan []migration) string {
		out := make([]string, 0, len(plan))
		for _, m := range plan {
			out = append(out, m.Name)
		}
		return strings.Join(out, ",")
	}

	up, err := planMigrations(migrations, map[int64]bool{1: true}, migrationUp, 0)
	if err != nil || names(up) != "b,c" {
		t.Fatalf("up all: %q, %v", names(up), err)
	}
	up, _ = planMigrations(migrations, nil, migrationUp, 1)
	if names(up) != "a" {
		t.Fatalf("up one: %q", names(up))
	}

	down, err := planMigrations(migrations, map[int64]bool{1: true, 2: true, 3: true}, migrationDown, 2)
	if err != nil || names(down) != "c,b" {
		t.Fatalf("down two: %q, %v", names(down), err)
	}

	if _, err := planMigrations(migrations, map[int64]bool{7: true}, migrationDown, 1); err == nil {
		t.Fatal("expected error for unknown applied version")
	}
}

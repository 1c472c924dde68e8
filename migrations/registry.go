package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	smsintake "github.com/goliatone/go-smsintake"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// SourceLabel tags the intake schema when it is registered next to other
// modules' migrations.
const SourceLabel = "go-smsintake"

// CoreTables are created by the core schema migration, in dependency order.
var CoreTables = []string{"sms_inbound_messages", "sms_entities", "sms_attribute_values"}

const migrationsDir = "data/sql/migrations"

// dialectDirs maps each dialect to its directory below data/sql/migrations.
var dialectDirs = []struct {
	dialect string
	dir     string
}{
	{dialect: DialectPostgres, dir: "."},
	{dialect: DialectSQLite, dir: "sqlite"},
}

// Source is the migration tree for one dialect.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// DialectForDriver maps a database/sql driver name onto a migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: no schema for driver %q", driver)
	}
}

// Sources resolves every dialect tree below root, which defaults to the
// embedded schema. Each tree must hold at least one *.up.sql file.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = smsintake.GetCoreMigrationsFS()
	}
	base, basePath, err := schemaRoot(root)
	if err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(dialectDirs))
	for _, entry := range dialectDirs {
		sub := base
		if entry.dir != "." {
			sub, err = fs.Sub(base, entry.dir)
			if err != nil {
				return nil, fmt.Errorf("migrations: resolve %s tree: %w", entry.dialect, err)
			}
		}
		source := Source{Dialect: entry.dialect, Path: path.Join(basePath, entry.dir), FS: sub}
		ups, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: %s tree %q has no *.up.sql files", source.Dialect, source.Path)
		}
		sources = append(sources, source)
	}
	return sources, nil
}

// SourceFor returns the embedded tree for one dialect.
func SourceFor(dialect string) (Source, error) {
	sources, err := Sources(nil)
	if err != nil {
		return Source{}, err
	}
	want := strings.TrimSpace(strings.ToLower(dialect))
	for _, source := range sources {
		if source.Dialect == want {
			return source, nil
		}
	}
	return Source{}, fmt.Errorf("migrations: unknown dialect %q", dialect)
}

// RegisterFunc hands one dialect tree to the persistence layer.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Registration struct {
	SourceLabel string
	Dialects    []string
	Sources     []Source
}

type Option func(*Registration)

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

// WithDialects limits registration to the named dialects.
func WithDialects(dialects ...string) Option {
	return func(r *Registration) {
		if next := normalizeDialects(dialects); len(next) > 0 {
			r.Dialects = next
		}
	}
}

// WithSources replaces the embedded trees, e.g. with a host application's
// copy of the schema.
func WithSources(sources ...Source) Option {
	return func(r *Registration) {
		kept := make([]Source, 0, len(sources))
		for _, source := range sources {
			dialect := strings.TrimSpace(strings.ToLower(source.Dialect))
			if dialect == "" || source.FS == nil {
				continue
			}
			source.Dialect = dialect
			kept = append(kept, source)
		}
		if len(kept) > 0 {
			r.Sources = kept
		}
	}
}

// Register calls registerFn once per selected dialect, postgres first.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel: SourceLabel,
		Dialects:    []string{DialectPostgres, DialectSQLite},
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}
	sources, err := Sources(nil)
	if err != nil {
		return reg, err
	}
	reg.Sources = sources
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	for _, source := range reg.Sources {
		if !slices.Contains(reg.Dialects, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, reg.SourceLabel, source.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Path, err)
		}
	}
	return reg, nil
}

// schemaRoot accepts either a tree containing data/sql/migrations or a
// directory that already holds the postgres *.sql files.
func schemaRoot(root fs.FS) (fs.FS, string, error) {
	if sub, err := fs.Sub(root, migrationsDir); err == nil {
		if _, statErr := fs.Stat(sub, "."); statErr == nil {
			return sub, migrationsDir, nil
		}
	}
	if matches, err := fs.Glob(root, "*.sql"); err == nil && len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", migrationsDir)
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		dialect := strings.TrimSpace(strings.ToLower(value))
		if dialect == "" || slices.Contains(out, dialect) {
			continue
		}
		out = append(out, dialect)
	}
	return out
}

package main

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filenames follow 001_name.up.sql / 001_name.down.sql.
var migrationFilenameRe = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// MigrationSet wraps the embedded migration files with the validation
// run before every state-changing operation.
type MigrationSet struct {
	fs fs.FS
}

// migrationInfo is one parsed migration filename.
type migrationInfo struct {
	Sequence  int
	Name      string
	Direction string
}

// NewMigrationSet creates a MigrationSet over the given filesystem, or
// the embedded migrations when nil.
func NewMigrationSet(filesystem fs.FS) *MigrationSet {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &MigrationSet{fs: filesystem}
}

// FS exposes the migration filesystem for the iofs source driver.
func (m *MigrationSet) FS() fs.FS {
	return m.fs
}

// List returns the migration filenames that conform to the naming
// standard, in lexicographic order.
func (m *MigrationSet) List() ([]string, error) {
	entries, err := fs.ReadDir(m.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) == ".sql" && migrationFilenameRe.MatchString(name) {
			files = append(files, name)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks filename format, up/down pairing and a gap-free
// sequence starting at 001.
func (m *MigrationSet) Validate() error {
	files, err := m.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	pairs := make(map[string]map[string]bool)
	sequences := make(map[int]bool)

	for _, file := range files {
		info, err := parseMigrationFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if pairs[key] == nil {
			pairs[key] = make(map[string]bool)
		}

		pairs[key][info.Direction] = true
		sequences[info.Sequence] = true
	}

	for key, directions := range pairs {
		if !directions["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !directions["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	ordered := make([]int, 0, len(sequences))
	for seq := range sequences {
		ordered = append(ordered, seq)
	}

	sort.Ints(ordered)

	if ordered[0] != 1 {
		return fmt.Errorf("migration sequence should start at 001, found %03d", ordered[0])
	}

	for i := 1; i < len(ordered); i++ {
		if ordered[i] != ordered[i-1]+1 {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d",
				ordered[i-1]+1, ordered[i])
		}
	}

	return nil
}

// MaxSequence returns the highest migration sequence number embedded in
// this binary.
func (m *MigrationSet) MaxSequence() int {
	files, err := m.List()
	if err != nil {
		return 0
	}

	maxSeq := 0

	for _, file := range files {
		if info, err := parseMigrationFilename(file); err == nil && info.Sequence > maxSeq {
			maxSeq = info.Sequence
		}
	}

	return maxSeq
}

func parseMigrationFilename(filename string) (*migrationInfo, error) {
	matches := migrationFilenameRe.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename %s (expected 001_name.up.sql or 001_name.down.sql)",
			filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence in filename %s: %w", filename, err)
	}

	return &migrationInfo{Sequence: sequence, Name: matches[2], Direction: matches[3]}, nil
}

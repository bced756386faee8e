// Package migrations embeds the orchestrator's SQL schema migrations for
// zero-config deployment and exposes them as an fs.FS for golang-migrate's
// iofs source driver.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

// FS returns the embedded migration filesystem.
func FS() fs.FS {
	return embedded
}

// filenameRegex matches "001_create_test_sessions.up.sql" style names.
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// Info describes one migration file parsed from its filename.
type Info struct {
	Sequence  int
	Name      string
	Direction string
	Filename  string
}

// List returns metadata for every embedded migration file, sorted by
// sequence number then direction, for status reporting and validation.
func List() ([]Info, error) {
	entries, err := fs.ReadDir(embedded, ".")
	if err != nil {
		return nil, fmt.Errorf("migrations: read embedded dir: %w", err)
	}

	infos := make([]Info, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		match := filenameRegex.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("migrations: malformed filename %q", entry.Name())
		}

		seq, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("migrations: bad sequence in %q: %w", entry.Name(), err)
		}

		infos = append(infos, Info{
			Sequence:  seq,
			Name:      match[2],
			Direction: match[3],
			Filename:  entry.Name(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Sequence != infos[j].Sequence {
			return infos[i].Sequence < infos[j].Sequence
		}

		return infos[i].Direction < infos[j].Direction
	})

	return infos, nil
}

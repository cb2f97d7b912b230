package knowledge

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Split identifies which part of the graph an edge belongs to
type Split int32

const (
	SplitTrain Split = iota
	SplitVal
	SplitTest
)

var ErrUnknownSplit = errors.New("unknown split")

// splitFiles maps each split to its raw file name
var splitFiles = []struct {
	split Split
	name  string
}{
	{SplitTrain, "train.txt"},
	{SplitVal, "valid.txt"},
	{SplitTest, "test.txt"},
}

// LoadDir loads a graph from dir. A parquet cache under dir/processed is
// used when present; otherwise the raw split files are parsed from
// dir/raw (or dir itself) and the cache is written.
func LoadDir(dir string) (*Graph, error) {
	processed := filepath.Join(dir, "processed")
	if _, err := os.Stat(filepath.Join(processed, edgesFile)); err == nil {
		g, err := readCache(processed)
		if err != nil {
			return nil, fmt.Errorf("failed to read graph cache: %w", err)
		}
		return g, g.Validate()
	}

	rawDir := filepath.Join(dir, "raw")
	if _, err := os.Stat(rawDir); err != nil {
		rawDir = dir
	}

	g := NewGraph()
	for _, sf := range splitFiles {
		if err := g.LoadTriples(filepath.Join(rawDir, sf.name), sf.split); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(processed, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	if err := writeCache(processed, g); err != nil {
		return nil, fmt.Errorf("failed to write graph cache: %w", err)
	}
	return g, nil
}

// LoadTriples appends the triples of a raw file to the graph, marking them
// as belonging to split.
// Format: head relation tail
// Example: "00260881	_hypernym	00260622"
func (g *Graph) LoadTriples(filename string, split Split) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		if len(parts) < 3 {
			return fmt.Errorf("%s:%d: expected head relation tail, got %q", filename, lineNo, scanner.Text())
		}

		headID := g.getOrCreateEntity(parts[0])
		relationID := g.getOrCreateRelation(parts[1])
		tailID := g.getOrCreateEntity(parts[2])
		g.addEdge(headID, relationID, tailID, split)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading file %s: %w", filename, err)
	}
	return nil
}

package knowledge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

const (
	edgesFile = "edges.parquet"
	namesFile = "names.parquet"

	kindEntity   = "entity"
	kindRelation = "relation"
)

// EdgeRecord is one edge of the graph cache
type EdgeRecord struct {
	Head     int64 `parquet:"head"`
	Relation int64 `parquet:"relation"`
	Tail     int64 `parquet:"tail"`
	Split    int32 `parquet:"split"`
}

// NameRecord maps a dense id back to its raw name
type NameRecord struct {
	Kind string `parquet:"kind"`
	ID   int64  `parquet:"id"`
	Name string `parquet:"name"`
}

func writeCache(dir string, g *Graph) error {
	edges := make([]EdgeRecord, g.NumEdges())
	for i := range edges {
		split := SplitTrain
		switch {
		case g.ValMask[i]:
			split = SplitVal
		case g.TestMask[i]:
			split = SplitTest
		}
		edges[i] = EdgeRecord{
			Head:     g.Heads[i],
			Relation: g.Relations[i],
			Tail:     g.Tails[i],
			Split:    int32(split),
		}
	}
	if err := writeRows(filepath.Join(dir, edgesFile), edges); err != nil {
		return err
	}

	names := make([]NameRecord, 0, len(g.EntityKeys)+len(g.RelationKeys))
	for id, name := range g.EntityKeys {
		names = append(names, NameRecord{Kind: kindEntity, ID: int64(id), Name: name})
	}
	for id, name := range g.RelationKeys {
		names = append(names, NameRecord{Kind: kindRelation, ID: int64(id), Name: name})
	}
	return writeRows(filepath.Join(dir, namesFile), names)
}

func readCache(dir string) (*Graph, error) {
	edges, err := readRows[EdgeRecord](filepath.Join(dir, edgesFile))
	if err != nil {
		return nil, err
	}
	names, err := readRows[NameRecord](filepath.Join(dir, namesFile))
	if err != nil {
		return nil, err
	}

	g := NewGraph()
	for _, n := range names {
		switch n.Kind {
		case kindEntity:
			g.EntityHash[n.Name] = n.ID
		case kindRelation:
			g.RelationHash[n.Name] = n.ID
		default:
			return nil, fmt.Errorf("unknown name kind %q", n.Kind)
		}
	}
	g.EntityKeys = make([]string, len(g.EntityHash))
	for name, id := range g.EntityHash {
		if id < 0 || id >= int64(len(g.EntityKeys)) {
			return nil, fmt.Errorf("%w: entity %q has id %d", ErrIDOutOfRange, name, id)
		}
		g.EntityKeys[id] = name
	}
	g.RelationKeys = make([]string, len(g.RelationHash))
	for name, id := range g.RelationHash {
		if id < 0 || id >= int64(len(g.RelationKeys)) {
			return nil, fmt.Errorf("%w: relation %q has id %d", ErrIDOutOfRange, name, id)
		}
		g.RelationKeys[id] = name
	}
	g.NumNodes = int64(len(g.EntityKeys))

	for i, e := range edges {
		switch Split(e.Split) {
		case SplitTrain, SplitVal, SplitTest:
		default:
			return nil, fmt.Errorf("%w: edge %d has split %d", ErrUnknownSplit, i, e.Split)
		}
		g.addEdge(e.Head, e.Relation, e.Tail, Split(e.Split))
	}
	return g, nil
}

func writeRows[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	pw := parquet.NewGenericWriter[T](f, parquet.Compression(&parquet.Zstd))
	if _, err := pw.Write(rows); err != nil {
		_ = pw.Close()
		return err
	}
	if err := pw.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func readRows[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, err
	}

	pr := parquet.NewGenericReader[T](pf)
	defer pr.Close()

	rows := make([]T, pf.NumRows())
	total := 0
	for total < len(rows) {
		n, err := pr.Read(rows[total:])
		total += n
		if err != nil && err != io.EOF {
			return nil, err
		}
		if err == io.EOF || n == 0 {
			break
		}
	}
	return rows[:total], nil
}

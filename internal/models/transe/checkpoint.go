package transe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// Parameter names stored in a checkpoint
const (
	EntityParam   = "entities_embeddings.weight"
	RelationParam = "relations_embeddings.weight"

	CheckpointExt = ".parquet"
)

// EmbeddingRecord is one row of one embedding table in a checkpoint
type EmbeddingRecord struct {
	Param  string    `parquet:"param"`
	Row    int64     `parquet:"row"`
	Vector []float64 `parquet:"vector"`
}

// SaveCheckpoint writes both tables to dir/name.parquet, creating dir if
// needed and overwriting any previous file. It returns the written path.
func (te *TransE) SaveCheckpoint(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	path := filepath.Join(dir, name+CheckpointExt)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create checkpoint file: %w", err)
	}

	if err := te.writeTables(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return path, nil
}

func (te *TransE) writeTables(w io.Writer) error {
	pw := parquet.NewGenericWriter[EmbeddingRecord](w, parquet.Compression(&parquet.Zstd))

	records := make([]EmbeddingRecord, 0, te.numEntities+te.numRelations)
	for i := int64(0); i < te.numEntities; i++ {
		records = append(records, EmbeddingRecord{Param: EntityParam, Row: i, Vector: te.entity(i)})
	}
	for i := int64(0); i < te.numRelations; i++ {
		records = append(records, EmbeddingRecord{Param: RelationParam, Row: i, Vector: te.relation(i)})
	}

	if _, err := pw.Write(records); err != nil {
		_ = pw.Close()
		return err
	}
	return pw.Close()
}

// LoadCheckpoint replaces both tables with the ones stored at path. The
// checkpoint must have exactly the model's row counts and dimension.
func (te *TransE) LoadCheckpoint(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}

	pr := parquet.NewGenericReader[EmbeddingRecord](pf)
	defer pr.Close()

	records := make([]EmbeddingRecord, pf.NumRows())
	total := 0
	for total < len(records) {
		n, err := pr.Read(records[total:])
		total += n
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read checkpoint %s: %w", path, err)
		}
		if err == io.EOF || n == 0 {
			break
		}
	}
	records = records[:total]

	if int64(len(records)) != te.numEntities+te.numRelations {
		return fmt.Errorf("%w: %d rows, model has %d entities + %d relations",
			ErrCheckpointShape, len(records), te.numEntities, te.numRelations)
	}

	entities := make([]float64, len(te.entityEmbeddings))
	relations := make([]float64, len(te.relationEmbeddings))
	seenEntities := make([]bool, te.numEntities)
	seenRelations := make([]bool, te.numRelations)
	for _, rec := range records {
		if len(rec.Vector) != te.dim {
			return fmt.Errorf("%w: %s row %d has dim %d, model dim %d",
				ErrCheckpointShape, rec.Param, rec.Row, len(rec.Vector), te.dim)
		}

		var (
			table []float64
			seen  []bool
		)
		switch rec.Param {
		case EntityParam:
			table, seen = entities, seenEntities
		case RelationParam:
			table, seen = relations, seenRelations
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrCheckpointShape, rec.Param)
		}
		if rec.Row < 0 || rec.Row >= int64(len(seen)) {
			return fmt.Errorf("%w: %s row %d outside %d rows", ErrCheckpointShape, rec.Param, rec.Row, len(seen))
		}
		if seen[rec.Row] {
			return fmt.Errorf("%w: %s row %d stored twice", ErrCheckpointShape, rec.Param, rec.Row)
		}
		seen[rec.Row] = true
		copy(table[rec.Row*int64(te.dim):], rec.Vector)
	}
	// the total row count matches, so with no duplicates every row is present

	te.entityEmbeddings = entities
	te.relationEmbeddings = relations
	return nil
}

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/soundprediction/interrogato/pkg/types"
)

// Table file names the upstream indexing pipeline writes into its output
// directory.
const (
	EntitiesFile      = "entities.parquet"
	RelationshipsFile = "relationships.parquet"
	TextUnitsFile     = "text_units.parquet"
	CovariatesFile    = "covariates.parquet"
	CommunitiesFile   = "communities.parquet"
	ReportsFile       = "community_reports.parquet"
)

// LoadParquetDir reads the knowledge-graph tables from a directory of
// parquet files into a MemoryStore. Entities, relationships, text units,
// communities, and reports are required; covariates are optional since not
// every pipeline run extracts claims.
func LoadParquetDir(dir string) (*MemoryStore, error) {
	entities, err := readTable[types.Entity](filepath.Join(dir, EntitiesFile), true)
	if err != nil {
		return nil, err
	}
	relationships, err := readTable[types.Relationship](filepath.Join(dir, RelationshipsFile), true)
	if err != nil {
		return nil, err
	}
	textUnits, err := readTable[types.TextUnit](filepath.Join(dir, TextUnitsFile), true)
	if err != nil {
		return nil, err
	}
	communities, err := readTable[types.Community](filepath.Join(dir, CommunitiesFile), true)
	if err != nil {
		return nil, err
	}
	reports, err := readTable[types.CommunityReport](filepath.Join(dir, ReportsFile), true)
	if err != nil {
		return nil, err
	}
	covariates, err := readTable[types.Covariate](filepath.Join(dir, CovariatesFile), false)
	if err != nil {
		return nil, err
	}

	return NewMemoryStore(
		asPointers(entities),
		asPointers(relationships),
		asPointers(textUnits),
		asPointers(covariates),
		asPointers(communities),
		asPointers(reports),
	), nil
}

func readTable[T any](path string, required bool) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
			if !required {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %s missing", ErrTableUnavailable, filepath.Base(path))
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrTableUnavailable, filepath.Base(path), err)
	}
	return rows, nil
}

func asPointers[T any](rows []T) []*T {
	out := make([]*T, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}

// WriteParquetDir writes the given tables as parquet files under dir. It
// exists for fixtures and round-trip tests; the production tables come from
// the indexing pipeline.
func WriteParquetDir(dir string,
	entities []types.Entity,
	relationships []types.Relationship,
	textUnits []types.TextUnit,
	covariates []types.Covariate,
	communities []types.Community,
	reports []types.CommunityReport,
) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeTable(filepath.Join(dir, EntitiesFile), entities); err != nil {
		return err
	}
	if err := writeTable(filepath.Join(dir, RelationshipsFile), relationships); err != nil {
		return err
	}
	if err := writeTable(filepath.Join(dir, TextUnitsFile), textUnits); err != nil {
		return err
	}
	if len(covariates) > 0 {
		if err := writeTable(filepath.Join(dir, CovariatesFile), covariates); err != nil {
			return err
		}
	}
	if err := writeTable(filepath.Join(dir, CommunitiesFile), communities); err != nil {
		return err
	}
	return writeTable(filepath.Join(dir, ReportsFile), reports)
}

func writeTable[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	writer := parquet.NewGenericWriter[T](f)
	if _, err := writer.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

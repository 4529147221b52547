package collection

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/index"
)

const parametersFile = "parameter.json"

// Parameters is the persisted description of a collection.
type Parameters struct {
	ID               uint64             `json:"id"`
	GloballyUniqueID string             `json:"globally_unique_id"`
	Name             string             `json:"name"`
	JournalSize      int64              `json:"journal_size"`
	WaitForSync      bool               `json:"wait_for_sync"`
	Compression      string             `json:"compression"`
	KeyGenerator     string             `json:"key_generator"`
	Indexes          []index.Definition `json:"indexes"`
	Deleted          bool               `json:"deleted"`
}

func readParameters(dir string) (*Parameters, error) {
	data, err := os.ReadFile(filepath.Join(dir, parametersFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, dberr.Wrap(dberr.KindCollectionNotFound, err, "no %s in %s", parametersFile, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read parameters: %w", err)
	}

	p := &Parameters{}
	err = json2.Unmarshal(data, p)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindCorruptDatafile, err, "decode %s", parametersFile)
	}
	return p, nil
}

// writeParameters replaces the parameter file atomically.
func writeParameters(dir string, p *Parameters) error {
	data, err := json2.Marshal(p, jsontext.WithIndent("    "))
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	filename := filepath.Join(dir, parametersFile)
	tmp := filename + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("write parameters: %w", err)
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write parameters: %w", err)
	}

	err = os.Rename(tmp, filename)
	if err != nil {
		return fmt.Errorf("write parameters: %w", err)
	}
	return nil
}

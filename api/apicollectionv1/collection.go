package apicollectionv1

import (
	"github.com/fulldump/segmentdb/collection"
)

type CollectionResponse struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	Status       string `json:"status"`
	Total        int    `json:"total"`
	Indexes      int    `json:"indexes"`
	JournalSize  int64  `json:"journal_size"`
	WaitForSync  bool   `json:"wait_for_sync"`
	Compression  string `json:"compression"`
	KeyGenerator string `json:"key_generator"`
}

func newCollectionResponse(col *collection.Collection) *CollectionResponse {
	p := col.Parameters()

	compression := p.Compression
	if compression == "" {
		compression = "none"
	}
	keyGenerator := p.KeyGenerator
	if keyGenerator == "" {
		keyGenerator = "traditional"
	}

	return &CollectionResponse{
		Name:         col.Name,
		ID:           p.GloballyUniqueID,
		Status:       col.Status().String(),
		Total:        col.Count(),
		Indexes:      len(p.Indexes),
		JournalSize:  p.JournalSize,
		WaitForSync:  p.WaitForSync,
		Compression:  compression,
		KeyGenerator: keyGenerator,
	}
}

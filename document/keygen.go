package document

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/fulldump/segmentdb/dberr"
)

// KeyGenerator creates keys for documents inserted without one.
type KeyGenerator interface {
	Type() string
	Generate() string
}

type Ticker interface {
	Next() uint64
}

// TraditionalKeyGenerator derives keys from the collection clock, so keys
// sort in insertion order.
type TraditionalKeyGenerator struct {
	Clock Ticker
}

func (g *TraditionalKeyGenerator) Type() string {
	return "traditional"
}

func (g *TraditionalKeyGenerator) Generate() string {
	return strconv.FormatUint(g.Clock.Next(), 10)
}

type UUIDKeyGenerator struct{}

func (UUIDKeyGenerator) Type() string {
	return "uuid"
}

func (UUIDKeyGenerator) Generate() string {
	return uuid.NewString()
}

func NewKeyGenerator(typ string, clock Ticker) (KeyGenerator, error) {
	switch typ {
	case "", "traditional":
		return &TraditionalKeyGenerator{Clock: clock}, nil
	case "uuid":
		return UUIDKeyGenerator{}, nil
	}
	return nil, dberr.New(dberr.KindBadParameter, "unknown key generator '%s'", typ)
}

package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// HashNone is the baseline hash a client sends when it has seen no draft.
const HashNone = ""

// DraftKey addresses the single draft allowed per object and locale.
type DraftKey struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Locale string `json:"locale"`
}

func (k DraftKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.ID, k.Locale)
}

// DraftEntry is the stored, unpublished state of one object.
type DraftEntry struct {
	Key              DraftKey        `json:"key"`
	Data             json.RawMessage `json:"data"`
	DataHash         string          `json:"data_hash"`
	Owner            string          `json:"owner"`
	ClientInstanceID string          `json:"client_instance_id"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Package store is the boundary to the remote persistent store: a document
// store addressed by collection and id.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const (
	CollectionPosts        = "posts"
	CollectionComments     = "comments"
	CollectionCommentLikes = "commentLikes"
)

var (
	ErrNotFound      = errors.New("store: record not found")
	ErrAlreadyExists = errors.New("store: record already exists")
)

// Fields is the field map of one document.
type Fields map[string]any

// Increment, used as a value in UpdateFields, adds to a numeric field
// instead of overwriting it. Counters never drop below zero.
type Increment int

type Record struct {
	ID     string
	Fields Fields
}

// DataTo decodes the record's fields into v using mapstructure tags.
func (r Record) DataTo(v any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		WeaklyTypedInput: true,
		Result:           v,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]any(r.Fields)); err != nil {
		return fmt.Errorf("decode %s: %w", r.ID, err)
	}
	return nil
}

type OpKind int

const (
	OpCreate OpKind = iota
	OpUpdate
	OpDelete
)

// Op is one write inside a Batch.
type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Fields     Fields
}

func CreateOp(collection, id string, fields Fields) Op {
	return Op{Kind: OpCreate, Collection: collection, ID: id, Fields: fields}
}

func UpdateOp(collection, id string, fields Fields) Op {
	return Op{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields}
}

func DeleteOp(collection, id string) Op {
	return Op{Kind: OpDelete, Collection: collection, ID: id}
}

type Store interface {
	Create(ctx context.Context, collection string, fields Fields) (string, error)
	// QueryByField returns every record whose field equals value, in no
	// particular order.
	QueryByField(ctx context.Context, collection, field string, value any) ([]Record, error)
	GetByID(ctx context.Context, collection, id string) (Record, error)
	UpdateFields(ctx context.Context, collection, id string, fields Fields) error
	DeleteByID(ctx context.Context, collection, id string) error
	// Batch applies all ops or none of them.
	Batch(ctx context.Context, ops ...Op) error
}

// applyFields merges updates into doc, resolving Increment values against
// the current field value.
func applyFields(doc Fields, updates Fields) {
	for field, value := range updates {
		if inc, ok := value.(Increment); ok {
			next := toInt(doc[field]) + int(inc)
			if next < 0 {
				next = 0
			}
			doc[field] = next
			continue
		}
		doc[field] = value
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	case Increment:
		return int(n)
	}
	return 0
}

func copyFields(src Fields) Fields {
	dst := make(Fields, len(src))
	for k, v := range src {
		switch s := v.(type) {
		case []string:
			dst[k] = append([]string(nil), s...)
		case []any:
			dst[k] = append([]any(nil), s...)
		default:
			dst[k] = v
		}
	}
	return dst
}

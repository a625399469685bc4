package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/golang/glog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is the production Store.
type Firestore struct {
	client *firestore.Client
}

func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func translateFirestoreError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return ErrNotFound
	case codes.AlreadyExists:
		return ErrAlreadyExists
	}
	return err
}

func (f *Firestore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	ref, _, err := f.client.Collection(collection).Add(ctx, map[string]any(fields))
	if err != nil {
		glog.Errorf("[Store] firestore create %s failed: %v", collection, err)
		return "", err
	}
	return ref.ID, nil
}

func (f *Firestore) QueryByField(ctx context.Context, collection, field string, value any) ([]Record, error) {
	docs, err := f.client.Collection(collection).Where(field, "==", value).Documents(ctx).GetAll()
	if err != nil {
		glog.Errorf("[Store] firestore query %s.%s failed: %v", collection, field, err)
		return nil, err
	}
	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, Record{ID: doc.Ref.ID, Fields: doc.Data()})
	}
	return records, nil
}

func (f *Firestore) GetByID(ctx context.Context, collection, id string) (Record, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return Record{}, translateFirestoreError(err)
	}
	return Record{ID: snap.Ref.ID, Fields: snap.Data()}, nil
}

// UpdateFields uses server-side increments for positive deltas. Negative
// deltas go through a transaction so the counter can be floored at zero.
func (f *Firestore) UpdateFields(ctx context.Context, collection, id string, fields Fields) error {
	ref := f.client.Collection(collection).Doc(id)
	if !hasDecrement(fields) {
		_, err := ref.Update(ctx, firestoreUpdates(fields, nil))
		return translateFirestoreError(err)
	}
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		return tx.Update(ref, firestoreUpdates(fields, snap.Data()))
	})
	return translateFirestoreError(err)
}

func (f *Firestore) DeleteByID(ctx context.Context, collection, id string) error {
	_, err := f.client.Collection(collection).Doc(id).Delete(ctx)
	return translateFirestoreError(err)
}

func (f *Firestore) Batch(ctx context.Context, ops ...Op) error {
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// firestore transactions require every read before the first write
		current := make([]map[string]any, len(ops))
		for i, op := range ops {
			if op.Kind != OpUpdate || !hasDecrement(op.Fields) {
				continue
			}
			snap, err := tx.Get(f.client.Collection(op.Collection).Doc(op.ID))
			if err != nil {
				return err
			}
			current[i] = snap.Data()
		}

		for i, op := range ops {
			ref := f.client.Collection(op.Collection).Doc(op.ID)
			var err error
			switch op.Kind {
			case OpCreate:
				err = tx.Create(ref, map[string]any(op.Fields))
			case OpUpdate:
				err = tx.Update(ref, firestoreUpdates(op.Fields, current[i]))
			case OpDelete:
				err = tx.Delete(ref)
			default:
				err = fmt.Errorf("unknown op kind %d", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		glog.Errorf("[Store] firestore batch of %d ops failed: %v", len(ops), err)
	}
	return translateFirestoreError(err)
}

func hasDecrement(fields Fields) bool {
	for _, v := range fields {
		if inc, ok := v.(Increment); ok && inc < 0 {
			return true
		}
	}
	return false
}

// firestoreUpdates converts fields to update paths. current is the
// document's data when any decrement needs flooring, nil otherwise.
func firestoreUpdates(fields Fields, current map[string]any) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		inc, ok := value.(Increment)
		switch {
		case !ok:
			updates = append(updates, firestore.Update{Path: path, Value: value})
		case inc >= 0:
			updates = append(updates, firestore.Update{Path: path, Value: firestore.Increment(int(inc))})
		default:
			next := toInt(current[path]) + int(inc)
			if next < 0 {
				next = 0
			}
			updates = append(updates, firestore.Update{Path: path, Value: next})
		}
	}
	return updates
}

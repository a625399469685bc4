package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"
)

// Postgres keeps documents as jsonb rows in a single `documents` table
// (see database.ConnectDB).
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	id := ulid.Make().String()
	if err := insertDocument(ctx, p.db, collection, id, fields); err != nil {
		glog.Errorf("[Store] postgres create %s failed: %v", collection, err)
		return "", err
	}
	return id, nil
}

func (p *Postgres) QueryByField(ctx context.Context, collection, field string, value any) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, data
		FROM documents
		WHERE collection = $1
		  AND data->>$2 = $3`,
		collection, field, fmt.Sprint(value))
	if err != nil {
		glog.Errorf("[Store] postgres query %s.%s failed: %v", collection, field, err)
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, Record{ID: id, Fields: fields})
	}
	return records, rows.Err()
}

func (p *Postgres) GetByID(ctx context.Context, collection, id string) (Record, error) {
	fields, err := selectDocument(ctx, p.db, collection, id, false)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Fields: fields}, nil
}

func (p *Postgres) UpdateFields(ctx context.Context, collection, id string, fields Fields) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		return updateDocument(ctx, tx, collection, id, fields)
	})
}

func (p *Postgres) DeleteByID(ctx context.Context, collection, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	return err
}

func (p *Postgres) Batch(ctx context.Context, ops ...Op) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			var err error
			switch op.Kind {
			case OpCreate:
				err = insertDocument(ctx, tx, op.Collection, op.ID, op.Fields)
			case OpUpdate:
				err = updateDocument(ctx, tx, op.Collection, op.ID, op.Fields)
			case OpDelete:
				_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, op.Collection, op.ID)
			default:
				err = fmt.Errorf("unknown op kind %d", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			glog.Errorf("[Store] postgres rollback failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}

func insertDocument(ctx context.Context, q querier, collection, id string, fields Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)`,
		collection, id, raw)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrAlreadyExists)
	}
	return err
}

func updateDocument(ctx context.Context, q querier, collection, id string, fields Fields) error {
	doc, err := selectDocument(ctx, q, collection, id, true)
	if err != nil {
		return err
	}
	applyFields(doc, fields)
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE documents SET data = $3
		WHERE collection = $1 AND id = $2`,
		collection, id, raw)
	return err
}

func selectDocument(ctx context.Context, q querier, collection, id string, forUpdate bool) (Fields, error) {
	query := `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var raw []byte
	err := q.QueryRowContext(ctx, query, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return decodeFields(raw)
}

func decodeFields(raw []byte) (Fields, error) {
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

package store

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
)

const (
	MethodCreate       = "Create"
	MethodQueryByField = "QueryByField"
	MethodGetByID      = "GetByID"
	MethodUpdateFields = "UpdateFields"
	MethodDeleteByID   = "DeleteByID"
	MethodBatch        = "Batch"
)

// Memory is a process-local Store. It backs the `memory` store backend and
// doubles as the remote store in tests, where FailNext injects failures.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]Fields
	failures    map[string][]error
	calls       map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		collections: map[string]map[string]Fields{},
		failures:    map[string][]error{},
		calls:       map[string]int{},
	}
}

// Put writes a document directly, bypassing call accounting.
func (m *Memory) Put(collection, id string, fields Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(collection)[id] = copyFields(fields)
}

// FailNext makes the next call of method return err.
func (m *Memory) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = append(m.failures[method], err)
}

func (m *Memory) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Memory) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// Len returns the number of documents in a collection.
func (m *Memory) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection])
}

func (m *Memory) collection(name string) map[string]Fields {
	c, ok := m.collections[name]
	if !ok {
		c = map[string]Fields{}
		m.collections[name] = c
	}
	return c
}

// enter records the call and pops an injected failure. Caller holds mu.
func (m *Memory) enter(method string) error {
	m.calls[method]++
	queue := m.failures[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.failures[method] = queue[1:]
	glog.V(2).Infof("[Store] memory %s injected failure: %v", method, err)
	return err
}

func (m *Memory) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodCreate); err != nil {
		return "", err
	}
	id := ulid.Make().String()
	m.collection(collection)[id] = copyFields(fields)
	return id, nil
}

func (m *Memory) QueryByField(ctx context.Context, collection, field string, value any) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodQueryByField); err != nil {
		return nil, err
	}
	var records []Record
	for id, doc := range m.collections[collection] {
		if reflect.DeepEqual(doc[field], value) {
			records = append(records, Record{ID: id, Fields: copyFields(doc)})
		}
	}
	return records, nil
}

func (m *Memory) GetByID(ctx context.Context, collection, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodGetByID); err != nil {
		return Record{}, err
	}
	doc, ok := m.collections[collection][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return Record{ID: id, Fields: copyFields(doc)}, nil
}

func (m *Memory) UpdateFields(ctx context.Context, collection, id string, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodUpdateFields); err != nil {
		return err
	}
	doc, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	applyFields(doc, fields)
	return nil
}

func (m *Memory) DeleteByID(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodDeleteByID); err != nil {
		return err
	}
	delete(m.collections[collection], id)
	return nil
}

func (m *Memory) Batch(ctx context.Context, ops ...Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodBatch); err != nil {
		return err
	}

	// validate everything first so a failing op leaves no partial writes
	pending := map[string]map[string]bool{}
	exists := func(collection, id string) bool {
		if state, ok := pending[collection][id]; ok {
			return state
		}
		_, ok := m.collections[collection][id]
		return ok
	}
	mark := func(collection, id string, present bool) {
		if pending[collection] == nil {
			pending[collection] = map[string]bool{}
		}
		pending[collection][id] = present
	}
	for _, op := range ops {
		switch op.Kind {
		case OpCreate:
			if exists(op.Collection, op.ID) {
				return fmt.Errorf("%s/%s: %w", op.Collection, op.ID, ErrAlreadyExists)
			}
			mark(op.Collection, op.ID, true)
		case OpUpdate:
			if !exists(op.Collection, op.ID) {
				return fmt.Errorf("%s/%s: %w", op.Collection, op.ID, ErrNotFound)
			}
		case OpDelete:
			mark(op.Collection, op.ID, false)
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case OpCreate:
			m.collection(op.Collection)[op.ID] = copyFields(op.Fields)
		case OpUpdate:
			applyFields(m.collection(op.Collection)[op.ID], op.Fields)
		case OpDelete:
			delete(m.collection(op.Collection), op.ID)
		}
	}
	return nil
}

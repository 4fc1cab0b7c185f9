package library

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/YannKr/assetdeck/internal/model"
	"github.com/YannKr/assetdeck/internal/store"
)

// fakeStore is an in-memory store.Store. listFn, when set, replaces the
// default List behaviour; n counts calls from 1.
type fakeStore struct {
	mu        sync.Mutex
	records   []store.Record
	listFn    func(ctx context.Context, n int) ([]store.Record, error)
	listCalls int

	deleteErr   map[string]error
	deleteDelay time.Duration
	deleted     []string
	inFlight    int
	maxInFlight int

	downloadErr map[string]error
}

func newFakeStore(records ...store.Record) *fakeStore {
	return &fakeStore{records: records, deleteErr: map[string]error{}, downloadErr: map[string]error{}}
}

func (f *fakeStore) List(ctx context.Context) ([]store.Record, error) {
	f.mu.Lock()
	f.listCalls++
	n := f.listCalls
	fn := f.listFn
	records := append([]store.Record(nil), f.records...)
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, n)
	}
	return records, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	if f.deleteDelay > 0 {
		time.Sleep(f.deleteDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	f.deleted = append(f.deleted, id)
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	for i, r := range f.records {
		if r["id"] == id {
			f.records = append(f.records[:i:i], f.records[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) Download(ctx context.Context, id string) (*store.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.downloadErr[id]; err != nil {
		return nil, err
	}
	return &store.Payload{Body: io.NopCloser(strings.NewReader("data-" + id)), Size: -1}, nil
}

func (f *fakeStore) calls() (list int, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, append([]string(nil), f.deleted...)
}

// bulkFakeStore adds a scripted BulkDelete.
type bulkFakeStore struct {
	*fakeStore
	bulkCalls [][]string
	bulkFn    func(ids []string) (*store.BulkDeleteResponse, error)
}

func (b *bulkFakeStore) BulkDelete(ctx context.Context, ids []string) (*store.BulkDeleteResponse, error) {
	b.mu.Lock()
	b.bulkCalls = append(b.bulkCalls, append([]string(nil), ids...))
	b.mu.Unlock()
	return b.bulkFn(ids)
}

// memSink records saved payloads in memory.
type memSink struct {
	mu    sync.Mutex
	saved []string
	times []time.Time
	fail  map[string]error
}

func (m *memSink) Save(ctx context.Context, a model.Asset, p *store.Payload) (string, error) {
	data, err := io.ReadAll(p.Body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times = append(m.times, time.Now())
	if err := m.fail[a.ID]; err != nil {
		return "", err
	}
	m.saved = append(m.saved, a.ID+":"+string(data))
	return "/downloads/" + a.Filename, nil
}

var errNetwork = &store.TransientError{Err: errors.New("connection refused")}

func rec(id, filename string) store.Record {
	return store.Record{"id": id, "filename": filename}
}

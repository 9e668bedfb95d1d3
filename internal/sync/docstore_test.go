package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openfondos/grantmirror/internal/repos"
	"github.com/openfondos/grantmirror/internal/types"
)

type memDocRepo struct {
	rows map[uuid.UUID]*types.GrantDocument
}

func (m *memDocRepo) ReplaceForGrantCall(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID, docs []*types.GrantDocument) error {
	return fmt.Errorf("not implemented")
}

func (m *memDocRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GrantDocument, error) {
	return m.rows[id], nil
}

func (m *memDocRepo) ListByGrantCallID(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID) ([]*types.GrantDocument, error) {
	return nil, nil
}

func (m *memDocRepo) SetStorage(ctx context.Context, tx *gorm.DB, id uuid.UUID, storageKey, fileURL string) error {
	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("row gone")
	}
	row.StorageKey = storageKey
	row.FileURL = fileURL
	return nil
}

var _ repos.GrantDocumentRepo = (*memDocRepo)(nil)

type fakeSource struct {
	body []byte
	err  error
}

func (f *fakeSource) DownloadDocument(ctx context.Context, documentID int64) (io.ReadCloser, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return io.NopCloser(bytes.NewReader(f.body)), "application/pdf", nil
}

type fakeStore struct {
	uploads map[string]int
	err     error
}

func (f *fakeStore) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.uploads == nil {
		f.uploads = map[string]int{}
	}
	f.uploads[key]++
	return "https://storage.example.org/" + key, nil
}

func TestDocStoreStoresAndPointsRow(t *testing.T) {
	grantCallID := uuid.New()
	docID := uuid.New()
	docs := &memDocRepo{rows: map[uuid.UUID]*types.GrantDocument{
		docID: {ID: docID, GrantCallID: grantCallID, ExternalID: 4711, FileName: "bases.PDF"},
	}}
	store := &fakeStore{}
	ds := NewDocStore(testLogger(t), &fakeSource{body: []byte("%PDF-1.7")}, store, docs, testMetrics())

	key, err := ds.Store(context.Background(), DocumentJob{GrantCallID: grantCallID, DocumentID: docID})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	want := fmt.Sprintf("grant-calls/%s/documents/4711.pdf", grantCallID)
	if key != want {
		t.Fatalf("key %q, want %q", key, want)
	}
	row := docs.rows[docID]
	if row.StorageKey != want || row.FileURL == "" {
		t.Fatalf("pointer not updated: %+v", row)
	}

	// Re-running the job lands on the same key: an overwrite, not a copy.
	if _, err := ds.Store(context.Background(), DocumentJob{GrantCallID: grantCallID, DocumentID: docID}); err != nil {
		t.Fatalf("second store: %v", err)
	}
	if len(store.uploads) != 1 || store.uploads[want] != 2 {
		t.Fatalf("expected two uploads to one key, got %v", store.uploads)
	}
}

func TestDocStoreSupersededJobIsNoOp(t *testing.T) {
	docs := &memDocRepo{rows: map[uuid.UUID]*types.GrantDocument{}}
	store := &fakeStore{}
	ds := NewDocStore(testLogger(t), &fakeSource{body: []byte("x")}, store, docs, testMetrics())

	key, err := ds.Store(context.Background(), DocumentJob{GrantCallID: uuid.New(), DocumentID: uuid.New()})
	if err != nil {
		t.Fatalf("superseded job must not error: %v", err)
	}
	if key != "" || len(store.uploads) != 0 {
		t.Fatalf("superseded job must not touch storage")
	}
}

func TestDocStoreDownloadFailureIsRetryable(t *testing.T) {
	docID := uuid.New()
	docs := &memDocRepo{rows: map[uuid.UUID]*types.GrantDocument{
		docID: {ID: docID, ExternalID: 1, FileName: "a.pdf"},
	}}
	ds := NewDocStore(testLogger(t), &fakeSource{err: fmt.Errorf("timeout")}, &fakeStore{}, docs, testMetrics())

	if _, err := ds.Store(context.Background(), DocumentJob{GrantCallID: uuid.New(), DocumentID: docID}); err == nil {
		t.Fatalf("expected a download error")
	}
	if docs.rows[docID].StorageKey != "" {
		t.Fatalf("failed job must not set a pointer")
	}
}

func TestDocStoreKeyDefaultsExtension(t *testing.T) {
	grantCallID := uuid.New()
	job := DocumentJob{GrantCallID: grantCallID}
	if got := storageKey(job, 9, "informe"); got != fmt.Sprintf("grant-calls/%s/documents/9.pdf", grantCallID) {
		t.Fatalf("missing extension must default to .pdf, got %q", got)
	}
	if got := storageKey(job, 9, "informe.DOCX"); got != fmt.Sprintf("grant-calls/%s/documents/9.docx", grantCallID) {
		t.Fatalf("extension must be lowercased, got %q", got)
	}
}

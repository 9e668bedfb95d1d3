package bdns

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openfondos/grantmirror/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func TestFetchPageParsesAndPaginates(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/convocatorias/busqueda" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = map[string]string{
			"page":       r.URL.Query().Get("page"),
			"pageSize":   r.URL.Query().Get("pageSize"),
			"fechaDesde": r.URL.Query().Get("fechaDesde"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [
				{"id": 1, "numeroConvocatoria": "1001", "descripcion": "a", "fechaRecepcion": "2026-02-01"},
				{"id": 2, "numeroConvocatoria": "1002", "descripcion": "b", "mrr": true}
			],
			"last": false,
			"totalPages": 9
		}`))
	}))
	defer srv.Close()

	c := NewClient(testLogger(t), srv.URL, 50, time.Second)
	from := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	page, err := c.FetchPage(context.Background(), 3, &from)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}

	if gotQuery["page"] != "3" || gotQuery["pageSize"] != "50" {
		t.Fatalf("pagination params wrong: %v", gotQuery)
	}
	if gotQuery["fechaDesde"] != "15/01/2026" {
		t.Fatalf("fechaDesde must be dd/MM/yyyy, got %q", gotQuery["fechaDesde"])
	}
	if len(page.Content) != 2 || page.Last || page.TotalPages != 9 {
		t.Fatalf("page decoded wrong: %+v", page)
	}
	if page.Content[0].Code != "1001" || !page.Content[1].Recovery {
		t.Fatalf("item fields decoded wrong: %+v", page.Content)
	}
}

func TestFetchPageServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testLogger(t), srv.URL, 10, time.Second)
	_, err := c.FetchPage(context.Background(), 0, nil)
	if err == nil {
		t.Fatalf("expected an error")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fe.Op != "search" || fe.Page != 0 || fe.StatusCode != http.StatusInternalServerError {
		t.Fatalf("wrong error detail: %+v", fe)
	}
}

func TestDetailKeepsRawBody(t *testing.T) {
	body := `{"id": 77, "codigoBDNS": "77", "descripcion": "detalle", "abierto": true}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/convocatorias" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("numConv") != "77" {
			t.Errorf("numConv missing")
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(testLogger(t), srv.URL, 10, time.Second)
	d, err := c.Detail(context.Background(), "77")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if d.ID != 77 || !d.Open {
		t.Fatalf("detail decoded wrong: %+v", d)
	}
	if string(d.Raw) != body {
		t.Fatalf("raw body not preserved")
	}
}

func TestDetailNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("numConv") {
		case "gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := NewClient(testLogger(t), srv.URL, 10, time.Second)

	if _, err := c.Detail(context.Background(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("404 must map to ErrNotFound, got %v", err)
	}
	// The API answers some unknown codes with an empty object instead.
	if _, err := c.Detail(context.Background(), "empty"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty payload must map to ErrNotFound, got %v", err)
	}
}

func TestDownloadDocumentStreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/convocatorias/documentos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("idDocumento") != "4711" {
			t.Errorf("idDocumento missing")
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 payload"))
	}))
	defer srv.Close()

	c := NewClient(testLogger(t), srv.URL, 10, time.Second)
	body, contentType, err := c.DownloadDocument(context.Background(), 4711)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer body.Close()

	if contentType != "application/pdf" {
		t.Fatalf("content type %q", contentType)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "%PDF-1.7 payload" {
		t.Fatalf("body %q", data)
	}
}

func TestRefValueResolutionKey(t *testing.T) {
	if got := (RefValue{Code: "ES30", Description: "Madrid"}).ResolutionKey(); got != "ES30" {
		t.Fatalf("code must win, got %q", got)
	}
	if got := (RefValue{Description: "FEDER"}).ResolutionKey(); got != "FEDER" {
		t.Fatalf("description fallback broken, got %q", got)
	}
}

package bdns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openfondos/grantmirror/internal/platform/logger"
)

const (
	// The search endpoint rejects page sizes above this.
	MaxPageSize = 200

	defaultOrder     = "fechaRecepcion"
	defaultDirection = "desc"
	fromDateLayout   = "02/01/2006"
)

// ErrNotFound marks a detail lookup for a code the remote no longer serves.
var ErrNotFound = errors.New("bdns: not found")

// FetchError is a transport-level failure (network error, non-2xx status,
// malformed body). Page is -1 for non-paginated calls.
type FetchError struct {
	Op         string
	Page       int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Page >= 0 {
		return fmt.Sprintf("bdns %s (page=%d status=%d): %v", e.Op, e.Page, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("bdns %s (status=%d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Client struct {
	log        *logger.Logger
	httpClient *http.Client
	baseURL    string
	pageSize   int
}

func NewClient(log *logger.Logger, baseURL string, pageSize int, timeout time.Duration) *Client {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		log:        log.With("client", "BDNSClient"),
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		pageSize:   pageSize,
	}
}

func (c *Client) PageSize() int { return c.pageSize }

// FetchPage fetches one page of call summaries, newest first. No retry here;
// callers own the retry policy.
func (c *Client) FetchPage(ctx context.Context, page int, fromDate *time.Time) (*SearchPage, error) {
	q := url.Values{}
	q.Set("order", defaultOrder)
	q.Set("direction", defaultDirection)
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(c.pageSize))
	if fromDate != nil && !fromDate.IsZero() {
		q.Set("fechaDesde", fromDate.Format(fromDateLayout))
	}

	body, status, err := c.get(ctx, "/convocatorias/busqueda", q)
	if err != nil {
		return nil, &FetchError{Op: "search", Page: page, StatusCode: status, Err: err}
	}

	var out SearchPage
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &FetchError{Op: "search", Page: page, StatusCode: status, Err: fmt.Errorf("decode: %w", err)}
	}
	return &out, nil
}

// Detail fetches the full record for one call code. Returns ErrNotFound when
// the remote reports no such call.
func (c *Client) Detail(ctx context.Context, code string) (*CallDetail, error) {
	q := url.Values{}
	q.Set("numConv", code)

	body, status, err := c.get(ctx, "/convocatorias", q)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, &FetchError{Op: "detail", Page: -1, StatusCode: status, Err: err}
	}

	var out CallDetail
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &FetchError{Op: "detail", Page: -1, StatusCode: status, Err: fmt.Errorf("decode: %w", err)}
	}
	if out.ID == 0 && out.Code == "" {
		return nil, ErrNotFound
	}
	out.Raw = json.RawMessage(body)
	return &out, nil
}

// DownloadDocument streams one attachment. The caller must close the reader.
func (c *Client) DownloadDocument(ctx context.Context, documentID int64) (io.ReadCloser, string, error) {
	q := url.Values{}
	q.Set("idDocumento", strconv.FormatInt(documentID, 10))

	u := c.baseURL + "/convocatorias/documentos?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", &FetchError{Op: "document", Page: -1, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &FetchError{Op: "document", Page: -1, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, "", ErrNotFound
		}
		return nil, "", &FetchError{Op: "document", Page: -1, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, int, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}

// Package spinshare provides a client for the SpinShare API.
package spinshare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mholt/archives"
	zlog "github.com/rs/zerolog/log"
)

// Sentinel errors for the upstream taxonomy.
var (
	// ErrTimeout indicates the upstream request was cancelled or timed out.
	ErrTimeout = errors.New("spinshare API request timed out")
	// ErrNotFound indicates the requested chart does not exist upstream.
	ErrNotFound = errors.New("chart does not exist")
)

// Client is a SpinShare API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config represents SpinShare client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Song represents a search result entry. Search results carry incomplete
// metadata; callers should re-fetch full detail by ID.
type Song struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// APIDate represents SpinShare's serialized timestamp object.
// The timezone field is unreliable (often null); SpinShare stores times
// in Europe/Berlin regardless.
type APIDate struct {
	Date     string  `json:"date"`
	Timezone *string `json:"timezone"`
}

// SongDetail represents the full chart detail payload.
type SongDetail struct {
	ID            int      `json:"id"`
	Title         string   `json:"title"`
	Subtitle      string   `json:"subtitle"`
	Artist        string   `json:"artist"`
	Charter       string   `json:"charter"`
	FileReference string   `json:"fileReference"`
	UploadDate    APIDate  `json:"uploadDate"`
	UpdateDate    *APIDate `json:"updateDate"`

	// The rating fields are only meaningful when the paired has* boolean
	// is set; the API sometimes reports 0 for charts a tier doesn't have.
	HasEasyDifficulty   bool `json:"hasEasyDifficulty"`
	EasyDifficulty      int  `json:"easyDifficulty"`
	HasNormalDifficulty bool `json:"hasNormalDifficulty"`
	NormalDifficulty    int  `json:"normalDifficulty"`
	HasHardDifficulty   bool `json:"hasHardDifficulty"`
	HardDifficulty      int  `json:"hardDifficulty"`
	HasExpertDifficulty bool `json:"hasExpertDifficulty"`
	ExpertDifficulty    int  `json:"expertDifficulty"`
	HasXDDifficulty     bool `json:"hasXDDifficulty"`
	XDDifficulty        int  `json:"XDDifficulty"`
}

// searchEnvelope represents the response envelope for searchCharts.
type searchEnvelope struct {
	Status int `json:"status"`
	Data   struct {
		Songs []Song `json:"songs"`
	} `json:"data"`
}

// detailEnvelope represents the response envelope for song detail.
type detailEnvelope struct {
	Status int        `json:"status"`
	Data   SongDetail `json:"data"`
}

// New creates a new SpinShare client.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://spinsha.re/api/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Search performs a free-text chart search.
// An empty slice means no results; it is not an error.
func (c *Client) Search(ctx context.Context, query string) ([]Song, error) {
	reqURL := fmt.Sprintf("%s/searchCharts/%s", c.baseURL, url.PathEscape(query))

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var envelope searchEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to parse search response")
	}

	if envelope.Status != http.StatusOK {
		zlog.Debug().Int("status", envelope.Status).Msg("search envelope status was not 200")
		return nil, nil
	}

	return envelope.Data.Songs, nil
}

// GetSongDetail fetches the full detail for a chart by its catalog ID.
// A malformed detail body maps to ErrNotFound: SpinShare answers requests
// for nonexistent IDs with a payload that does not deserialize.
func (c *Client) GetSongDetail(ctx context.Context, id int) (*SongDetail, error) {
	reqURL := fmt.Sprintf("%s/song/%d", c.baseURL, id)

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var envelope detailEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to parse detail for chart %d", id), ErrNotFound)
	}
	if envelope.Data.FileReference == "" {
		return nil, errors.Mark(errors.Newf("chart %d has no file reference", id), ErrNotFound)
	}

	return &envelope.Data, nil
}

// DownloadChart downloads a chart's zip bundle and extracts it into destDir.
func (c *Client) DownloadChart(ctx context.Context, id int, destDir string) error {
	reqURL := fmt.Sprintf("%s/song/%d/download", c.baseURL, id)

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return err
	}

	zip := archives.Zip{}
	err = zip.Extract(ctx, bytes.NewReader(body), func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() {
			return os.MkdirAll(filepath.Join(destDir, f.NameInArchive), 0755)
		}

		src, err := f.Open()
		if err != nil {
			return errors.Wrapf(err, "failed to open %s in archive", f.NameInArchive)
		}
		defer func(src fs.File) { _ = src.Close() }(src)

		target := filepath.Join(destDir, f.NameInArchive)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory for %s", target)
		}

		dst, err := os.Create(target)
		if err != nil {
			return errors.Wrapf(err, "failed to create %s", target)
		}
		defer func(dst *os.File) { _ = dst.Close() }(dst)

		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to extract chart %d", id)
	}

	zlog.Info().Int("chart", id).Str("dest", destDir).Msg("downloaded and extracted chart")
	return nil
}

// get performs a GET request and returns the response body, mapping
// cancellation and timeouts to ErrTimeout.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || isClientTimeout(err) {
			return nil, errors.Mark(err, ErrTimeout)
		}
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	return body, nil
}

// isClientTimeout reports whether err is an http.Client deadline error.
func isClientTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

// ParseAPIDate parses a SpinShare timestamp in the Europe/Berlin zone.
func ParseAPIDate(d APIDate) (time.Time, error) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		loc = time.UTC
	}

	for _, layout := range []string{
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, d.Date, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf("unrecognized timestamp format: %q", d.Date)
}

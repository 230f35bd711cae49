// Package objectstore copies journal photos into an S3-compatible bucket.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"time"

	"example.com/personaldata/internal/pacing"
)

const (
	// DefaultImageBase serves original-size journal photos by id.
	DefaultImageBase = "https://m.ftscrt.com/food/"
	// PhotoSuffix is appended to photo ids for both the source URL and the object key.
	PhotoSuffix = "_original.jpg"
	// PostDatePartition names the key partition holding the post date.
	PostDatePartition = "post_date"

	contentTypeJPEG = "image/jpeg"
)

// Store is the subset of bucket operations the uploader needs.
type Store interface {
	EnsureBucket(ctx context.Context) error
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// PhotoRef identifies one photo and the day it was posted.
type PhotoRef struct {
	ID       string    `json:"id"`
	PostDate time.Time `json:"post_date"`
	URL      string    `json:"url,omitempty"`
}

// SourceURL returns URL or the default location derived from ID.
func (p PhotoRef) SourceURL() string {
	if p.URL != "" {
		return p.URL
	}
	return DefaultImageBase + p.ID + PhotoSuffix
}

type manifestEntry struct {
	ID       string `json:"id"`
	PostDate string `json:"post_date"`
	URL      string `json:"url,omitempty"`
}

// LoadManifest reads a JSON array of {"id", "post_date" (YYYY-MM-DD), "url"} objects.
func LoadManifest(path string) ([]PhotoRef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var entries []manifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	refs := make([]PhotoRef, 0, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("manifest entry %d: id is required", i)
		}
		day, err := time.Parse(time.DateOnly, e.PostDate)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %d: post_date: %w", i, err)
		}
		refs = append(refs, PhotoRef{ID: e.ID, PostDate: day, URL: e.URL})
	}
	return refs, nil
}

// UploadReport counts what happened to each ref.
type UploadReport struct {
	Total    int   `json:"total"`
	Uploaded int   `json:"uploaded"`
	Existing int   `json:"existing"`
	Failed   int   `json:"failed"`
	Err      error `json:"-"`
}

// Uploader streams photos from their source URL into a Store.
type Uploader struct {
	store      Store
	prefix     string
	delay      time.Duration
	httpClient *http.Client
	sleep      pacing.SleepFunc
	logger     *log.Logger
}

// UploaderOption customises an Uploader.
type UploaderOption func(*Uploader)

// WithLogger overrides the uploader logger.
func WithLogger(logger *log.Logger) UploaderOption {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithHTTPClient replaces the download client.
func WithHTTPClient(c *http.Client) UploaderOption {
	return func(u *Uploader) {
		if c != nil {
			u.httpClient = c
		}
	}
}

// WithSleep replaces the pause between downloads.
func WithSleep(fn pacing.SleepFunc) UploaderOption {
	return func(u *Uploader) {
		if fn != nil {
			u.sleep = fn
		}
	}
}

// NewUploader constructs an Uploader writing under prefix and pausing delay between downloads.
func NewUploader(store Store, prefix string, delay time.Duration, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		store:      store,
		prefix:     prefix,
		delay:      delay,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sleep:      pacing.Sleep,
		logger:     log.New(log.Writer(), "[photosync] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload copies every ref not already in the bucket. Per-photo failures are logged, counted and
// joined into UploadReport.Err; only bucket setup and cancellation abort the run.
func (u *Uploader) Upload(ctx context.Context, refs []PhotoRef) (UploadReport, error) {
	report := UploadReport{Total: len(refs)}
	if err := u.store.EnsureBucket(ctx); err != nil {
		return report, fmt.Errorf("ensure bucket: %w", err)
	}

	sorted := append([]PhotoRef(nil), refs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var errs []error
	for _, ref := range sorted {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		key := Key(u.prefix, PostDatePartition, ref.PostDate.Format(time.DateOnly), ref.ID, PhotoSuffix)

		exists, err := u.store.Exists(ctx, key)
		if err != nil {
			u.logger.Printf("stat %s: %v", key, err)
			photosCounter.WithLabelValues("failed").Inc()
			report.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if exists {
			photosCounter.WithLabelValues("existing").Inc()
			report.Existing++
			continue
		}

		if err := u.copy(ctx, ref.SourceURL(), key); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			u.logger.Printf("upload %s: %v", ref.ID, err)
			photosCounter.WithLabelValues("failed").Inc()
			report.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		} else {
			u.logger.Printf("uploaded %s (%s) -> %s", ref.ID, ref.PostDate.Format(time.DateOnly), key)
			photosCounter.WithLabelValues("uploaded").Inc()
			report.Uploaded++
		}

		if u.delay > 0 {
			if err := u.sleep(ctx, u.delay); err != nil {
				return report, err
			}
		}
	}
	report.Err = errors.Join(errs...)
	return report, nil
}

func (u *Uploader) copy(ctx context.Context, url, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	return u.store.Put(ctx, key, resp.Body, resp.ContentLength, contentTypeJPEG)
}

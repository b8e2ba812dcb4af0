package raster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type StoreConfig struct {
	CacheDir          string
	URLTemplate       string // "https://example.org/dem/{name}/{file}"
	PermitDownload    bool
	HTTPClientTimeout time.Duration

	MaxOpenDEMs int
	File        FileConfig
}

type Meta struct {
	Name   string
	Source string // mem-cache | disk-cache | download | local
	Label  string
}

// Store resolves DEMs by name from a cache directory, downloading missing
// ones when permitted, and keeps recently opened DEMs in memory.
type Store struct {
	cfg  StoreConfig
	http *http.Client

	mu   sync.Mutex
	open *lru.Cache[string, *File]
	// closeErr is the first error from closing an evicted DEM; guarded by mu.
	closeErr error
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("CacheDir required")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, err
	}
	if cfg.MaxOpenDEMs <= 0 {
		cfg.MaxOpenDEMs = 16
	}
	if cfg.HTTPClientTimeout <= 0 {
		cfg.HTTPClientTimeout = 60 * time.Second
	}
	s := &Store{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPClientTimeout},
	}
	// every cache mutation happens under s.mu, so the callback runs under it too
	open, err := lru.NewWithEvict[string, *File](cfg.MaxOpenDEMs, s.evicted)
	if err != nil {
		return nil, err
	}
	s.open = open
	return s, nil
}

// evicted closes a DEM dropped from the open cache.
func (s *Store) evicted(_ string, f *File) {
	if err := f.Close(); err != nil && s.closeErr == nil {
		s.closeErr = err
	}
}

func (s *Store) Config() StoreConfig { return s.cfg }

// Open returns the DEM called name. A name ending in ".json" is treated as a
// label path and opened directly. The File stays usable until the store
// evicts it to make room for another DEM or is closed.
func (s *Store) Open(ctx context.Context, name string) (*File, Meta, error) {
	if name == "" {
		return nil, Meta{}, fmt.Errorf("dem name required")
	}
	meta := Meta{Name: name}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 1) mem
	if f, ok := s.open.Get(name); ok {
		meta.Source = "mem-cache"
		meta.Label = s.labelPath(name)
		return f, meta, nil
	}

	// 2) local label path
	if strings.HasSuffix(name, ".json") {
		f, err := Open(name, s.cfg.File)
		if err != nil {
			return nil, meta, err
		}
		s.open.Add(name, f)
		meta.Source = "local"
		meta.Label = name
		return f, meta, nil
	}

	// 3) disk
	labelPath := s.labelPath(name)
	meta.Label = labelPath
	if f, err := Open(labelPath, s.cfg.File); err == nil {
		s.open.Add(name, f)
		meta.Source = "disk-cache"
		return f, meta, nil
	} else if !os.IsNotExist(err) {
		return nil, meta, err
	}

	// 4) download
	if s.cfg.PermitDownload && s.cfg.URLTemplate != "" {
		if err := s.download(ctx, name); err != nil {
			return nil, meta, err
		}
		f, err := Open(labelPath, s.cfg.File)
		if err != nil {
			return nil, meta, err
		}
		s.open.Add(name, f)
		meta.Source = "download"
		return f, meta, nil
	}

	return nil, meta, fmt.Errorf("dem %q not found and download disabled", name)
}

// Close releases every DEM still held by the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open.Purge()
	err := s.closeErr
	s.closeErr = nil
	return err
}

func (s *Store) labelPath(name string) string {
	return filepath.Join(s.cfg.CacheDir, name, name+".json")
}

func (s *Store) expandURL(name, file string) string {
	r := strings.NewReplacer("{name}", name, "{file}", file)
	return r.Replace(s.cfg.URLTemplate)
}

func (s *Store) download(ctx context.Context, name string) error {
	labelPath := s.labelPath(name)
	if err := os.MkdirAll(filepath.Dir(labelPath), 0o755); err != nil {
		return err
	}
	if err := s.fetch(ctx, s.expandURL(name, filepath.Base(labelPath)), labelPath); err != nil {
		return err
	}
	label, err := ReadLabel(labelPath)
	if err != nil {
		return err
	}
	data := label.Data
	if data == "" {
		data = name + ".dem"
	}
	if filepath.IsAbs(data) || strings.Contains(data, "..") {
		return fmt.Errorf("dem %q: label names unsafe data path %q", name, data)
	}
	return s.fetch(ctx, s.expandURL(name, data), filepath.Join(filepath.Dir(labelPath), data))
}

func (s *Store) fetch(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, url)
	}

	// partial transfers never reach path
	tmp, err := os.CreateTemp(filepath.Dir(path), ".part-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

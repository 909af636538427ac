package registry

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"compintel/internal/config"
	"compintel/internal/fileutil"
	"compintel/internal/logging"
	"compintel/internal/textutil"
)

const maxArchiveBytes = 256 << 20

var cacheHeader = []string{"corp_code", "corp_name", "stock_code", "modify_date"}

// Corp is one registry entry.
type Corp struct {
	Code       string `xml:"corp_code"`
	Name       string `xml:"corp_name"`
	StockCode  string `xml:"stock_code"`
	ModifyDate string `xml:"modify_date"`
}

// Directory indexes registry entries by normalized name.
type Directory struct {
	corps  []Corp
	byName map[string]int

	once     sync.Once
	prints   []*textutil.Fingerprint
	postings map[string][]int
	idf      map[string]float64
	unseen   float64
}

// NewDirectory indexes corps. When two entries share a normalized name the
// first one wins.
func NewDirectory(corps []Corp) *Directory {
	d := &Directory{
		corps:  corps,
		byName: make(map[string]int, len(corps)),
	}
	for i, corp := range corps {
		key := textutil.NormalizeName(corp.Name)
		if key == "" {
			continue
		}
		if _, ok := d.byName[key]; !ok {
			d.byName[key] = i
		}
	}
	return d
}

// Len returns the number of entries.
func (d *Directory) Len() int { return len(d.corps) }

// Lookup returns the entry whose normalized name equals normalized.
func (d *Directory) Lookup(normalized string) (Corp, bool) {
	idx, ok := d.byName[normalized]
	if !ok {
		return Corp{}, false
	}
	return d.corps[idx], true
}

// Candidate is the closest registry entry for a name without an exact match.
type Candidate struct {
	Corp
	// Score is the bigram cosine similarity scaled to 0..100.
	Score int
}

func fuzzyKey(name string) string {
	return textutil.StripCorporateMarkers(textutil.NormalizeName(name))
}

func (d *Directory) buildIndex() {
	d.prints = make([]*textutil.Fingerprint, len(d.corps))
	d.postings = make(map[string][]int)
	corpus := textutil.NewCorpus()
	for i, corp := range d.corps {
		fp := textutil.NewNameFingerprint(fuzzyKey(corp.Name))
		if fp == nil {
			continue
		}
		d.prints[i] = fp
		corpus.Add(fp)
		for _, term := range fp.Terms() {
			d.postings[term] = append(d.postings[term], i)
		}
	}
	d.idf = corpus.IDF()
	d.unseen = corpus.UnseenIDF()
	for i, fp := range d.prints {
		d.prints[i] = fp.WithIDF(d.idf, d.unseen)
	}
}

// BestCandidate returns the entry most similar to name by IDF-weighted bigram
// cosine. Only entries sharing at least one bigram are scored; ties keep the
// earlier entry.
func (d *Directory) BestCandidate(name string) (Candidate, bool) {
	d.once.Do(d.buildIndex)
	query := textutil.NewNameFingerprint(fuzzyKey(name)).WithIDF(d.idf, d.unseen)
	if query == nil {
		return Candidate{}, false
	}
	seen := make(map[int]struct{})
	best, bestScore := -1, 0.0
	for _, term := range query.Terms() {
		for _, idx := range d.postings[term] {
			if _, ok := seen[idx]; ok {
				continue
			}
			seen[idx] = struct{}{}
			score := textutil.CosineSimilarity(query, d.prints[idx])
			if score > bestScore || (score == bestScore && best >= 0 && idx < best) {
				best, bestScore = idx, score
			}
		}
	}
	if best < 0 {
		return Candidate{}, false
	}
	return Candidate{Corp: d.corps[best], Score: int(math.Round(bestScore * 100))}, true
}

// Loader fetches the registry, preferring the local CSV cache.
type Loader struct {
	apiKey    string
	url       string
	cacheFile string
	refresh   bool
	timeout   time.Duration
	client    *http.Client
	logger    *slog.Logger
}

// LoaderOption customizes the loader.
type LoaderOption func(*Loader)

// WithHTTPClient overrides the HTTP client used for the download.
func WithHTTPClient(client *http.Client) LoaderOption {
	return func(l *Loader) {
		if client != nil {
			l.client = client
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader builds a loader from the [registry] settings.
func NewLoader(cfg config.Registry, opts ...LoaderOption) *Loader {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	l := &Loader{
		apiKey:    strings.TrimSpace(cfg.APIKey),
		url:       cfg.CorpCodeURL,
		cacheFile: cfg.CacheFile,
		refresh:   cfg.Refresh,
		timeout:   timeout,
		client:    &http.Client{},
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the registry from the cache file, downloading it when the
// cache is missing or a refresh was requested.
func (l *Loader) Load(ctx context.Context) (*Directory, error) {
	logger := logging.WithContext(ctx, l.logger)
	if !l.refresh && l.cacheFile != "" {
		corps, err := readCache(l.cacheFile)
		switch {
		case err == nil:
			logger.Info("registry cache loaded", logging.String("path", l.cacheFile), logging.Int("entries", len(corps)))
			return NewDirectory(corps), nil
		case !errors.Is(err, os.ErrNotExist):
			logging.WarnWithContext(logger, "registry cache unreadable, downloading", "registry_cache_invalid",
				logging.String("path", l.cacheFile),
				logging.Error(err),
			)
		}
	}

	if l.apiKey == "" {
		return nil, errors.New("registry: api key required (set registry.api_key or DART_API_KEY)")
	}
	corps, err := l.download(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("registry downloaded", logging.Int("entries", len(corps)))
	if l.cacheFile != "" {
		if err := writeCache(l.cacheFile, corps); err != nil {
			logging.WarnWithContext(logger, "registry cache not written", "registry_cache_write_failed",
				logging.String("path", l.cacheFile),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the registry is downloaded again next run"),
			)
		}
	}
	return NewDirectory(corps), nil
}

func (l *Loader) download(ctx context.Context) ([]Corp, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	endpoint, err := url.Parse(l.url)
	if err != nil {
		return nil, fmt.Errorf("registry: parse url: %w", err)
	}
	q := endpoint.Query()
	q.Set("crtfc_key", l.apiKey)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("registry: new request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: download: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes))
	if err != nil {
		return nil, fmt.Errorf("registry: read body: %w", err)
	}
	return parseArchive(body)
}

// apiStatus is the XML body DART returns instead of the archive on errors.
type apiStatus struct {
	Status  string `xml:"status"`
	Message string `xml:"message"`
}

func parseArchive(body []byte) ([]Corp, error) {
	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		var status apiStatus
		if xml.Unmarshal(body, &status) == nil && status.Status != "" {
			return nil, fmt.Errorf("registry: api status %s: %s", status.Status, strings.TrimSpace(status.Message))
		}
		return nil, fmt.Errorf("registry: open archive: %w", err)
	}
	if len(archive.File) == 0 {
		return nil, errors.New("registry: archive is empty")
	}
	f, err := archive.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", archive.File[0].Name, err)
	}
	defer f.Close()
	return decodeCorpList(f)
}

func decodeCorpList(r io.Reader) ([]Corp, error) {
	dec := xml.NewDecoder(r)
	var corps []Corp
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("registry: decode xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "list" {
			continue
		}
		var corp Corp
		if err := dec.DecodeElement(&corp, &start); err != nil {
			return nil, fmt.Errorf("registry: decode entry: %w", err)
		}
		corp.Code = strings.TrimSpace(corp.Code)
		corp.Name = strings.TrimSpace(corp.Name)
		corp.StockCode = strings.TrimSpace(corp.StockCode)
		corp.ModifyDate = strings.TrimSpace(corp.ModifyDate)
		if corp.Name == "" {
			continue
		}
		corps = append(corps, corp)
	}
	if len(corps) == 0 {
		return nil, errors.New("registry: no entries in corp list")
	}
	return corps, nil
}

func writeCache(path string, corps []Corp) error {
	return fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(cacheHeader); err != nil {
			return err
		}
		for _, corp := range corps {
			if err := cw.Write([]string{corp.Code, corp.Name, corp.StockCode, corp.ModifyDate}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func readCache(path string) ([]Corp, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("parse %s: no entries", path)
	}
	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")] = i
	}
	nameIdx, ok := cols["corp_name"]
	if !ok {
		return nil, fmt.Errorf("parse %s: corp_name column missing", path)
	}
	get := func(row []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	corps := make([]Corp, 0, len(records)-1)
	for _, row := range records[1:] {
		if nameIdx >= len(row) || strings.TrimSpace(row[nameIdx]) == "" {
			continue
		}
		corps = append(corps, Corp{
			Code:       get(row, "corp_code"),
			Name:       get(row, "corp_name"),
			StockCode:  get(row, "stock_code"),
			ModifyDate: get(row, "modify_date"),
		})
	}
	return corps, nil
}

package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jkaufmann/scholarsync/internal/model"
)

// csvHeader is the fixed column layout of the CSV backend. List fields are
// JSON-encoded inside their cells for spreadsheet compatibility.
var csvHeader = []string{
	"uri", "message", "url", "user", "created", "source",
	"country", "disciplines", "position_type", "is_verified_job", "duplicate_of",
}

// CSVStorage is a whole-file CSV backend for local runs. Each save merges
// the new batch over the existing rows by URI and rewrites the file.
type CSVStorage struct {
	filename string
}

// NewCSVStorage creates a CSV backend writing to filename.
func NewCSVStorage(filename string) *CSVStorage {
	if filename == "" {
		filename = "phd_positions.csv"
	}
	return &CSVStorage{filename: filename}
}

// SavePosts upserts posts into the CSV file. Existing rows with the same
// URI are replaced by the new submission.
func (s *CSVStorage) SavePosts(_ context.Context, posts []model.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	existing, order := s.readAll()
	for _, p := range posts {
		if _, ok := existing[p.URI]; !ok {
			order = append(order, p.URI)
		}
		existing[p.URI] = p
	}

	f, err := os.Create(s.filename)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", s.filename, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, uri := range order {
		if err := w.Write(postToRow(existing[uri])); err != nil {
			return 0, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return len(posts), nil
}

// ExistingURIs returns the URIs already present in the file. A missing or
// unreadable file yields an empty set.
func (s *CSVStorage) ExistingURIs(_ context.Context) (map[string]struct{}, error) {
	posts, order := s.readAll()
	out := make(map[string]struct{}, len(posts))
	for _, uri := range order {
		out[uri] = struct{}{}
	}
	return out, nil
}

// LastTimestamp returns the max created timestamp in the file, or "".
func (s *CSVStorage) LastTimestamp(_ context.Context) (string, error) {
	posts, _ := s.readAll()
	var latest string
	for _, p := range posts {
		if p.CreatedAt > latest {
			latest = p.CreatedAt
		}
	}
	return latest, nil
}

// readAll loads the current file into a URI-keyed map plus row order.
// Read errors are tolerated: the CSV backend favors proceeding with what
// can be read over failing the run.
func (s *CSVStorage) readAll() (map[string]model.Post, []string) {
	posts := make(map[string]model.Post)
	var order []string

	f, err := os.Open(s.filename)
	if err != nil {
		return posts, order
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil || len(records) < 2 {
		return posts, order
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[name] = i
	}

	for _, row := range records[1:] {
		p := rowToPost(row, col)
		if p.URI == "" {
			continue
		}
		if _, ok := posts[p.URI]; !ok {
			order = append(order, p.URI)
		}
		posts[p.URI] = p
	}
	return posts, order
}

func postToRow(p model.Post) []string {
	row := []string{
		p.URI, p.Message, p.URL, p.UserHandle, p.CreatedAt, p.Source,
		"", "", "", "", "",
	}
	if p.Country != nil {
		row[6] = *p.Country
	}
	if p.Disciplines != nil {
		row[7] = marshalList(p.Disciplines)
	}
	if p.PositionTypes != nil {
		row[8] = marshalList(p.PositionTypes)
	}
	if p.VerifiedJob != nil {
		row[9] = fmt.Sprintf("%t", *p.VerifiedJob)
	}
	if p.DuplicateOf != nil {
		row[10] = *p.DuplicateOf
	}
	return row
}

func rowToPost(row []string, col map[string]int) model.Post {
	get := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	p := model.Post{
		URI:        get("uri"),
		Message:    get("message"),
		URL:        get("url"),
		UserHandle: get("user"),
		CreatedAt:  get("created"),
		Source:     get("source"),
	}
	if v := get("country"); v != "" {
		p.Country = model.StringPtr(v)
	}
	if v := get("disciplines"); v != "" {
		p.Disciplines = unmarshalList(v)
	}
	if v := get("position_type"); v != "" {
		p.PositionTypes = unmarshalList(v)
	}
	switch get("is_verified_job") {
	case "true":
		p.VerifiedJob = model.BoolPtr(true)
	case "false":
		p.VerifiedJob = model.BoolPtr(false)
	}
	if v := get("duplicate_of"); v != "" {
		p.DuplicateOf = model.StringPtr(v)
	}
	return p
}

func marshalList(list []string) string {
	b, err := json.Marshal(list)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalList(cell string) []string {
	var list []string
	if err := json.Unmarshal([]byte(cell), &list); err != nil {
		// Tolerate a bare value written by hand.
		return []string{cell}
	}
	return list
}

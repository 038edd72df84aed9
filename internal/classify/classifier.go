package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/jkaufmann/scholarsync/internal/llm"
)

const isRealJobPrompt = "Is this a real PhD or academic job posting? " +
	"A real job posting should advertise an actual position with application details. " +
	"Exclude: jokes, complaints about job searching, news articles about academia, " +
	"personal announcements (like someone accepting a position), or general discussions. " +
	"Answer only YES or NO."

const metadataPromptTemplate = "Extract metadata from this academic job posting. " +
	"Respond with ONLY a JSON object of this shape: " +
	`{"disciplines": ["..."], "country": "...", "position_type": ["..."]}. ` +
	"disciplines: up to %d entries from this list: %s. " +
	"country: the country of the position, or \"Unknown\". " +
	"position_type: entries from this list: %s."

// metadataSchema validates the shape of the oracle's metadata reply before
// taxonomy normalization. position_type tolerates a bare string; models
// return that occasionally.
const metadataSchema = `{
	"type": "object",
	"properties": {
		"disciplines": {"type": "array", "items": {"type": "string"}},
		"country": {"type": "string"},
		"position_type": {
			"anyOf": [
				{"type": "array", "items": {"type": "string"}},
				{"type": "string"}
			]
		}
	}
}`

// Metadata is the structured classification attached to a verified job.
type Metadata struct {
	Disciplines   []string
	Country       string
	PositionTypes []string
}

// Result is the outcome of classifying one posting.
type Result struct {
	VerifiedJob bool
	Metadata    *Metadata // nil for non-jobs
}

// Classifier filters and categorizes academic job postings via the oracle.
type Classifier struct {
	oracle llm.Client
	schema *gojsonschema.Schema
}

// New creates a Classifier backed by the given oracle client.
func New(oracle llm.Client) (*Classifier, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(metadataSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile metadata schema: %w", err)
	}
	return &Classifier{oracle: oracle, schema: schema}, nil
}

// IsRealJob asks the oracle whether the text is a genuine position
// announcement. Any reply containing YES counts.
func (c *Classifier) IsRealJob(ctx context.Context, text string) (bool, error) {
	reply, err := c.oracle.Classify(ctx, text, isRealJobPrompt)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToUpper(reply), "YES"), nil
}

// Metadata extracts disciplines, country, and position types for a verified
// job. Malformed oracle output yields safe defaults, never an error; the
// only errors surfaced are transport-level ones from the oracle itself.
func (c *Classifier) Metadata(ctx context.Context, text string) (*Metadata, error) {
	prompt := fmt.Sprintf(metadataPromptTemplate,
		MaxDisciplines,
		strings.Join(Disciplines, ", "),
		strings.Join(PositionTypes, ", "))

	reply, err := c.oracle.Classify(ctx, text, prompt)
	if err != nil {
		return nil, err
	}
	return c.parseMetadata(reply), nil
}

func (c *Classifier) parseMetadata(reply string) *Metadata {
	fallback := &Metadata{
		Disciplines:   []string{DefaultDiscipline},
		Country:       DefaultCountry,
		PositionTypes: []string{DefaultPositionType},
	}

	cleaned := llm.CleanJSONBlock(reply)
	if cleaned == "" {
		return fallback
	}

	if res, err := c.schema.Validate(gojsonschema.NewStringLoader(cleaned)); err != nil || !res.Valid() {
		log.Printf("[classify] metadata reply failed schema validation, using defaults")
		return fallback
	}

	var raw struct {
		Disciplines  []string        `json:"disciplines"`
		Country      string          `json:"country"`
		PositionType json.RawMessage `json:"position_type"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		log.Printf("[classify] metadata parse error: %v, using defaults", err)
		return fallback
	}

	country := strings.TrimSpace(raw.Country)
	if country == "" {
		country = DefaultCountry
	}

	return &Metadata{
		Disciplines:   normalizeToTaxonomy(raw.Disciplines, Disciplines, MaxDisciplines, DefaultDiscipline),
		Country:       country,
		PositionTypes: normalizeToTaxonomy(coerceList(raw.PositionType), PositionTypes, len(PositionTypes), DefaultPositionType),
	}
}

// coerceList accepts either a JSON array of strings or a bare string.
func coerceList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	return nil
}

// ClassifyPost runs the full two-step classification: job detection on the
// raw text, then metadata extraction on metadataText (usually the message
// plus bio and embed context). Non-jobs get no metadata.
func (c *Classifier) ClassifyPost(ctx context.Context, text, metadataText string) (*Result, error) {
	isJob, err := c.IsRealJob(ctx, text)
	if err != nil {
		return nil, err
	}
	if !isJob {
		return &Result{VerifiedJob: false}, nil
	}

	if metadataText == "" {
		metadataText = text
	}
	meta, err := c.Metadata(ctx, metadataText)
	if err != nil {
		return nil, err
	}
	return &Result{VerifiedJob: true, Metadata: meta}, nil
}

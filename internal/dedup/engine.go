package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jkaufmann/scholarsync/internal/llm"
	"github.com/jkaufmann/scholarsync/internal/model"
	"github.com/jkaufmann/scholarsync/internal/storage"
)

// Similarity thresholds, tuned experimentally. Pairs at or above
// autoAcceptThreshold are marked without oracle review; pairs between
// llmThreshold and autoAcceptThreshold are escalated to the oracle.
const (
	autoAcceptThreshold = 0.95
	llmThreshold        = 0.25
)

// escalationDelay spaces out oracle calls during escalated verification.
const escalationDelay = 2 * time.Second

const duplicateCheckPrompt = `You are checking whether two academic job postings refer to the SAME position.

Two posts are duplicates if they advertise the same job at the same institution, even if worded differently.
Two posts are NOT duplicates if they are at different institutions, different departments, or different roles.

Respond with ONLY a JSON object:
{"duplicate": true/false, "confidence": 0.0-1.0, "reason": "brief explanation"}`

// Engine marks older stored posts as duplicates when newly saved posts
// advertise the same position. The newest post always wins: the older
// post's duplicate_of is pointed at the new post's URI.
type Engine struct {
	store  storage.DedupBackend
	oracle llm.Client // nil disables the mid-band escalation
	sleep  func(time.Duration)
}

// NewEngine builds a deduplication engine. oracle may be nil, in which case
// only auto-accept matches are marked.
func NewEngine(store storage.DedupBackend, oracle llm.Client) *Engine {
	return &Engine{store: store, oracle: oracle, sleep: time.Sleep}
}

type verdict struct {
	Duplicate  bool    `json:"duplicate"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// verifyPair asks the oracle whether two normalized texts describe the same
// position. Responses wrapped in code fences are tolerated; responses that
// do not parse count as not-duplicate. Provider failures propagate.
func (e *Engine) verifyPair(ctx context.Context, oldText, newText string) (bool, error) {
	pair := fmt.Sprintf("=== POST A ===\n%s\n\n=== POST B ===\n%s\n", oldText, newText)
	resp, err := e.oracle.Classify(ctx, pair, duplicateCheckPrompt)
	if err != nil {
		return false, err
	}

	var v verdict
	if err := json.Unmarshal([]byte(llm.CleanJSONBlock(resp)), &v); err != nil {
		log.Printf("[WARNING] Dedup verdict parse error: %v", err)
		return false, nil
	}
	return v.Duplicate, nil
}

// MarkOldDuplicates compares newly saved posts against the stored canonical
// posts and marks matched old posts as duplicates of their new counterparts.
// It returns how many old posts were marked. Oracle unavailability aborts
// the pass with the provider's error.
func (e *Engine) MarkOldDuplicates(ctx context.Context, newPosts []model.Post) (int, error) {
	// Only verified Bluesky posts take part: ScholarshipDB listings carry
	// synthetic URIs and are pre-verified upstream.
	var fresh []model.Post
	for _, p := range newPosts {
		if p.IsVerifiedJob() && strings.HasPrefix(p.URI, "at://") {
			fresh = append(fresh, p)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	freshURIs := make(map[string]struct{}, len(fresh))
	for _, p := range fresh {
		freshURIs[p.URI] = struct{}{}
	}

	stored, err := e.store.PostsForDedup(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading posts for dedup: %w", err)
	}
	var existing []storage.DedupPost
	for _, p := range stored {
		if _, justSaved := freshURIs[p.URI]; !justSaved {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}

	// Normalize everything up front; posts that normalize to nothing are
	// excluded from comparison.
	type candidate struct {
		idx  int
		text string
	}
	var validNew []candidate
	for i, p := range fresh {
		if t := Normalize(p.Message); t != "" {
			validNew = append(validNew, candidate{i, t})
		}
	}
	var validExisting []candidate
	for i, p := range existing {
		if t := Normalize(p.Message); t != "" {
			validExisting = append(validExisting, candidate{i, t})
		}
	}
	if len(validNew) == 0 || len(validExisting) == 0 {
		return 0, nil
	}

	// One joint TF-IDF space over both corpora keeps the scores comparable.
	docs := make([]string, 0, len(validExisting)+len(validNew))
	for _, c := range validExisting {
		docs = append(docs, c.text)
	}
	for _, c := range validNew {
		docs = append(docs, c.text)
	}
	vec := fitVectorizer(docs)

	existingVecs := make([]map[int]float64, len(validExisting))
	for i, c := range validExisting {
		existingVecs[i] = vec.transform(c.text)
	}

	marked := 0
	for _, nc := range validNew {
		newVec := vec.transform(nc.text)

		bestIdx, bestScore := -1, -1.0
		for i, ev := range existingVecs {
			if s := cosine(newVec, ev); s > bestScore {
				bestIdx, bestScore = i, s
			}
		}
		if bestScore < llmThreshold {
			continue
		}

		oldPost := existing[validExisting[bestIdx].idx]
		newPost := fresh[nc.idx]

		duplicate := false
		switch {
		case bestScore >= autoAcceptThreshold:
			duplicate = true
			log.Printf("[INFO] Auto-dedup (score=%.3f): old=%s new=%s",
				bestScore, truncateURI(oldPost.URI), truncateURI(newPost.URI))
		case e.oracle != nil:
			duplicate, err = e.verifyPair(ctx, validExisting[bestIdx].text, nc.text)
			if err != nil {
				return marked, err
			}
			if duplicate {
				log.Printf("[INFO] Oracle-dedup (score=%.3f): old=%s new=%s",
					bestScore, truncateURI(oldPost.URI), truncateURI(newPost.URI))
			}
			e.sleep(escalationDelay)
		}

		if duplicate {
			if _, err := e.store.MarkDuplicate(ctx, oldPost.URI, newPost.URI); err != nil {
				return marked, fmt.Errorf("marking duplicate %s: %w", truncateURI(oldPost.URI), err)
			}
			marked++
		}
	}

	if marked > 0 {
		log.Printf("[INFO] Marked %d old posts as duplicates of newer posts", marked)
	}
	return marked, nil
}

func truncateURI(uri string) string {
	if len(uri) > 50 {
		return uri[:50] + "..."
	}
	return uri
}

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// QueryOptions are the mode flags that affect both retrieval and the
// idempotency fingerprint.
type QueryOptions struct {
	Rerank     bool
	Verified   bool
	Highlights bool
}

// Query is a user question scoped to a set of sources.
type Query struct {
	Fingerprint string
	Question    string
	SourceIDs   []string
	Options     QueryOptions
}

// NewQuery normalizes question and source_ids and computes the deterministic
// fingerprint used for idempotency lookups.
func NewQuery(question string, sourceIDs []string, opts QueryOptions) Query {
	q := Query{
		Question:  normalizeQuestion(question),
		SourceIDs: sortedCopy(sourceIDs),
		Options:   opts,
	}
	q.Fingerprint = q.computeFingerprint()
	return q
}

func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(q))), " ")
}

func sortedCopy(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}

func (q Query) computeFingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "q=%s\n", q.Question)
	fmt.Fprintf(h, "sources=%s\n", strings.Join(q.SourceIDs, ","))
	fmt.Fprintf(h, "rerank=%t;verified=%t;highlights=%t\n", q.Options.Rerank, q.Options.Verified, q.Options.Highlights)
	return hex.EncodeToString(h.Sum(nil))
}

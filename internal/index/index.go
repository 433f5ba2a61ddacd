// Package index is the full-text half of the on-disk index: a
// BadgerDB key-value store holding one inverted posting list per
// token and one stored document per message, kept in its own
// directory deliberately separate from the relational store's single
// file (see internal/store) so the two can be rebuilt independently.
//
// Grounded on the corpus's BadgerDB wrapper pattern (prefix iteration
// with a separator byte to distinguish an exact key from a longer one
// sharing its prefix); built out here into a small inverted index
// since Badger itself is a plain KV store, not a search engine.
package index

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"unicode"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/fyrsmithlabs/agentsearch/internal/apperr"
	"github.com/fyrsmithlabs/agentsearch/internal/model"
)

// Index is a BadgerDB-backed inverted index, one writer at a time.
type Index struct {
	db *badger.DB
}

// Open opens (or creates) the index directory at dir.
func Open(dir string) (*Index, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nopLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIndexWrite, "index.open", "failed to open full-text index", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying Badger handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Clear drops every document and posting, for a full rebuild.
func (ix *Index) Clear(ctx context.Context) error {
	if err := ix.db.DropAll(); err != nil {
		return apperr.Wrap(apperr.KindIndexWrite, "index.clear", "failed to drop index", err)
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) Errorf(string, ...interface{})   {}
func (nopLogger) Warningf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})    {}
func (nopLogger) Debugf(string, ...interface{})   {}

const (
	docPrefix       = "doc:"
	termPrefix      = "term:"
	titleTermPrefix = "titleterm:"
)

func docKey(convID string, idx int) []byte {
	return []byte(docPrefix + convID + "\x00" + strconv.Itoa(idx))
}

func termKey(token, convID string, idx int) []byte {
	return []byte(termPrefix + token + "\x00" + convID + "\x00" + strconv.Itoa(idx))
}

func titleTermKey(token, convID string, idx int) []byte {
	return []byte(titleTermPrefix + token + "\x00" + convID + "\x00" + strconv.Itoa(idx))
}

// Tokenize lowercases s and splits it into runs of letters/digits,
// dropping everything else. No stemming, no stopword list — this is a
// literal-token index, not a linguistic one.
func Tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// AddConversation deletes any existing documents for c.ID then inserts
// one document per message in c.Messages, staging both the deletes and
// the inserts in one Badger WriteBatch that is flushed once at the end.
func (ix *Index) AddConversation(ctx context.Context, c model.Conversation, workspacePath string) error {
	wb := ix.db.NewWriteBatch()
	defer wb.Cancel()

	if err := ix.deleteConversationInto(c.ID, wb); err != nil {
		return apperr.Wrap(apperr.KindIndexWrite, "index.add_conversation", "failed to clear stale documents", err)
	}

	for _, m := range c.Messages {
		doc := model.IndexDocument{
			SchemaVersion:  model.SchemaVersion,
			ConversationID: c.ID,
			Idx:            m.Idx,
			AgentSlug:      c.AgentSlug,
			Workspace:      workspacePath,
			Role:           m.Role,
			Author:         m.Author,
			CreatedAt:      m.CreatedAt,
			Content:        m.Content,
			Title:          c.Title,
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return apperr.Wrap(apperr.KindIndexWrite, "index.add_conversation", "failed to marshal document", err)
		}
		if err := wb.Set(docKey(c.ID, m.Idx), raw); err != nil {
			return err
		}
		for _, tok := range dedupe(Tokenize(m.Content)) {
			if err := wb.Set(termKey(tok, c.ID, m.Idx), nil); err != nil {
				return err
			}
		}
		for _, tok := range dedupe(Tokenize(c.Title)) {
			if err := wb.Set(titleTermKey(tok, c.ID, m.Idx), nil); err != nil {
				return err
			}
		}
	}

	if err := wb.Flush(); err != nil {
		return apperr.Wrap(apperr.KindIndexWrite, "index.add_conversation", "failed to flush write batch", err)
	}
	return nil
}

// DeleteConversation removes every document (and posting) for
// conversationID.
func (ix *Index) DeleteConversation(ctx context.Context, conversationID string) error {
	wb := ix.db.NewWriteBatch()
	defer wb.Cancel()
	if err := ix.deleteConversationInto(conversationID, wb); err != nil {
		return apperr.Wrap(apperr.KindIndexWrite, "index.delete_conversation", "failed to delete documents", err)
	}
	if err := wb.Flush(); err != nil {
		return apperr.Wrap(apperr.KindIndexWrite, "index.delete_conversation", "failed to flush write batch", err)
	}
	return nil
}

// deleteConversationInto loads every stored document for convID,
// regenerates the exact posting keys its content and title would have
// produced (tokenization is a pure function of that text, so this
// reconstructs the original keys without a separate reverse index),
// and stages deletes for the document and its postings.
func (ix *Index) deleteConversationInto(convID string, wb *badger.WriteBatch) error {
	prefix := []byte(docPrefix + convID + "\x00")
	return ix.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			var doc model.IndexDocument
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				continue // a document we can't parse can't be re-tokenized; skip it
			}
			if err := wb.Delete(key); err != nil {
				return err
			}
			for _, tok := range dedupe(Tokenize(doc.Content)) {
				if err := wb.Delete(termKey(tok, convID, doc.Idx)); err != nil {
					return err
				}
			}
			for _, tok := range dedupe(Tokenize(doc.Title)) {
				if err := wb.Delete(titleTermKey(tok, convID, doc.Idx)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Filters narrows a Search call to a facet. Zero values mean
// "unfiltered" for that facet.
type Filters struct {
	Agents          []string
	WorkspacePrefix string
	Role            string
	Author          string
	CreatedAfter    *int64
	CreatedBefore   *int64
}

type docRef struct {
	convID string
	idx    int
}

func (d docRef) key() []byte { return docKey(d.convID, d.idx) }

// Search parses query with a default conjunctive operator over content
// and title, supporting quoted phrases and trailing-`*` prefix
// wildcards, and the bare empty query (matches everything within
// filters). Filters narrow the candidate set before scoring.
func (ix *Index) Search(ctx context.Context, query string, filters Filters, limit, offset int) ([]model.Hit, error) {
	terms := parseQuery(query)

	var candidates map[string]docRef
	var err error
	if len(terms) == 0 {
		candidates, err = ix.allDocs()
	} else {
		candidates, err = ix.intersectTerms(terms)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIndexWrite, "index.search", "failed to evaluate query", err)
	}

	var hits []model.Hit
	for _, ref := range candidates {
		doc, ok, err := ix.loadDoc(ref)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindIndexWrite, "index.search", "failed to load candidate document", err)
		}
		if !ok || !passesFilters(doc, filters) {
			continue
		}
		if !passesPhraseCheck(doc, terms) {
			continue
		}
		score := scoreDoc(doc, terms)
		hits = append(hits, model.Hit{
			ConversationID: doc.ConversationID,
			Idx:            doc.Idx,
			AgentSlug:      doc.AgentSlug,
			Workspace:      doc.Workspace,
			Role:           doc.Role,
			Score:          score,
			Snippet:        buildSnippet(doc.Content, terms),
			CreatedAt:      doc.CreatedAt,
			Title:          doc.Title,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		ci, cj := hits[i].CreatedAt, hits[j].CreatedAt
		if ci == nil && cj == nil {
			return false
		}
		if ci == nil {
			return false
		}
		if cj == nil {
			return true
		}
		return *ci > *cj
	})

	if offset >= len(hits) {
		return []model.Hit{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(hits) {
		end = len(hits)
	}
	return hits[offset:end], nil
}

func (ix *Index) loadDoc(ref docRef) (model.IndexDocument, bool, error) {
	var doc model.IndexDocument
	err := ix.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ref.key())
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err == badger.ErrKeyNotFound {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, err
	}
	return doc, true, nil
}

func (ix *Index) allDocs() (map[string]docRef, error) {
	out := make(map[string]docRef)
	err := ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(docPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ref, ok := parseDocKey(it.Item().Key())
			if ok {
				out[ref.convID+"\x00"+strconv.Itoa(ref.idx)] = ref
			}
		}
		return nil
	})
	return out, err
}

func parseDocKey(key []byte) (docRef, bool) {
	s := strings.TrimPrefix(string(key), docPrefix)
	parts := strings.SplitN(s, "\x00", 2)
	if len(parts) != 2 {
		return docRef{}, false
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil {
		return docRef{}, false
	}
	return docRef{convID: parts[0], idx: idx}, true
}

// queryTerm is one AND-ed unit of a parsed query.
type queryTerm struct {
	words  []string // tokenized words making up this term (>1 for a phrase)
	phrase string   // non-empty for a quoted phrase: the raw lowercased phrase text
	prefix bool      // true if the (single-word) term ends in '*'
}

func parseQuery(query string) []queryTerm {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	var terms []queryTerm
	runes := []rune(query)
	i := 0
	for i < len(runes) {
		switch {
		case unicode.IsSpace(runes[i]):
			i++
		case runes[i] == '"':
			j := i + 1
			for j < len(runes) && runes[j] != '"' {
				j++
			}
			phrase := string(runes[i+1 : j])
			words := Tokenize(phrase)
			if len(words) > 0 {
				terms = append(terms, queryTerm{words: words, phrase: strings.ToLower(strings.TrimSpace(phrase))})
			}
			i = j + 1
		default:
			j := i
			for j < len(runes) && !unicode.IsSpace(runes[j]) {
				j++
			}
			raw := string(runes[i:j])
			prefix := strings.HasSuffix(raw, "*")
			word := strings.ToLower(strings.TrimSuffix(raw, "*"))
			words := Tokenize(word)
			if len(words) > 0 {
				terms = append(terms, queryTerm{words: []string{words[0]}, prefix: prefix})
			}
			i = j
		}
	}
	return terms
}

func (ix *Index) intersectTerms(terms []queryTerm) (map[string]docRef, error) {
	var result map[string]docRef
	for _, t := range terms {
		matched := make(map[string]docRef)
		for _, w := range t.words {
			set, err := ix.matchWord(w, t.prefix && len(t.words) == 1)
			if err != nil {
				return nil, err
			}
			for k, v := range set {
				matched[k] = v
			}
		}
		if result == nil {
			result = matched
			continue
		}
		for k := range result {
			if _, ok := matched[k]; !ok {
				delete(result, k)
			}
		}
	}
	if result == nil {
		result = map[string]docRef{}
	}
	return result, nil
}

// matchWord returns every doc matching word in either content or
// title. prefix enables trailing-wildcard matching.
func (ix *Index) matchWord(word string, prefix bool) (map[string]docRef, error) {
	out := make(map[string]docRef)
	err := ix.db.View(func(txn *badger.Txn) error {
		scan := func(fieldPrefix string) error {
			var seekPrefix []byte
			if prefix {
				seekPrefix = []byte(fieldPrefix + word)
			} else {
				seekPrefix = []byte(fieldPrefix + word + "\x00")
			}
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(seekPrefix); it.ValidForPrefix(seekPrefix); it.Next() {
				ref, ok := parsePostingKey(it.Item().Key(), fieldPrefix)
				if ok {
					out[ref.convID+"\x00"+strconv.Itoa(ref.idx)] = ref
				}
			}
			return nil
		}
		if err := scan(termPrefix); err != nil {
			return err
		}
		return scan(titleTermPrefix)
	})
	return out, err
}

func parsePostingKey(key []byte, fieldPrefix string) (docRef, bool) {
	s := strings.TrimPrefix(string(key), fieldPrefix)
	parts := strings.SplitN(s, "\x00", 3)
	if len(parts) != 3 {
		return docRef{}, false
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil {
		return docRef{}, false
	}
	return docRef{convID: parts[1], idx: idx}, true
}

func passesFilters(doc model.IndexDocument, f Filters) bool {
	if len(f.Agents) > 0 {
		found := false
		for _, a := range f.Agents {
			if a == doc.AgentSlug {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.WorkspacePrefix != "" && !strings.HasPrefix(doc.Workspace, f.WorkspacePrefix) {
		return false
	}
	if f.Role != "" && string(doc.Role) != f.Role {
		return false
	}
	if f.Author != "" && doc.Author != f.Author {
		return false
	}
	if f.CreatedAfter != nil && (doc.CreatedAt == nil || *doc.CreatedAt < *f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && (doc.CreatedAt == nil || *doc.CreatedAt > *f.CreatedBefore) {
		return false
	}
	return true
}

// passesPhraseCheck rejects a candidate that only matched a phrase's
// words independently but doesn't contain the phrase as written.
func passesPhraseCheck(doc model.IndexDocument, terms []queryTerm) bool {
	for _, t := range terms {
		if t.phrase == "" {
			continue
		}
		content := strings.ToLower(doc.Content)
		title := strings.ToLower(doc.Title)
		if !strings.Contains(content, t.phrase) && !strings.Contains(title, t.phrase) {
			return false
		}
	}
	return true
}

func scoreDoc(doc model.IndexDocument, terms []queryTerm) float64 {
	if len(terms) == 0 {
		return 1.0
	}
	content := strings.ToLower(doc.Content)
	title := strings.ToLower(doc.Title)
	var score float64
	for _, t := range terms {
		for _, w := range t.words {
			if strings.Contains(title, w) {
				score += 2.0
			}
			if strings.Contains(content, w) {
				score += 1.0
			}
		}
	}
	return score
}

// maxSnippetWindows bounds how many separate match windows a snippet
// can stitch together.
const maxSnippetWindows = 2

// snippetRadius is how many bytes of context surround each match.
const snippetRadius = 80

func buildSnippet(content string, terms []queryTerm) string {
	if len(terms) == 0 {
		return shortSnippet(content)
	}
	lower := strings.ToLower(content)
	var windows []string
	used := 0
	for _, t := range terms {
		if used >= maxSnippetWindows {
			break
		}
		needle := t.phrase
		if needle == "" && len(t.words) > 0 {
			needle = t.words[0]
		}
		if needle == "" {
			continue
		}
		pos := strings.Index(lower, needle)
		if pos < 0 {
			continue
		}
		start := pos - snippetRadius
		if start < 0 {
			start = 0
		}
		end := pos + len(needle) + snippetRadius
		if end > len(content) {
			end = len(content)
		}
		start = backToRuneBoundary(content, start)
		end = forwardToRuneBoundary(content, end)
		windows = append(windows, strings.TrimSpace(content[start:end]))
		used++
	}
	if len(windows) == 0 {
		return shortSnippet(content)
	}
	return strings.Join(windows, " ... ")
}

func shortSnippet(content string) string {
	const max = 160
	if len(content) <= max {
		return content
	}
	end := forwardToRuneBoundary(content, max)
	return content[:end] + "..."
}

func backToRuneBoundary(s string, i int) int {
	for i > 0 && !isRuneStart(s[i]) {
		i--
	}
	return i
}

func forwardToRuneBoundary(s string, i int) int {
	for i < len(s) && !isRuneStart(s[i]) {
		i++
	}
	return i
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// encodeCreatedAt big-endian-encodes a millisecond timestamp so
// lexicographic byte order matches numeric order, for potential future
// range-scanned facet indexes. Nothing calls it: the current search path
// filters after loading each document.
func encodeCreatedAt(ts int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ts))
	return b
}

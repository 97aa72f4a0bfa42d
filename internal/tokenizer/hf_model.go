package tokenizer

import (
	"bytes"
	"container/heap"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

type hfModelImpl interface {
	kind() string
	tokenize(word string) ([]int, error)
	tokenID(tok string) (int, bool)
}

func buildModel(m *hfModel) (hfModelImpl, map[string]int, error) {
	typ := m.Type
	if typ == "" {
		switch {
		case len(bytes.TrimSpace(m.Merges)) > 0 && !bytes.Equal(bytes.TrimSpace(m.Merges), []byte("null")):
			typ = "BPE"
		case bytes.HasPrefix(bytes.TrimSpace(m.Vocab), []byte("[")):
			typ = "Unigram"
		default:
			typ = "WordPiece"
		}
	}

	switch typ {
	case "WordPiece":
		return newWordPiece(m)
	case "BPE":
		return newBPE(m)
	case "Unigram":
		return newUnigram(m)
	default:
		return nil, nil, fmt.Errorf("unsupported model type %q", typ)
	}
}

func decodeVocabMap(raw json.RawMessage) (map[string]int, error) {
	var vocab map[string]int
	if err := json.Unmarshal(raw, &vocab); err != nil {
		return nil, fmt.Errorf("decode vocab: %w", err)
	}

	if len(vocab) == 0 {
		return nil, errors.New("model vocab is empty")
	}

	return vocab, nil
}

func strOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// ---------------------------------------------------------------------------
// WordPiece
// ---------------------------------------------------------------------------

type wordPiece struct {
	vocab    map[string]int
	unkID    int
	hasUnk   bool
	prefix   string
	maxChars int
}

func newWordPiece(m *hfModel) (hfModelImpl, map[string]int, error) {
	vocab, err := decodeVocabMap(m.Vocab)
	if err != nil {
		return nil, nil, err
	}

	wp := &wordPiece{
		vocab:    vocab,
		prefix:   strOr(m.ContinuingSubwordPrefix, "##"),
		maxChars: m.MaxInputCharsPerWord,
	}
	if wp.maxChars <= 0 {
		wp.maxChars = 100
	}

	wp.unkID, wp.hasUnk = vocab[strOr(m.UnkToken, "[UNK]")]

	return wp, vocab, nil
}

func (w *wordPiece) kind() string { return "WordPiece" }

func (w *wordPiece) tokenID(tok string) (int, bool) {
	id, ok := w.vocab[tok]
	return id, ok
}

func (w *wordPiece) unknown() ([]int, error) {
	if !w.hasUnk {
		return nil, errors.New("wordpiece: word cannot be tokenized and model has no unk token")
	}
	return []int{w.unkID}, nil
}

// tokenize does greedy longest-match-first; any unmatched remainder turns the
// whole word into the unknown token.
func (w *wordPiece) tokenize(word string) ([]int, error) {
	runes := []rune(word)
	if len(runes) > w.maxChars {
		return w.unknown()
	}

	var ids []int

	for start := 0; start < len(runes); {
		end := len(runes)
		found := -1

		for start < end {
			sub := string(runes[start:end])
			if start > 0 {
				sub = w.prefix + sub
			}
			if id, ok := w.vocab[sub]; ok {
				found = id
				break
			}
			end--
		}

		if found < 0 {
			return w.unknown()
		}

		ids = append(ids, found)
		start = end
	}

	return ids, nil
}

// ---------------------------------------------------------------------------
// BPE
// ---------------------------------------------------------------------------

type mergeInfo struct {
	rank  int
	newID int
}

type bpe struct {
	vocab        map[string]int
	merges       map[[2]int]mergeInfo
	unkID        int
	hasUnk       bool
	fuseUnk      bool
	byteFallback bool
	ignoreMerges bool
	prefix       string
	suffix       string
}

func newBPE(m *hfModel) (hfModelImpl, map[string]int, error) {
	vocab, err := decodeVocabMap(m.Vocab)
	if err != nil {
		return nil, nil, err
	}

	pairs, err := decodeMerges(m.Merges)
	if err != nil {
		return nil, nil, err
	}

	b := &bpe{
		vocab:        vocab,
		merges:       make(map[[2]int]mergeInfo, len(pairs)),
		fuseUnk:      m.FuseUnk,
		byteFallback: m.ByteFallback,
		ignoreMerges: m.IgnoreMerges,
		prefix:       strOr(m.ContinuingSubwordPrefix, ""),
		suffix:       strOr(m.EndOfWordSuffix, ""),
	}

	if m.UnkToken != nil {
		b.unkID, b.hasUnk = vocab[*m.UnkToken]
	}

	for rank, p := range pairs {
		a, okA := vocab[p[0]]
		c, okC := vocab[p[1]]
		if !okA || !okC {
			return nil, nil, fmt.Errorf("merge %d (%q %q) references unknown token", rank, p[0], p[1])
		}

		merged := p[0] + strings.TrimPrefix(p[1], b.prefix)
		newID, ok := vocab[merged]
		if !ok {
			return nil, nil, fmt.Errorf("merge %d produces unknown token %q", rank, merged)
		}

		key := [2]int{a, c}
		if _, dup := b.merges[key]; !dup {
			b.merges[key] = mergeInfo{rank: rank, newID: newID}
		}
	}

	return b, vocab, nil
}

// decodeMerges accepts both the legacy "a b" string form and the [a, b] pair form.
func decodeMerges(raw json.RawMessage) ([][2]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var asStrings []string
	if err := json.Unmarshal(raw, &asStrings); err == nil {
		out := make([][2]string, 0, len(asStrings))
		for i, s := range asStrings {
			a, c, ok := strings.Cut(s, " ")
			if !ok {
				return nil, fmt.Errorf("merge %d: %q is not a pair", i, s)
			}
			out = append(out, [2]string{a, c})
		}
		return out, nil
	}

	var asPairs [][]string
	if err := json.Unmarshal(raw, &asPairs); err != nil {
		return nil, fmt.Errorf("decode merges: %w", err)
	}

	out := make([][2]string, 0, len(asPairs))
	for i, p := range asPairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("merge %d: want 2 elements, got %d", i, len(p))
		}
		out = append(out, [2]string{p[0], p[1]})
	}

	return out, nil
}

func (b *bpe) kind() string { return "BPE" }

func (b *bpe) tokenID(tok string) (int, bool) {
	id, ok := b.vocab[tok]
	return id, ok
}

func (b *bpe) tokenize(word string) ([]int, error) {
	if b.ignoreMerges {
		if id, ok := b.vocab[word]; ok {
			return []int{id}, nil
		}
	}

	ids, err := b.initialSymbols(word)
	if err != nil {
		return nil, err
	}

	return b.mergeAll(ids), nil
}

// mergeCandidate is a queued merge of the symbol at pos with its right
// neighbour. left and right record the pair at push time so stale entries
// can be recognised after neighbouring merges.
type mergeCandidate struct {
	rank, pos   int
	left, right int
	newID       int
}

type mergeQueue []mergeCandidate

func (q mergeQueue) Len() int { return len(q) }

func (q mergeQueue) Less(i, j int) bool {
	if q[i].rank != q[j].rank {
		return q[i].rank < q[j].rank
	}
	return q[i].pos < q[j].pos
}

func (q mergeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *mergeQueue) Push(x any) { *q = append(*q, x.(mergeCandidate)) }

func (q *mergeQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

// mergeAll applies the lowest-ranked merge, leftmost first, until none
// applies. Symbols form a doubly linked list over ids so each merge is
// O(log n).
func (b *bpe) mergeAll(ids []int) []int {
	if len(ids) < 2 {
		return ids
	}

	n := len(ids)
	prev := make([]int, n)
	next := make([]int, n)
	for i := range ids {
		prev[i] = i - 1
		next[i] = i + 1
	}
	next[n-1] = -1

	q := make(mergeQueue, 0, n)
	push := func(pos int) {
		if pos < 0 || next[pos] < 0 {
			return
		}
		l, r := ids[pos], ids[next[pos]]
		if mi, ok := b.merges[[2]int{l, r}]; ok {
			heap.Push(&q, mergeCandidate{rank: mi.rank, pos: pos, left: l, right: r, newID: mi.newID})
		}
	}

	for i := 0; i+1 < n; i++ {
		push(i)
	}

	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}

	for q.Len() > 0 {
		c := heap.Pop(&q).(mergeCandidate)
		if !alive[c.pos] || next[c.pos] < 0 {
			continue
		}
		right := next[c.pos]
		if ids[c.pos] != c.left || ids[right] != c.right {
			continue
		}

		ids[c.pos] = c.newID
		alive[right] = false
		next[c.pos] = next[right]
		if next[right] >= 0 {
			prev[next[right]] = c.pos
		}

		push(prev[c.pos])
		push(c.pos)
	}

	out := make([]int, 0, n)
	for i := 0; i >= 0; i = next[i] {
		out = append(out, ids[i])
	}

	return out
}

func (b *bpe) initialSymbols(word string) ([]int, error) {
	runes := []rune(word)
	ids := make([]int, 0, len(runes))
	lastUnk := false

	for i, r := range runes {
		sym := string(r)
		if i > 0 {
			sym = b.prefix + sym
		}
		if i == len(runes)-1 {
			sym += b.suffix
		}

		if id, ok := b.vocab[sym]; ok {
			ids = append(ids, id)
			lastUnk = false
			continue
		}

		if b.byteFallback {
			if fb, ok := b.fallbackBytes(string(r)); ok {
				ids = append(ids, fb...)
				lastUnk = false
				continue
			}
		}

		if !b.hasUnk {
			return nil, fmt.Errorf("bpe: symbol %q not in vocabulary and model has no unk token", sym)
		}

		if !(b.fuseUnk && lastUnk) {
			ids = append(ids, b.unkID)
		}
		lastUnk = true
	}

	return ids, nil
}

func (b *bpe) fallbackBytes(s string) ([]int, bool) {
	out := make([]int, 0, len(s))
	for i := 0; i < len(s); i++ {
		id, ok := b.vocab[byteToken(s[i])]
		if !ok {
			return nil, false
		}
		out = append(out, id)
	}
	return out, true
}

// ---------------------------------------------------------------------------
// Unigram
// ---------------------------------------------------------------------------

const unigramUnkPenalty = 10.0

type unigram struct {
	vocab        map[string]int
	scores       []float64
	unkID        int
	hasUnk       bool
	byteFallback bool
	maxLen       int // longest piece, in runes
	minScore     float64
}

func newUnigram(m *hfModel) (hfModelImpl, map[string]int, error) {
	var entries [][]any
	if err := json.Unmarshal(m.Vocab, &entries); err != nil {
		return nil, nil, fmt.Errorf("decode unigram vocab: %w", err)
	}

	if len(entries) == 0 {
		return nil, nil, errors.New("model vocab is empty")
	}

	u := &unigram{
		vocab:        make(map[string]int, len(entries)),
		scores:       make([]float64, len(entries)),
		byteFallback: m.ByteFallback,
		minScore:     math.Inf(1),
	}

	for i, e := range entries {
		if len(e) != 2 {
			return nil, nil, fmt.Errorf("unigram vocab entry %d: want [piece, score]", i)
		}

		piece, ok := e[0].(string)
		if !ok {
			return nil, nil, fmt.Errorf("unigram vocab entry %d: piece is not a string", i)
		}

		score, ok := e[1].(float64)
		if !ok {
			return nil, nil, fmt.Errorf("unigram vocab entry %d: score is not a number", i)
		}

		u.vocab[piece] = i
		u.scores[i] = score
		u.minScore = math.Min(u.minScore, score)
		u.maxLen = max(u.maxLen, utf8.RuneCountInString(piece))
	}

	if m.UnkID != nil {
		if *m.UnkID < 0 || *m.UnkID >= len(entries) {
			return nil, nil, fmt.Errorf("unk_id %d out of range", *m.UnkID)
		}
		u.unkID, u.hasUnk = *m.UnkID, true
	}

	return u, u.vocab, nil
}

func (u *unigram) kind() string { return "Unigram" }

func (u *unigram) tokenID(tok string) (int, bool) {
	id, ok := u.vocab[tok]
	return id, ok
}

type lattice struct {
	score float64
	start int
	id    int
	set   bool
}

// tokenize runs Viterbi over rune positions. Characters no piece covers become
// the unknown token (consecutive unknowns fused) or byte pieces.
func (u *unigram) tokenize(word string) ([]int, error) {
	runes := []rune(word)
	n := len(runes)
	best := make([]lattice, n+1)
	best[0].set = true

	unkScore := u.minScore - unigramUnkPenalty

	for end := 1; end <= n; end++ {
		for start := max(0, end-u.maxLen); start < end; start++ {
			if !best[start].set {
				continue
			}

			id, ok := u.vocab[string(runes[start:end])]
			if !ok {
				continue
			}

			score := best[start].score + u.scores[id]
			if !best[end].set || score > best[end].score {
				best[end] = lattice{score: score, start: start, id: id, set: true}
			}
		}

		// Single unknown character.
		if best[end-1].set {
			score := best[end-1].score + unkScore
			if !best[end].set || score > best[end].score {
				best[end] = lattice{score: score, start: end - 1, id: -1, set: true}
			}
		}
	}

	type piece struct {
		id   int
		text string
	}

	var rev []piece
	for pos := n; pos > 0; pos = best[pos].start {
		rev = append(rev, piece{id: best[pos].id, text: string(runes[best[pos].start:pos])})
	}

	var ids []int
	lastUnk := false

	for i := len(rev) - 1; i >= 0; i-- {
		p := rev[i]
		if p.id >= 0 {
			ids = append(ids, p.id)
			lastUnk = false
			continue
		}

		if u.byteFallback {
			if fb, ok := u.fallbackBytes(p.text); ok {
				ids = append(ids, fb...)
				lastUnk = false
				continue
			}
		}

		if !u.hasUnk {
			return nil, fmt.Errorf("unigram: %q not in vocabulary and model has no unk_id", p.text)
		}

		if !lastUnk {
			ids = append(ids, u.unkID)
		}
		lastUnk = true
	}

	return ids, nil
}

func (u *unigram) fallbackBytes(s string) ([]int, bool) {
	out := make([]int, 0, len(s))
	for i := 0; i < len(s); i++ {
		id, ok := u.vocab[byteToken(s[i])]
		if !ok {
			return nil, false
		}
		out = append(out, id)
	}
	return out, true
}

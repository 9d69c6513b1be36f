package memory

import (
	"context"
	"sort"
	"time"

	"github.com/duplex-voice-lab/internal/logging"
)

// RetrievalError is non-fatal: the turn that triggered it simply proceeds
// without injected context.
type RetrievalError struct {
	Stage string
	Err   error
}

func (e *RetrievalError) Error() string { return "retrieval " + e.Stage + ": " + e.Err.Error() }
func (e *RetrievalError) Unwrap() error { return e.Err }

// Retriever runs the two-stage memory filter: vector retrieval with
// composite scoring, then an independent relevance/importance judgment.
// Similarity alone never earns injection; the judge can veto any candidate.
type Retriever struct {
	store   Store
	embed   Embedder
	judge   Judge
	weights Weights

	topK        int
	maxApproved int

	now func() time.Time
}

// NewRetriever wires the retrieval pipeline. topK is the vector-search
// breadth (typically ~15); maxApproved caps injection (3).
func NewRetriever(store Store, embed Embedder, judge Judge, weights Weights, topK, maxApproved int) *Retriever {
	if topK <= 0 {
		topK = 15
	}
	if maxApproved <= 0 {
		maxApproved = 3
	}
	return &Retriever{
		store:       store,
		embed:       embed,
		judge:       judge,
		weights:     weights,
		topK:        topK,
		maxApproved: maxApproved,
		now:         time.Now,
	}
}

// Retrieve embeds the utterance, pulls the topK similar memories, scores
// them, and passes them through the judge in score order until maxApproved
// candidates are accepted. A judge error on one candidate drops that
// candidate only; errors at the embed or search stage fail the whole
// retrieval.
func (r *Retriever) Retrieve(ctx context.Context, utterance, convoContext string) ([]Candidate, error) {
	vec, err := r.embed.Embed(ctx, utterance)
	if err != nil {
		return nil, &RetrievalError{Stage: "embed", Err: err}
	}
	cands, err := r.store.TopK(ctx, vec, r.topK)
	if err != nil {
		return nil, &RetrievalError{Stage: "search", Err: err}
	}
	if len(cands) == 0 {
		return nil, nil
	}

	now := r.now()
	for i := range cands {
		cands[i].Score = r.weights.Composite(cands[i], now)
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })

	approved := make([]Candidate, 0, r.maxApproved)
	for _, c := range cands {
		if len(approved) >= r.maxApproved {
			break
		}
		if ctx.Err() != nil {
			return nil, &RetrievalError{Stage: "judge", Err: ctx.Err()}
		}
		relevant, important, err := r.judge.Judge(ctx, convoContext, c.Text)
		if err != nil {
			logging.Debugw("retriever: judge error, dropping candidate", "candidate_id", c.ID, "err", err)
			continue
		}
		if !relevant || !important {
			continue
		}
		approved = append(approved, c)
	}
	logging.Debugw("retriever: filter complete", "retrieved", len(cands), "approved", len(approved))
	return approved, nil
}

// Texts extracts the injectable texts from approved candidates.
func Texts(cands []Candidate) []string {
	if len(cands) == 0 {
		return nil
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Text
	}
	return out
}

package farm

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/odong444/cap-api/internal/observability"
	"github.com/odong444/cap-api/internal/state"
)

// AddKeywords parses a newline-separated block into keyword records and
// bulk-inserts them, skipping duplicates. Blank lines are ignored.
func (e *Engine) AddKeywords(block string, priority, maxCount int) (int, error) {
	ctx, span := observability.StartSpan(context.Background(), "farm.add_keywords")
	defer span.End()
	if maxCount <= 0 {
		maxCount = 100
	}
	var records []state.KeywordRecord
	for _, line := range strings.Split(block, "\n") {
		kw := strings.TrimSpace(line)
		if kw == "" {
			continue
		}
		records = append(records, state.KeywordRecord{
			Keyword:  kw,
			IsActive: true,
			Priority: priority,
			MaxCount: maxCount,
		})
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("%w: no keywords given", ErrValidation)
	}
	added, err := e.store.InsertKeywords(ctx, records)
	if err != nil {
		return 0, err
	}
	observability.Default.IncCounter("farm_keywords_added_total", nil, float64(added))
	span.SetAttributes(attribute.Int("keywords.added", added))
	return added, nil
}

// ClaimKeyword hands out the highest-priority pending keyword and marks it
// collecting. state.ErrNoPending means the keyword queue is drained.
func (e *Engine) ClaimKeyword() (state.KeywordRecord, error) {
	ctx, span := observability.StartSpan(context.Background(), "farm.claim_keyword")
	defer span.End()
	kw, err := e.store.ClaimKeyword(ctx)
	if err != nil {
		return state.KeywordRecord{}, err
	}
	observability.Default.IncCounter("farm_keyword_claims_total", nil, 1)
	span.SetAttributes(attribute.String("keyword", kw.Keyword))
	return kw, nil
}

// ReportKeywordProgress records how many items a collector has gathered so
// far. Reaching max_count is reported through CompleteKeyword, not here.
func (e *Engine) ReportKeywordProgress(id int64, collected int) error {
	if collected < 0 {
		return fmt.Errorf("%w: collected count must be non-negative", ErrValidation)
	}
	return e.store.UpdateKeywordProgress(context.Background(), id, collected)
}

// CompleteKeyword closes out a keyword with its final collected count.
func (e *Engine) CompleteKeyword(id int64, collected int) error {
	ctx, span := observability.StartSpan(context.Background(), "farm.complete_keyword",
		attribute.Int64("keyword.id", id),
	)
	defer span.End()
	if err := e.store.CompleteKeyword(ctx, id, collected); err != nil {
		return err
	}
	observability.Default.IncCounter("farm_keywords_completed_total", nil, 1)
	return nil
}

// ResetKeyword returns a keyword to pending so another collector can pick
// it up, e.g. after a collector crash.
func (e *Engine) ResetKeyword(id int64) error {
	return e.store.ResetKeyword(context.Background(), id)
}

func (e *Engine) ListKeywords(activeOnly bool) ([]state.KeywordRecord, error) {
	return e.store.ListKeywords(context.Background(), activeOnly)
}

// UpdateKeyword overwrites a keyword's tunable fields (priority, max count,
// active flag). The keyword text itself is immutable once queued.
func (e *Engine) UpdateKeyword(kw state.KeywordRecord) error {
	return e.store.UpdateKeyword(context.Background(), kw)
}

func (e *Engine) DeleteKeyword(id int64) error {
	return e.store.DeleteKeyword(context.Background(), id)
}

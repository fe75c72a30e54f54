package history

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Truncate reduces the retained turns so their total estimated token cost
// fits budget. The anchor turn is always kept; the most recent turns are
// kept newest-first while the budget allows; everything older collapses
// into a single synthetic summary turn at the position of the first elided
// turn. Truncating an already-fitting history is a no-op, which makes the
// operation idempotent for a fixed budget.
func (h *History) Truncate(budget int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.totalCostLocked() <= budget {
		return
	}

	anchor := h.turns[0]
	anchorCost := h.turnCost(&anchor)

	// Pick the retained tail newest-first. The summary turn's own cost is
	// settled below by shrinking the tail if needed.
	rest := h.turns[1:]
	tailStart := len(rest)
	acc := 0
	for i := len(rest) - 1; i >= 0; i-- {
		c := h.turnCost(&rest[i])
		if anchorCost+acc+c > budget {
			break
		}
		acc += c
		tailStart = i
	}
	// The loop's premise is deciding based on current state: the newest
	// turn stays even when it alone busts the budget. Its image payload is
	// reduced to a placeholder instead (the text survives).
	if tailStart == len(rest) && len(rest) > 0 {
		tailStart = len(rest) - 1
	}

	for {
		elided := rest[:tailStart]
		tail := rest[tailStart:]

		var summary *Turn
		if len(elided) > 0 {
			s := summarize(elided)
			summary = &s
		}

		retained := make([]Turn, 0, 2+len(tail))
		retained = append(retained, anchor)
		if summary != nil {
			retained = append(retained, *summary)
		}
		retained = append(retained, tail...)

		if h.costOf(retained) <= budget {
			h.turns = retained
			return
		}

		// Over budget: grow the elided range, then degrade the latest
		// turn's image, then drop the summary itself.
		if len(tail) > 1 {
			tailStart++
			continue
		}
		if len(tail) == 1 && tail[0].Image != nil {
			reduced := tail[0]
			reduced.Image = nil
			if reduced.Text == "" {
				reduced.Text = imagePlaceholder
			} else {
				reduced.Text += "\n" + imagePlaceholder
			}
			rest = append(append([]Turn{}, rest[:tailStart]...), reduced)
			tailStart = len(rest) - 1
			continue
		}
		if summary != nil {
			h.turns = append([]Turn{anchor}, tail...)
			return
		}
		// Anchor plus a bare latest turn is the floor.
		h.turns = retained
		return
	}
}

func (h *History) costOf(turns []Turn) int {
	total := 0
	for i := range turns {
		total += h.turnCost(&turns[i])
	}
	return total
}

// summarize collapses an elided range into one synthetic turn. A previous
// summary turn inside the range folds its counts in, so repeated
// truncation never stacks summaries.
func summarize(elided []Turn) Turn {
	omitted := 0
	screenshots := 0
	kindSet := make(map[string]struct{})

	for _, t := range elided {
		if t.Summary {
			omitted += t.Omitted
			screenshots += t.Screenshots
			for _, k := range t.Kinds {
				kindSet[k] = struct{}{}
			}
			continue
		}
		omitted++
		if t.Image != nil {
			screenshots++
		}
		if t.ActionKind != "" {
			kindSet[t.ActionKind] = struct{}{}
		}
	}

	kinds := make([]string, 0, len(kindSet))
	for k := range kindSet {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	return Turn{
		Seq:         elided[0].Seq,
		Role:        RoleUser,
		Text:        summaryText(omitted, screenshots, kinds),
		CreatedAt:   elided[0].CreatedAt,
		Summary:     true,
		Omitted:     omitted,
		Screenshots: screenshots,
		Kinds:       kinds,
	}
}

func summaryText(omitted, screenshots int, kinds []string) string {
	parts := []string{fmt.Sprintf("%d turns omitted", omitted)}
	if screenshots > 0 {
		parts = append(parts, fmt.Sprintf("%d screenshots", screenshots))
	}
	if len(kinds) > 0 {
		titled := make([]string, len(kinds))
		for i, k := range kinds {
			titled[i] = titleCaser.String(k)
		}
		parts = append(parts, "actions: "+strings.Join(titled, ", "))
	}
	return strings.Join(parts, "; ")
}

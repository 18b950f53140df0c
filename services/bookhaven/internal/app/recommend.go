package app

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
)

const (
	topSubjects   = 3
	topCategories = 3
	topTags       = 5
)

// Preferences are the facets drawn from a user's recent activity.
type Preferences struct {
	TopSubjects   []string `json:"topSubjects"`
	TopCategories []string `json:"topCategories"`
	TopTags       []string `json:"topTags"`
}

func (p Preferences) empty() bool {
	return len(p.TopSubjects) == 0 && len(p.TopCategories) == 0 && len(p.TopTags) == 0
}

// Recommendation is a paper with the reason it was suggested.
type Recommendation struct {
	domain.Paper
	Reason string `json:"recommendationReason"`
}

// Recommend suggests approved public papers matching the user's most
// frequent subjects, categories and tags, padded with popular papers when
// there are not enough matches.
func (a *App) Recommend(ctx context.Context, user domain.User, limit int) ([]Recommendation, Preferences, error) {
	if user.ID == "" {
		return nil, Preferences{}, ErrUnauthenticated
	}
	limit = clampLimit(limit, defaultRecommendLimit, maxRecommendLimit)
	history, _, err := a.store.ListActivities(ctx, store.ActivityFilter{UserID: user.ID, Limit: recommendationHistory})
	if err != nil {
		return nil, Preferences{}, fmt.Errorf("load activity: %w", err)
	}
	prefs := preferencesFrom(history)

	var papers []domain.Paper
	if !prefs.empty() {
		papers, err = a.store.ListPapers(ctx, store.PaperFilter{
			PublicApproved: true,
			Subjects:       prefs.TopSubjects,
			Categories:     prefs.TopCategories,
			Tags:           prefs.TopTags,
			Sort:           store.SortPopular,
			Limit:          limit,
		})
		if err != nil {
			return nil, Preferences{}, fmt.Errorf("list matching papers: %w", err)
		}
	}
	if len(papers) < limit {
		exclude := make([]string, 0, len(papers))
		for _, p := range papers {
			exclude = append(exclude, p.ID)
		}
		popular, err := a.store.ListPapers(ctx, store.PaperFilter{
			PublicApproved: true,
			ExcludeIDs:     exclude,
			Sort:           store.SortPopular,
			Limit:          limit - len(papers),
		})
		if err != nil {
			return nil, Preferences{}, fmt.Errorf("list popular papers: %w", err)
		}
		papers = append(papers, popular...)
	}

	out := make([]Recommendation, 0, len(papers))
	for _, p := range papers {
		out = append(out, Recommendation{Paper: p, Reason: recommendationReason(p, prefs)})
	}
	return out, prefs, nil
}

// Preferences exposes the facets Recommend would use for user.
func (a *App) Preferences(ctx context.Context, user domain.User) (Preferences, error) {
	if user.ID == "" {
		return Preferences{}, ErrUnauthenticated
	}
	history, _, err := a.store.ListActivities(ctx, store.ActivityFilter{UserID: user.ID, Limit: recommendationHistory})
	if err != nil {
		return Preferences{}, fmt.Errorf("load activity: %w", err)
	}
	return preferencesFrom(history), nil
}

func preferencesFrom(history []domain.Activity) Preferences {
	var subjects, categories, tags tally
	for _, act := range history {
		subjects.add(act.Subject)
		categories.add(act.Category)
		for _, tag := range act.Tags {
			tags.add(tag)
		}
	}
	return Preferences{
		TopSubjects:   subjects.top(topSubjects),
		TopCategories: categories.top(topCategories),
		TopTags:       tags.top(topTags),
	}
}

// tally counts values and remembers the order they were first seen, which
// breaks ties.
type tally struct {
	counts map[string]int
	order  []string
}

func (t *tally) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	if _, seen := t.counts[v]; !seen {
		t.order = append(t.order, v)
	}
	t.counts[v]++
}

func (t *tally) top(n int) []string {
	ranked := slices.Clone(t.order)
	sort.SliceStable(ranked, func(i, j int) bool { return t.counts[ranked[i]] > t.counts[ranked[j]] })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	if ranked == nil {
		ranked = []string{}
	}
	return ranked
}

func recommendationReason(p domain.Paper, prefs Preferences) string {
	if slices.Contains(prefs.TopSubjects, p.Subject) {
		return "You frequently study " + p.Subject
	}
	if slices.Contains(prefs.TopCategories, p.Category) {
		return "Popular in " + p.Category
	}
	var matching []string
	for _, tag := range p.Tags {
		if slices.Contains(prefs.TopTags, tag) {
			matching = append(matching, tag)
			if len(matching) == 2 {
				break
			}
		}
	}
	if len(matching) > 0 {
		return "Related to " + strings.Join(matching, ", ")
	}
	return "Highly rated by other users"
}

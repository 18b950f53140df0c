package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
)

// MemoryStore keeps every collection in-process. It backs tests and the
// single-binary dev mode.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	papers     map[string]domain.Paper
	paperOrder []string
	activities []domain.Activity
	rewards    map[string]domain.Reward
	rewardSeq  []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]domain.User),
		papers:  make(map[string]domain.Paper),
		rewards: make(map[string]domain.Reward),
	}
}

// SaveUser inserts or replaces a user, keeping (email, role) unique.
func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.users {
		if id != u.ID && existing.Role == u.Role && strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicateEmail
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string, role domain.UserRole) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Role == role && strings.EqualFold(u.Email, email) {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) ListUsers(_ context.Context, role domain.UserRole) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		if role == "" || u.Role == role {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// SavePaper stores or replaces a paper record and tracks insertion order.
func (m *MemoryStore) SavePaper(_ context.Context, p domain.Paper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.papers[p.ID]; !exists {
		m.paperOrder = append(m.paperOrder, p.ID)
	}
	p.Tags = slices.Clone(p.Tags)
	m.papers[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPaper(_ context.Context, id string) (domain.Paper, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.papers[id]
	if ok {
		p.Tags = slices.Clone(p.Tags)
	}
	return p, ok, nil
}

func (m *MemoryStore) ListPapers(_ context.Context, f PaperFilter) ([]domain.Paper, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Paper, 0, len(m.paperOrder))
	for _, id := range m.paperOrder {
		p, ok := m.papers[id]
		if !ok || !matchPaper(p, f) {
			continue
		}
		p.Tags = slices.Clone(p.Tags)
		res = append(res, p)
	}
	sort.SliceStable(res, func(i, j int) bool { return paperLess(res[i], res[j], f.Sort) })
	if f.Offset > 0 {
		if f.Offset >= len(res) {
			return []domain.Paper{}, nil
		}
		res = res[f.Offset:]
	}
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (m *MemoryStore) SetPaperReview(_ context.Context, id string, status domain.PaperStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.IsApproved = status == domain.PaperApproved
	p.RejectionReason = reason
	p.UpdatedAt = time.Now().UTC()
	m.papers[id] = p
	return nil
}

func (m *MemoryStore) UpdatePaperMetadata(_ context.Context, id string, meta PaperMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return ErrNotFound
	}
	p.Title = meta.Title
	p.Subject = meta.Subject
	p.Category = meta.Category
	p.Description = meta.Description
	p.Tags = slices.Clone(meta.Tags)
	p.UpdatedAt = time.Now().UTC()
	m.papers[id] = p
	return nil
}

func (m *MemoryStore) IncrementPaperCounter(_ context.Context, id string, counter PaperCounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return ErrNotFound
	}
	switch counter {
	case CounterDownloads:
		p.DownloadCount++
	case CounterViews:
		p.ViewCount++
	}
	m.papers[id] = p
	return nil
}

func (m *MemoryStore) DeletePaper(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.papers[id]; !ok {
		return false, nil
	}
	delete(m.papers, id)
	m.paperOrder = slices.DeleteFunc(m.paperOrder, func(v string) bool { return v == id })
	return true, nil
}

func (m *MemoryStore) AppendActivity(_ context.Context, a domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Tags = slices.Clone(a.Tags)
	m.activities = append(m.activities, a)
	return nil
}

// ListActivities returns matches newest first along with the total match count.
func (m *MemoryStore) ListActivities(_ context.Context, f ActivityFilter) ([]domain.Activity, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []domain.Activity
	for i := len(m.activities) - 1; i >= 0; i-- {
		a := m.activities[i]
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		a.Tags = slices.Clone(a.Tags)
		matched = append(matched, a)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := int64(len(matched))
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []domain.Activity{}, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	if matched == nil {
		matched = []domain.Activity{}
	}
	return matched, total, nil
}

func (m *MemoryStore) UpdateUploadActivity(_ context.Context, paperID string, meta PaperMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.activities {
		if a.ResourceID != paperID || a.Type != domain.ActivityUpload {
			continue
		}
		a.Title = meta.Title
		a.Subject = meta.Subject
		a.Category = meta.Category
		a.Tags = slices.Clone(meta.Tags)
		m.activities[i] = a
	}
	return nil
}

func (m *MemoryStore) DeleteActivitiesByResource(_ context.Context, resourceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.activities)
	m.activities = slices.DeleteFunc(m.activities, func(a domain.Activity) bool { return a.ResourceID == resourceID })
	return int64(before - len(m.activities)), nil
}

// CreateReward enforces at most one reward per paper.
func (m *MemoryStore) CreateReward(_ context.Context, r domain.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rewards {
		if existing.PaperID == r.PaperID {
			return ErrDuplicateReward
		}
	}
	m.rewards[r.ID] = r
	m.rewardSeq = append(m.rewardSeq, r.ID)
	return nil
}

func (m *MemoryStore) GetReward(_ context.Context, id string) (domain.Reward, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rewards[id]
	return r, ok, nil
}

func (m *MemoryStore) GetRewardByPaper(_ context.Context, paperID string) (domain.Reward, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rewards {
		if r.PaperID == paperID {
			return r, true, nil
		}
	}
	return domain.Reward{}, false, nil
}

// ListRewards returns rewards newest upload first.
func (m *MemoryStore) ListRewards(_ context.Context) ([]domain.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Reward, 0, len(m.rewardSeq))
	for i := len(m.rewardSeq) - 1; i >= 0; i-- {
		if r, ok := m.rewards[m.rewardSeq[i]]; ok {
			res = append(res, r)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].UploadDate.After(res[j].UploadDate) })
	return res, nil
}

func (m *MemoryStore) SetRewardStatus(_ context.Context, id string, status domain.RewardStatus, paidDate *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rewards[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	if paidDate != nil {
		r.PaidDate = paidDate
	}
	m.rewards[id] = r
	return nil
}

func (m *MemoryStore) DeleteRewardsByPaper(_ context.Context, paperID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rewards {
		if r.PaperID == paperID {
			delete(m.rewards, id)
			n++
		}
	}
	m.rewardSeq = slices.DeleteFunc(m.rewardSeq, func(id string) bool {
		_, ok := m.rewards[id]
		return !ok
	})
	return n, nil
}

// WithinTx runs fn directly; the memory store has no transactions.
func (m *MemoryStore) WithinTx(_ context.Context, fn func(Store) error) error {
	return fn(m)
}

func matchPaper(p domain.Paper, f PaperFilter) bool {
	if f.UploaderID != "" && p.UploaderID != f.UploaderID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.PublicApproved && !(p.IsPublic && p.IsApproved) {
		return false
	}
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.SubjectContains != "" && !strings.Contains(strings.ToLower(p.Subject), strings.ToLower(f.SubjectContains)) {
		return false
	}
	if f.Tag != "" && !slices.Contains(p.Tags, f.Tag) {
		return false
	}
	if slices.Contains(f.ExcludeIDs, p.ID) {
		return false
	}
	if len(f.Subjects) == 0 && len(f.Categories) == 0 && len(f.Tags) == 0 {
		return true
	}
	if slices.Contains(f.Subjects, p.Subject) || slices.Contains(f.Categories, p.Category) {
		return true
	}
	for _, tag := range p.Tags {
		if slices.Contains(f.Tags, tag) {
			return true
		}
	}
	return false
}

func paperLess(a, b domain.Paper, order PaperSort) bool {
	if order == SortPopular {
		if a.DownloadCount != b.DownloadCount {
			return a.DownloadCount > b.DownloadCount
		}
		if a.Rating.Average != b.Rating.Average {
			return a.Rating.Average > b.Rating.Average
		}
	}
	return a.CreatedAt.After(b.CreatedAt)
}

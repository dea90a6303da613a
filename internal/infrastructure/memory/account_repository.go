package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/Zhima-Mochi/storefront/internal/domain/account"
)

type AccountRepository struct {
	mu      sync.RWMutex
	users   map[string]*domain.User
	byEmail map[string]string
	events  map[string][]*domain.CustomerEvent
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		users:   make(map[string]*domain.User),
		byEmail: make(map[string]string),
		events:  make(map[string][]*domain.CustomerEvent),
	}
}

func (r *AccountRepository) Insert(ctx context.Context, u *domain.User) error {
	_ = ctx
	if u == nil || u.ID == "" {
		return fmt.Errorf("account repository: id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[u.Email]; ok {
		return domain.ErrConflict
	}
	r.users[u.ID] = u.Clone()
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *AccountRepository) Get(ctx context.Context, id string) (*domain.User, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u.Clone(), nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[domain.NormalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *AccountRepository) Update(ctx context.Context, u *domain.User) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.users[u.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if old.Email != u.Email {
		if _, taken := r.byEmail[u.Email]; taken {
			return domain.ErrConflict
		}
		delete(r.byEmail, old.Email)
		r.byEmail[u.Email] = u.ID
	}
	r.users[u.ID] = u.Clone()
	return nil
}

func (r *AccountRepository) ListStaff(ctx context.Context) ([]*domain.User, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.User
	for _, u := range r.users {
		if u.IsStaff && u.IsActive {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (r *AccountRepository) AddEvent(ctx context.Context, e *domain.CustomerEvent) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *e
	r.events[e.UserID] = append(r.events[e.UserID], &c)
	return nil
}

func (r *AccountRepository) Events(ctx context.Context, userID string) ([]*domain.CustomerEvent, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.CustomerEvent, 0, len(r.events[userID]))
	for _, e := range r.events[userID] {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

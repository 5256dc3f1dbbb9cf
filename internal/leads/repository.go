package leads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for lead storage
type Repository interface {
	// CreateIfAbsent inserts lead unless its PhoneKey is taken, in which case
	// it returns ErrLeadExists.
	CreateIfAbsent(ctx context.Context, lead *Lead) (*Lead, error)
	GetByID(ctx context.Context, id string) (*Lead, error)
	// FindByPhones returns the oldest lead whose phone or phone key is in phones.
	FindByPhones(ctx context.Context, phones []string) (*Lead, error)
	Update(ctx context.Context, lead *Lead) error
	List(ctx context.Context, filter ListFilter) ([]*Lead, error)
}

func prepareLead(lead *Lead, now time.Time) error {
	if lead.Phone == "" || lead.PhoneKey == "" {
		return ErrMissingPhone
	}
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if !lead.Status.Valid() {
		lead.Status = StatusNew
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	if lead.FirstContactDate.IsZero() {
		lead.FirstContactDate = lead.CreatedAt
	}
	if lead.LastContactDate.IsZero() {
		lead.LastContactDate = lead.FirstContactDate
	}
	lead.UpdatedAt = now
	return nil
}

func normalizeFilter(f ListFilter) ListFilter {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// InMemoryRepository is a Repository using in-memory storage
type InMemoryRepository struct {
	mu    sync.RWMutex
	leads map[string]*Lead
	byKey map[string]string
	now   func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads: make(map[string]*Lead),
		byKey: make(map[string]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *InMemoryRepository) CreateIfAbsent(ctx context.Context, lead *Lead) (*Lead, error) {
	if err := prepareLead(lead, r.now()); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byKey[lead.PhoneKey]; taken {
		return nil, ErrLeadExists
	}
	r.leads[lead.ID] = lead.Clone()
	r.byKey[lead.PhoneKey] = lead.ID
	return lead.Clone(), nil
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return lead.Clone(), nil
}

func (r *InMemoryRepository) FindByPhones(ctx context.Context, phones []string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Lead
	for _, lead := range r.leads {
		for _, p := range phones {
			if p == "" || (lead.Phone != p && lead.PhoneKey != p) {
				continue
			}
			if found == nil || lead.CreatedAt.Before(found.CreatedAt) {
				found = lead
			}
			break
		}
	}
	if found == nil {
		return nil, ErrLeadNotFound
	}
	return found.Clone(), nil
}

func (r *InMemoryRepository) Update(ctx context.Context, lead *Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.leads[lead.ID]; !ok {
		return ErrLeadNotFound
	}
	lead.UpdatedAt = r.now()
	r.leads[lead.ID] = lead.Clone()
	return nil
}

func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	filter = normalizeFilter(filter)

	r.mu.RLock()
	var out []*Lead
	for _, lead := range r.leads {
		if filter.CampaignID != "" && lead.CampaignID != filter.CampaignID {
			continue
		}
		if filter.UserID != "" && lead.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && lead.Status != filter.Status {
			continue
		}
		out = append(out, lead.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset >= len(out) {
		return []*Lead{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

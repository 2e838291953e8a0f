package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/patrickwarner/rtcadserve/internal/models"
)

// SlotSource loads slot definitions.
type SlotSource interface {
	LoadSlots(ctx context.Context) ([]models.Slot, error)
}

// SlotRegistry holds slot definitions in memory, indexed by id.
type SlotRegistry struct {
	mu    sync.RWMutex
	slots map[string]models.Slot
}

// NewSlotRegistry returns a registry holding slots.
func NewSlotRegistry(slots ...models.Slot) *SlotRegistry {
	r := &SlotRegistry{}
	r.replace(slots)
	return r
}

// Init loads every slot from src into a new registry.
func Init(ctx context.Context, src SlotSource) (*SlotRegistry, error) {
	r := NewSlotRegistry()
	if err := r.Reload(ctx, src); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload atomically replaces the registry contents with src's slots.
func (r *SlotRegistry) Reload(ctx context.Context, src SlotSource) error {
	slots, err := src.LoadSlots(ctx)
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}
	r.replace(slots)
	return nil
}

func (r *SlotRegistry) replace(slots []models.Slot) {
	index := make(map[string]models.Slot, len(slots))
	for _, s := range slots {
		index[s.ID] = s
	}
	r.mu.Lock()
	r.slots = index
	r.mu.Unlock()
}

// Put adds or replaces one slot.
func (r *SlotRegistry) Put(s models.Slot) {
	r.mu.Lock()
	r.slots[s.ID] = s
	r.mu.Unlock()
}

// GetSlot returns the slot with the given id.
func (r *SlotRegistry) GetSlot(id string) (models.Slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[id]
	return s, ok
}

// Len reports the number of registered slots.
func (r *SlotRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// All returns a snapshot of every registered slot in no particular order.
func (r *SlotRegistry) All() []models.Slot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Slot, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s)
	}
	return out
}

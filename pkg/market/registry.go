package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownTicker     = errors.New("unknown ticker")
	ErrAlreadyRegistered = errors.New("ticker already registered")
)

// Registry holds every tradable instrument for the lifetime of the process.
// Instruments are registered once and never removed during a run.
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument // ticker -> instrument
}

func NewRegistry() *Registry {
	return &Registry{
		instruments: make(map[string]*Instrument),
	}
}

// Register adds a new instrument.
// Returns ErrAlreadyRegistered if the ticker exists.
func (r *Registry) Register(inst *Instrument) error {
	if inst == nil {
		return fmt.Errorf("cannot register nil instrument")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instruments[inst.Ticker]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, inst.Ticker)
	}

	r.instruments[inst.Ticker] = inst
	return nil
}

// Get retrieves an instrument by ticker
func (r *Registry) Get(ticker string) (*Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, exists := r.instruments[ticker]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return inst, nil
}

// List returns all instruments sorted by ticker
func (r *Registry) List() []*Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instrument, 0, len(r.instruments))
	for _, inst := range r.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Tickers returns all registered tickers, sorted
func (r *Registry) Tickers() []string {
	insts := r.List()
	out := make([]string, len(insts))
	for i, inst := range insts {
		out[i] = inst.Ticker
	}
	return out
}

// UpdateStatus halts or resumes trading on an instrument
func (r *Registry) UpdateStatus(ticker string, status Status) error {
	inst, err := r.Get(ticker)
	if err != nil {
		return err
	}
	inst.status.Store(int32(status))
	return nil
}

func (r *Registry) Exists(ticker string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.instruments[ticker]
	return exists
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}

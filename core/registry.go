package core

import (
	"fmt"
	"sort"
	"sync"
)

// ProcessorRegistry maps each submission kind to exactly one processor.
type ProcessorRegistry struct {
	mu         sync.RWMutex
	processors map[SubmissionKind]Processor
}

func NewProcessorRegistry(processors ...Processor) *ProcessorRegistry {
	registry := &ProcessorRegistry{processors: make(map[SubmissionKind]Processor)}
	for _, processor := range processors {
		_ = registry.Register(processor)
	}
	return registry
}

func (r *ProcessorRegistry) Register(processor Processor) error {
	if processor == nil {
		return fmt.Errorf("core: processor is nil")
	}
	kind := NormalizeSubmissionKind(string(processor.Kind()))
	if kind == "" {
		return fmt.Errorf("core: processor kind is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processors[kind]; exists {
		return fmt.Errorf("core: processor already registered for kind: %s", kind)
	}
	r.processors[kind] = processor
	return nil
}

func (r *ProcessorRegistry) Get(kind SubmissionKind) (Processor, bool) {
	key := NormalizeSubmissionKind(string(kind))
	if key == "" {
		return nil, false
	}
	r.mu.RLock()
	processor, ok := r.processors[key]
	r.mu.RUnlock()
	return processor, ok
}

// List returns processors ordered by kind.
func (r *ProcessorRegistry) List() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.processors))
	for kind := range r.processors {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	processors := make([]Processor, 0, len(kinds))
	for _, kind := range kinds {
		processors = append(processors, r.processors[SubmissionKind(kind)])
	}
	return processors
}

func (r *ProcessorRegistry) Kinds() []SubmissionKind {
	listed := r.List()
	kinds := make([]SubmissionKind, 0, len(listed))
	for _, processor := range listed {
		kinds = append(kinds, processor.Kind())
	}
	return kinds
}

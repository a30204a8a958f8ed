// Package tweakables implements the named config registry (X2): runtime
// tunables bound to a min/max range, persisted to disk as TOML, with
// support for deferred ("pending") value application. Grounded on
// src/ion/tweakables/Tweakables.{h,cpp}.
package tweakables

import (
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
)

// Kind mirrors tweakables::Type: a Tweakable may be set at runtime (e.g.
// from a debug console), a Config value is meant to be edited only via the
// persisted file.
type Kind int

const (
	Tweakable Kind = iota
	Config
)

// Number is the set of tweakable value types supporting ordered clamping.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

type entry interface {
	name() string
	kind() Kind
	persistent() bool
	shouldSave() bool
	// applyPending swaps in any value staged by SetPending, returning
	// whether anything changed.
	applyPending() bool
	// encode renders the current value for Save.
	encode() any
	// setFromAny parses and clamps a decoded TOML/JSON-ish value.
	setFromAny(v any) error
	// applyNamedPending applies a value staged by Registry.SetTweakable
	// before this entry existed. A fromCLI value is retained as the new
	// default, so ShouldSave stays false for it (the value did not come
	// from a diff against the persisted file).
	applyNamedPending(value any, fromCLI bool) error
}

// pendingTweakable is a (value, fromCLI) pair staged by SetTweakable for a
// name not yet registered, mirroring Tweakables::mPendingTweakables.
type pendingTweakable struct {
	value   any
	fromCLI bool
}

// Registry owns every live tweakable/config value, keyed by name.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
	pending map[string]pendingTweakable
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry), pending: make(map[string]pendingTweakable)}
}

func (r *Registry) add(e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.name()] = e
	if p, ok := r.pending[e.name()]; ok {
		_ = e.applyNamedPending(p.value, p.fromCLI)
		delete(r.pending, e.name())
	}
}

// SetTweakable stages (name, value, fromCLI) for later application, matching
// Tweakables::SetTweakable. Callers (CLI/env parsers) supply an
// already-parsed value; fromCLI marks command-line origin, which is retained
// as the value's new default once applied so ShouldSave reports false for
// it. If name is already registered the value applies immediately; otherwise
// it is consumed the next time NewValue/NewString registers that name.
func (r *Registry) SetTweakable(name string, value any, fromCLI bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		_ = e.applyNamedPending(value, fromCLI)
		return
	}
	r.pending[name] = pendingTweakable{value: value, fromCLI: fromCLI}
}

// Remove drops a value from the registry, matching RemoveTweakable.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Value is a clamped, named numeric tweakable: Get/Set are safe for
// concurrent use, and a Set outside [Min, Max] is clamped rather than
// rejected, per ConfigValue::operator=.
type Value[T Number] struct {
	mu       sync.RWMutex
	id       string
	knd      Kind
	def      T
	val      T
	min, max T
	pending  *T
	noSave   bool
}

// NewValue registers and returns a clamped tweakable named id.
func NewValue[T Number](r *Registry, kind Kind, id string, value, min, max T) *Value[T] {
	if value < min {
		value = min
	}
	if value > max {
		value = max
	}
	v := &Value[T]{id: id, knd: kind, def: value, val: value, min: min, max: max}
	r.add(v)
	return v
}

// DisableSerialization marks the value as never written by Save, matching
// ConfigValueBase::DisableSerialization.
func (v *Value[T]) DisableSerialization() {
	v.mu.Lock()
	v.noSave = true
	v.mu.Unlock()
}

// Get returns the current clamped value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.val
}

// Set clamps and applies newValue immediately.
func (v *Value[T]) Set(newValue T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.val = clamp(newValue, v.min, v.max)
}

// SetPending stages newValue without applying it; a later ApplyPending (or
// the scheduled application point a caller chooses) makes it live. Used for
// values that must not change mid-frame/mid-tick.
func (v *Value[T]) SetPending(newValue T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c := clamp(newValue, v.min, v.max)
	v.pending = &c
}

func (v *Value[T]) name() string { return v.id }
func (v *Value[T]) kind() Kind   { return v.knd }

func (v *Value[T]) applyPending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending == nil {
		return false
	}
	v.val = *v.pending
	v.pending = nil
	return true
}

func (v *Value[T]) persistent() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.noSave
}

func (v *Value[T]) shouldSave() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.noSave && v.val != v.def
}

func (v *Value[T]) encode() any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.val
}

func (v *Value[T]) setFromAny(raw any) error {
	f, ok := toFloat(raw)
	if !ok {
		return fmt.Errorf("tweakables: value for %q is not numeric: %v", v.id, raw)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.val = clamp(T(f), v.min, v.max)
	return nil
}

func (v *Value[T]) applyNamedPending(raw any, fromCLI bool) error {
	f, ok := toFloat(raw)
	if !ok {
		return fmt.Errorf("tweakables: pending value for %q is not numeric: %v", v.id, raw)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	c := clamp(T(f), v.min, v.max)
	v.val = c
	if fromCLI {
		v.def = c
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func clamp[T Number](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// String is a named tweakable string value, mirroring ConfigString.
type String struct {
	mu     sync.RWMutex
	id     string
	def    string
	val    string
	noSave bool
}

// NewString registers and returns a tweakable string named id.
func NewString(r *Registry, id string, value string) *String {
	s := &String{id: id, def: value, val: value}
	r.add(s)
	return s
}

func (s *String) name() string     { return s.id }
func (s *String) kind() Kind       { return Config }
func (s *String) persistent() bool { s.mu.RLock(); defer s.mu.RUnlock(); return !s.noSave }
func (s *String) shouldSave() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.noSave && s.val != s.def
}
func (s *String) applyPending() bool { return false }
func (s *String) encode() any        { s.mu.RLock(); defer s.mu.RUnlock(); return s.val }
func (s *String) setFromAny(v any) error {
	str, ok := v.(string)
	if !ok {
		return fmt.Errorf("tweakables: value for %q is not a string: %v", s.id, v)
	}
	s.mu.Lock()
	s.val = str
	s.mu.Unlock()
	return nil
}

func (s *String) applyNamedPending(v any, fromCLI bool) error {
	str, ok := v.(string)
	if !ok {
		return fmt.Errorf("tweakables: pending value for %q is not a string: %v", s.id, v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.val = str
	if fromCLI {
		s.def = str
	}
	return nil
}

// DisableSerialization marks the string as never written by Save.
func (s *String) DisableSerialization() {
	s.mu.Lock()
	s.noSave = true
	s.mu.Unlock()
}

// Get returns the current string value.
func (s *String) Get() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.val }

// Set assigns newValue immediately.
func (s *String) Set(newValue string) { s.mu.Lock(); s.val = newValue; s.mu.Unlock() }

// IsSet reports whether the value is non-empty, matching ConfigString::IsSet.
func (s *String) IsSet() bool { s.mu.RLock(); defer s.mu.RUnlock(); return s.val != "" }

// ApplyPending applies every registered value's staged pending update
// (numeric Values only; strings have no pending concept), returning the
// count actually changed.
func (r *Registry) ApplyPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.applyPending() {
			n++
		}
	}
	return n
}

// Save returns a map of name -> current value for every entry marked
// persistent, regardless of whether it differs from its default (unlike
// ShouldSave, which also requires a diff; Save here always snapshots the
// set safe to persist, and SaveFile narrows further).
func (r *Registry) Save() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.entries))
	for name, e := range r.entries {
		if e.persistent() {
			out[name] = e.encode()
		}
	}
	return out
}

// SaveFile writes every entry whose value differs from its default (and is
// not serialization-disabled) to path as TOML.
func (r *Registry) SaveFile(path string) error {
	r.mu.Lock()
	out := make(map[string]any, len(r.entries))
	for name, e := range r.entries {
		if e.shouldSave() {
			out[name] = e.encode()
		}
	}
	r.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tweakables: create %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(out)
}

// LoadFile decodes path as TOML and applies each key's value to the
// matching registered entry, leaving unknown keys (and unregistered
// entries' defaults) untouched.
func (r *Registry) LoadFile(path string) error {
	raw := make(map[string]any)
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("tweakables: decode %s: %w", path, err)
	}
	return r.Load(raw)
}

// Load applies a decoded name->value map to matching registered entries.
func (r *Registry) Load(values map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, raw := range values {
		e, ok := r.entries[name]
		if !ok {
			continue
		}
		if err := e.setFromAny(raw); err != nil {
			return err
		}
	}
	return nil
}

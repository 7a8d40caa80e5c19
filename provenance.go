package buildconf

import "sync"

// Provenance records where each bound field's value came from.
type Provenance struct {
	Fields []FieldProvenance
}

// FieldProvenance describes the origin of one field.
type FieldProvenance struct {
	FieldPath  string `json:"field_path"`  // Go field path, e.g. "Adapter.Pages"
	KeyPath    string `json:"key_path"`    // e.g. "adapter.pages"
	SourceName string `json:"source_name"` // e.g. "env:BUILDCONF_ADAPTER__PAGES", "default"
	Secret     bool   `json:"secret"`
}

// Lookup returns the provenance entry for a key path.
func (p *Provenance) Lookup(keyPath string) (FieldProvenance, bool) {
	if p == nil {
		return FieldProvenance{}, false
	}
	for _, f := range p.Fields {
		if f.KeyPath == keyPath {
			return f, true
		}
	}
	return FieldProvenance{}, false
}

var provenanceStore sync.Map

// GetProvenance returns provenance metadata for a configuration produced by a Loader.
// Safe for concurrent use.
func GetProvenance[T any](cfg *T) (*Provenance, bool) {
	if cfg == nil {
		return nil, false
	}
	value, ok := provenanceStore.Load(cfg)
	if !ok {
		return nil, false
	}
	prov, ok := value.(*Provenance)
	return prov, ok
}

func storeProvenance[T any](cfg *T, prov *Provenance) {
	if cfg != nil && prov != nil {
		provenanceStore.Store(cfg, prov)
	}
}

// ReleaseProvenance forgets the provenance recorded for cfg.
// Call it when a loaded config is discarded.
func ReleaseProvenance[T any](cfg *T) {
	if cfg != nil {
		provenanceStore.Delete(cfg)
	}
}

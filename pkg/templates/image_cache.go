package templates

import (
	"fmt"
	"sync"

	"jordanella.com/natro-go/internal/cv"
)

// CachedTemplate extends cv.Template with its decoded needle
type CachedTemplate struct {
	cv.Template
	needle  *cv.Needle
	mu      sync.RWMutex // Protects needle
	preload bool
}

// ImageCache manages needle decoding and caching
type ImageCache struct {
	templates map[string]*CachedTemplate
	mu        sync.RWMutex
	stats     CacheStats
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits        int64 // Cache hits
	Misses      int64 // Cache misses (had to decode)
	Loads       int64 // Total decode operations
	Unloads     int64 // Total unload operations
	PreloadFail int64 // Failed preloads
}

// NewImageCache creates a new image cache
func NewImageCache() *ImageCache {
	return &ImageCache{
		templates: make(map[string]*CachedTemplate),
	}
}

// Register adds a template to the cache, decoding it now if preload is set
func (ic *ImageCache) Register(template cv.Template, preload bool) error {
	cached := &CachedTemplate{
		Template: template,
		preload:  preload,
	}

	ic.mu.Lock()
	ic.templates[template.Name] = cached
	ic.mu.Unlock()

	if preload {
		if _, _, err := cached.getOrLoad(); err != nil {
			ic.mu.Lock()
			ic.stats.PreloadFail++
			ic.mu.Unlock()
			return fmt.Errorf("failed to preload template %s: %w", template.Name, err)
		}
		ic.mu.Lock()
		ic.stats.Loads++
		ic.mu.Unlock()
	}

	return nil
}

// Get returns the decoded needle for a template, decoding on first use
func (ic *ImageCache) Get(name string) (*cv.Needle, error) {
	ic.mu.RLock()
	cached, ok := ic.templates[name]
	ic.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", cv.ErrAssetNotFound, name)
	}

	needle, loaded, err := cached.getOrLoad()
	if err != nil {
		return nil, err
	}

	ic.mu.Lock()
	if loaded {
		ic.stats.Misses++
		ic.stats.Loads++
	} else {
		ic.stats.Hits++
	}
	ic.mu.Unlock()

	return needle, nil
}

// Remove drops a template from the cache
func (ic *ImageCache) Remove(name string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if _, ok := ic.templates[name]; ok {
		delete(ic.templates, name)
		ic.stats.Unloads++
	}
}

// PreloadAll decodes all templates marked for preloading
func (ic *ImageCache) PreloadAll() error {
	ic.mu.RLock()
	templates := make([]*CachedTemplate, 0, len(ic.templates))
	for _, t := range ic.templates {
		if t.preload {
			templates = append(templates, t)
		}
	}
	ic.mu.RUnlock()

	var errs []error
	for _, cached := range templates {
		_, loaded, err := cached.getOrLoad()

		ic.mu.Lock()
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("template %s: %w", cached.Name, err))
			ic.stats.PreloadFail++
		case loaded:
			ic.stats.Loads++
		}
		ic.mu.Unlock()
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to preload %d templates: %w", len(errs), errs[0])
	}

	return nil
}

// UnloadAll drops every decoded needle; templates stay registered
func (ic *ImageCache) UnloadAll() {
	ic.mu.RLock()
	templates := make([]*CachedTemplate, 0, len(ic.templates))
	for _, t := range ic.templates {
		templates = append(templates, t)
	}
	ic.mu.RUnlock()

	for _, cached := range templates {
		if cached.unload() {
			ic.mu.Lock()
			ic.stats.Unloads++
			ic.mu.Unlock()
		}
	}
}

// Stats returns cache statistics
func (ic *ImageCache) Stats() CacheStats {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return ic.stats
}

// getOrLoad returns the cached needle, decoding it if needed. loaded
// reports whether this call did the decoding.
func (ct *CachedTemplate) getOrLoad() (*cv.Needle, bool, error) {
	ct.mu.RLock()
	if ct.needle != nil {
		defer ct.mu.RUnlock()
		return ct.needle, false, nil
	}
	ct.mu.RUnlock()

	ct.mu.Lock()
	defer ct.mu.Unlock()

	// Double-check after acquiring write lock
	if ct.needle != nil {
		return ct.needle, false, nil
	}

	needle, err := ct.decode()
	if err != nil {
		return nil, false, err
	}
	ct.needle = needle
	return needle, true, nil
}

func (ct *CachedTemplate) decode() (*cv.Needle, error) {
	var (
		needle *cv.Needle
		err    error
	)
	if len(ct.Data) > 0 {
		needle, err = cv.DecodeNeedle(ct.Name, ct.Data, ct.Transparent)
	} else {
		needle, err = cv.LoadNeedleFile(ct.Path)
	}
	if err != nil {
		return nil, err
	}

	needle.Name = ct.Name
	needle.Transparent = ct.Transparent
	return needle, nil
}

func (ct *CachedTemplate) unload() bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.needle == nil {
		return false
	}
	ct.needle = nil
	return true
}

// IsLoaded returns true if the needle is currently decoded
func (ct *CachedTemplate) IsLoaded() bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.needle != nil
}

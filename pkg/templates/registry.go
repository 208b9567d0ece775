package templates

import (
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
	"jordanella.com/natro-go/internal/cv"
)

// TemplateRegistry manages a collection of needle templates loaded from YAML files
type TemplateRegistry struct {
	mu         sync.RWMutex
	templates  map[string]cv.Template
	basePath   string      // Base path for template image files
	imageCache *ImageCache // Decoded needles
}

// TemplateDefinition represents a template in the YAML file
type TemplateDefinition struct {
	Name        string     `yaml:"name"`
	Path        string     `yaml:"path,omitempty"`
	Data        string     `yaml:"data,omitempty"` // Base64-encoded image, instead of path
	Category    string     `yaml:"category,omitempty"`
	Transparent string     `yaml:"transparent,omitempty"` // Color key, e.g. "#FF00FF"
	Region      *RegionDef `yaml:"region,omitempty"`
	Variation   int        `yaml:"variation,omitempty"`
	Preload     bool       `yaml:"preload,omitempty"` // Decode image at load time
}

// RegionDef represents a region in the YAML file
type RegionDef struct {
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
	X2 int `yaml:"x2"`
	Y2 int `yaml:"y2"`
}

// TemplateFile represents the structure of a template YAML file
type TemplateFile struct {
	Category  string               `yaml:"category,omitempty"` // Default category for every entry
	Templates []TemplateDefinition `yaml:"templates"`
}

// NewTemplateRegistry creates a new template registry
// basePath is the root directory where template image files are stored
func NewTemplateRegistry(basePath string) *TemplateRegistry {
	return &TemplateRegistry{
		templates:  make(map[string]cv.Template),
		basePath:   basePath,
		imageCache: NewImageCache(),
	}
}

// LoadFromFile loads templates from a YAML file. Entries without a category
// take the file's category, or else the file's base name.
func (tr *TemplateRegistry) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read template file %s: %w", filePath, err)
	}

	var templateFile TemplateFile
	if err := yaml.Unmarshal(data, &templateFile); err != nil {
		return fmt.Errorf("failed to unmarshal template YAML: %w", err)
	}

	defaultCategory := templateFile.Category
	if defaultCategory == "" {
		defaultCategory = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}

	parsed := make([]parsedDefinition, 0, len(templateFile.Templates))
	for i, def := range templateFile.Templates {
		template, err := tr.convert(def, defaultCategory)
		if err != nil {
			return fmt.Errorf("template %d: %w", i+1, err)
		}
		parsed = append(parsed, parsedDefinition{template: template, preload: def.Preload})
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	for _, p := range parsed {
		tr.templates[p.template.Name] = p.template

		if err := tr.imageCache.Register(p.template, p.preload); err != nil {
			// The image can still be loaded on demand
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	return nil
}

type parsedDefinition struct {
	template cv.Template
	preload  bool
}

func (tr *TemplateRegistry) convert(def TemplateDefinition, defaultCategory string) (cv.Template, error) {
	if def.Name == "" {
		return cv.Template{}, fmt.Errorf("name cannot be empty")
	}
	if def.Path == "" && def.Data == "" {
		return cv.Template{}, fmt.Errorf("%s: path or data required", def.Name)
	}
	if def.Variation < 0 || def.Variation > 100 {
		return cv.Template{}, fmt.Errorf("%s: variation %d outside 0-100", def.Name, def.Variation)
	}

	template := cv.Template{
		Name:      def.Name,
		Category:  def.Category,
		Variation: def.Variation,
	}
	if template.Category == "" {
		template.Category = defaultCategory
	}

	if def.Data != "" {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(def.Data))
		if err != nil {
			return cv.Template{}, fmt.Errorf("%s: invalid base64 data: %w", def.Name, err)
		}
		template.Data = raw
	} else {
		template.Path = filepath.Join(tr.basePath, def.Path)
	}

	key, err := cv.ParseColorKey(def.Transparent)
	if err != nil {
		return cv.Template{}, fmt.Errorf("%s: %w", def.Name, err)
	}
	template.Transparent = key

	if def.Region != nil {
		region := cv.NewRegion(def.Region.X1, def.Region.Y1, def.Region.X2, def.Region.Y2)
		template.Region = &region
	}

	return template, nil
}

// LoadFromDirectory loads all YAML files from a directory
func (tr *TemplateRegistry) LoadFromDirectory(dirPath string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read template directory %s: %w", dirPath, err)
	}

	var loadErrors []error

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		fullPath := filepath.Join(dirPath, entry.Name())
		if err := tr.LoadFromFile(fullPath); err != nil {
			loadErrors = append(loadErrors, fmt.Errorf("file %s: %w", entry.Name(), err))
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("failed to load %d template files (first error): %w", len(loadErrors), loadErrors[0])
	}

	return nil
}

// Get retrieves a template by name
func (tr *TemplateRegistry) Get(name string) (cv.Template, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	template, ok := tr.templates[name]
	return template, ok
}

// Register adds a template to the registry programmatically
func (tr *TemplateRegistry) Register(template cv.Template) error {
	if template.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}
	if template.Path == "" && len(template.Data) == 0 {
		return fmt.Errorf("template %s: path or data required", template.Name)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.templates[template.Name] = template
	return tr.imageCache.Register(template, false)
}

// Has checks if a template exists in the registry
func (tr *TemplateRegistry) Has(name string) bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	_, ok := tr.templates[name]
	return ok
}

// Needle returns the decoded needle for a template
func (tr *TemplateRegistry) Needle(name string) (*cv.Needle, error) {
	if !tr.Has(name) {
		return nil, fmt.Errorf("%w: %s", cv.ErrAssetNotFound, name)
	}
	return tr.imageCache.Get(name)
}

// Image returns the decoded image for a template
func (tr *TemplateRegistry) Image(name string) (*image.RGBA, error) {
	needle, err := tr.Needle(name)
	if err != nil {
		return nil, err
	}
	return needle.Image, nil
}

// List returns all template names in the registry, sorted
func (tr *TemplateRegistry) List() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.templates))
	for name := range tr.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Categories returns the distinct category names, sorted
func (tr *TemplateRegistry) Categories() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	seen := make(map[string]bool)
	var categories []string
	for _, t := range tr.templates {
		if t.Category != "" && !seen[t.Category] {
			seen[t.Category] = true
			categories = append(categories, t.Category)
		}
	}
	sort.Strings(categories)
	return categories
}

// Category returns the sorted template names in a category
func (tr *TemplateRegistry) Category(category string) ([]string, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	var names []string
	for name, t := range tr.templates {
		if t.Category == category {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("unknown category: %s", category)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of templates in the registry
func (tr *TemplateRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	return len(tr.templates)
}

// Remove removes a template from the registry
func (tr *TemplateRegistry) Remove(name string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, ok := tr.templates[name]; ok {
		delete(tr.templates, name)
		tr.imageCache.Remove(name)
		return true
	}
	return false
}

// ImageCache returns the image cache
func (tr *TemplateRegistry) ImageCache() *ImageCache {
	return tr.imageCache
}

// PreloadAll decodes all templates marked for preloading
func (tr *TemplateRegistry) PreloadAll() error {
	return tr.imageCache.PreloadAll()
}

// CacheStats returns image cache statistics
func (tr *TemplateRegistry) CacheStats() CacheStats {
	return tr.imageCache.Stats()
}

package registry

import (
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

// Directory is an in-memory full-text index over public agent descriptors,
// backing the agent search endpoint. It is rebuilt from the store on startup
// and kept current on registry mutations.
type Directory struct {
	mu   sync.RWMutex
	idx  bleve.Index
	meta map[string]Descriptor
}

// directoryDoc is the indexed shape: searchable text fields only.
type directoryDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Categories  string `json:"categories"`
}

func NewDirectory() (*Directory, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Directory{idx: idx, meta: make(map[string]Descriptor)}, nil
}

// Index adds or replaces a public descriptor. Private agents are never
// indexed; the directory is a public surface.
func (d *Directory) Index(desc Descriptor) error {
	if desc.Visibility != "public" {
		return d.Remove(desc.ID)
	}
	id := strings.ToLower(desc.ID)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meta[id] = desc
	return d.idx.Index(id, directoryDoc{
		Name:        desc.Name,
		Description: desc.Description,
		Categories:  strings.Join(desc.Categories, " "),
	})
}

func (d *Directory) Remove(id string) error {
	id = strings.ToLower(id)
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.meta, id)
	return d.idx.Delete(id)
}

// Rebuild replaces the directory contents with the given descriptors.
func (d *Directory) Rebuild(descs []Descriptor) error {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	meta := make(map[string]Descriptor, len(descs))
	for _, desc := range descs {
		if desc.Visibility != "public" {
			continue
		}
		id := strings.ToLower(desc.ID)
		meta[id] = desc
		if err := idx.Index(id, directoryDoc{
			Name:        desc.Name,
			Description: desc.Description,
			Categories:  strings.Join(desc.Categories, " "),
		}); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idx = idx
	d.meta = meta
	return nil
}

// Search returns up to limit public descriptors matching the query string.
func (d *Directory) Search(q string, limit int) ([]Descriptor, error) {
	if limit <= 0 {
		limit = 10
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	req := bleve.NewSearchRequest(bleve.NewQueryStringQuery(q))
	req.Size = limit
	res, err := d.idx.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if desc, ok := d.meta[hit.ID]; ok {
			out = append(out, desc)
		}
	}
	return out, nil
}

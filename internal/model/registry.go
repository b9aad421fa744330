package model

import (
	"fmt"
	"log"
	"path/filepath"

	"riskapi/internal/domain"
)

// Registry holds the classifier for each risk domain. It is filled once at
// startup and read-only afterwards. A domain whose artifact failed to load
// stays unavailable for the life of the process.
type Registry struct {
	classifiers map[domain.Domain]Classifier
	loadErrors  map[domain.Domain]error
}

func NewRegistry() *Registry {
	return &Registry{
		classifiers: make(map[domain.Domain]Classifier),
		loadErrors:  make(map[domain.Domain]error),
	}
}

// ArtifactPath is where the training step writes the artifact for d.
func ArtifactPath(dir string, d domain.Domain) string {
	return filepath.Join(dir, fmt.Sprintf("%s_model.json", d))
}

// LoadRegistry loads every domain's artifact from dir. Failures are logged
// and recorded, never returned.
func LoadRegistry(dir string) *Registry {
	r := NewRegistry()
	for _, d := range domain.All {
		path := ArtifactPath(dir, d)
		c, err := loadClassifier(d, path)
		if err != nil {
			log.Printf("model load failed domain=%s path=%s err=%v", d, path, err)
			r.loadErrors[d] = err
			continue
		}
		log.Printf("model loaded domain=%s path=%s version=%s", d, path, c.Version())
		r.classifiers[d] = c
	}
	return r
}

func loadClassifier(d domain.Domain, path string) (Classifier, error) {
	a, err := ReadArtifact(path)
	if err != nil {
		return nil, err
	}
	return Build(d, a)
}

// Set registers c for d and clears any recorded load error.
func (r *Registry) Set(d domain.Domain, c Classifier) {
	r.classifiers[d] = c
	delete(r.loadErrors, d)
}

func (r *Registry) Get(d domain.Domain) (Classifier, bool) {
	c, ok := r.classifiers[d]
	return c, ok
}

func (r *Registry) LoadError(d domain.Domain) error {
	if _, ok := r.classifiers[d]; ok {
		return nil
	}
	if err, ok := r.loadErrors[d]; ok {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return ErrModelUnavailable
}

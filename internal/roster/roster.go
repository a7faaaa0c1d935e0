// Package roster loads and maintains the class list of enrolled students.
package roster

import (
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/rollcall/internal/embedding"
	"github.com/kozaktomas/rollcall/internal/match"
	"gopkg.in/yaml.v3"
)

// Entry is one enrolled student.
type Entry struct {
	ID         string    `yaml:"id" json:"student_id"`
	Name       string    `yaml:"name,omitempty" json:"name,omitempty"`
	RollNumber string    `yaml:"roll_number,omitempty" json:"roll_number,omitempty"`
	Embedding  []float32 `yaml:"embedding,flow" json:"embedding"`
}

// Roster is a class list as stored on disk.
type Roster struct {
	Class    string  `yaml:"class,omitempty"`
	Language string  `yaml:"language,omitempty"`
	Students []Entry `yaml:"students"`
}

// Load reads a roster file. JSON rosters are accepted as YAML.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is user supplied on the CLI
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Roster{}, nil
		}
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse roster %s: %w", path, err)
	}
	return &r, nil
}

// Save writes the roster to path.
func (r *Roster) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode roster: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write roster: %w", err)
	}
	return nil
}

// Students returns the roster as match input with re-normalized embeddings.
func (r *Roster) Students() []match.Student {
	out := make([]match.Student, len(r.Students))
	for i, e := range r.Students {
		out[i] = match.Student{
			ID:         e.ID,
			Name:       e.Name,
			RollNumber: e.RollNumber,
			Embedding:  embedding.Normalize(e.Embedding),
		}
	}
	return out
}

// Find looks a student up by exact ID, then by normalized name.
func (r *Roster) Find(query string) (Entry, bool) {
	for _, e := range r.Students {
		if e.ID == query {
			return e, true
		}
	}
	q := NormalizeName(query)
	for _, e := range r.Students {
		if e.Name != "" && NormalizeName(e.Name) == q {
			return e, true
		}
	}
	return Entry{}, false
}

// Upsert replaces the entry with the same ID or appends a new one.
func (r *Roster) Upsert(e Entry) {
	for i := range r.Students {
		if r.Students[i].ID == e.ID {
			if e.Name == "" {
				e.Name = r.Students[i].Name
			}
			if e.RollNumber == "" {
				e.RollNumber = r.Students[i].RollNumber
			}
			r.Students[i] = e
			return
		}
	}
	r.Students = append(r.Students, e)
}

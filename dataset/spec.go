package dataset

import (
	"fmt"
	"strconv"
	"strings"
)

// Spec describes one dataset: Messages records written by Workers workers
// into directory Name
type Spec struct {
	Name     string
	Workers  int
	Messages int
}

func (s Spec) String() string {
	return fmt.Sprintf("%s:%d:%d", s.Name, s.Workers, s.Messages)
}

func (s Spec) Validate() error {
	if s.Name == "" || s.Name == "." || s.Name == ".." || strings.ContainsAny(s.Name, `/\: `) {
		return fmt.Errorf("invalid dataset name '%s'", s.Name)
	}
	if s.Workers < 1 {
		return fmt.Errorf("dataset '%s': workers must be >= 1, is %d", s.Name, s.Workers)
	}
	if s.Messages < 0 {
		return fmt.Errorf("dataset '%s': messages must be >= 0, is %d", s.Name, s.Messages)
	}
	return nil
}

// DefaultSpecs returns small and large datasets written by 1, 2 and 3 workers
func DefaultSpecs() []Spec {
	var res []Spec
	sizes := []struct {
		suffix   string
		messages int
	}{
		{"Small", 10},
		{"Large", 100_000},
	}
	for _, size := range sizes {
		for workers := 1; workers <= 3; workers++ {
			res = append(res, Spec{
				Name:     fmt.Sprintf("Chron%d.%s", workers, size.suffix),
				Workers:  workers,
				Messages: size.messages,
			})
		}
	}
	return res
}

// ParseSpecs parses comma separated "name:workers:messages" triples
func ParseSpecs(s string) ([]Spec, error) {
	var res []Spec
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid dataset '%s', expected name:workers:messages", part)
		}
		workers, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid workers in '%s': %w", part, err)
		}
		messages, err := strconv.Atoi(strings.ReplaceAll(fields[2], "_", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid messages in '%s': %w", part, err)
		}
		spec := Spec{Name: fields[0], Workers: workers, Messages: messages}
		if err = spec.Validate(); err != nil {
			return nil, err
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate dataset '%s'", spec.Name)
		}
		seen[spec.Name] = true
		res = append(res, spec)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("no datasets in '%s'", s)
	}
	return res, nil
}

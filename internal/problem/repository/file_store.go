package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"judgebox/internal/problem/model"
)

type problemFile struct {
	model.Problem `yaml:",inline"`
	TestCases     []model.TestCase `yaml:"testCases"`
}

// FileStore serves problems loaded from YAML files in a directory.
type FileStore struct {
	problems map[string]*model.Problem
	cases    map[string][]model.TestCase
	packs    *DataPackLoader
}

// LoadFileStore reads every *.yaml / *.yml file in dir. packs may be nil when no problem uses a data pack.
func LoadFileStore(dir string, packs *DataPackLoader) (*FileStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read problem dir: %w", err)
	}
	store := &FileStore{
		problems: make(map[string]*model.Problem),
		cases:    make(map[string][]model.TestCase),
		packs:    packs,
	}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		if err := store.add(data); err != nil {
			return nil, fmt.Errorf("load %s: %w", entry.Name(), err)
		}
	}
	return store, nil
}

func (s *FileStore) add(data []byte) error {
	var pf problemFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return err
	}
	if pf.ID == "" {
		return fmt.Errorf("problem id is required")
	}
	if _, dup := s.problems[pf.ID]; dup {
		return fmt.Errorf("duplicate problem %s", pf.ID)
	}
	if pf.DataPackKey == "" {
		if err := validateCases(pf.ID, pf.TestCases); err != nil {
			return err
		}
	}
	p := pf.Problem
	s.problems[p.ID] = &p
	s.cases[p.ID] = pf.TestCases
	return nil
}

func (s *FileStore) GetProblem(_ context.Context, problemID string) (*model.Problem, error) {
	p, ok := s.problems[problemID]
	if !ok {
		return nil, ErrProblemNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *FileStore) GetTestCases(ctx context.Context, problemID string) ([]model.TestCase, error) {
	p, ok := s.problems[problemID]
	if !ok {
		return nil, ErrProblemNotFound
	}
	if p.DataPackKey != "" && s.packs != nil {
		cases, err := s.packs.Load(ctx, p.DataPackKey, p.DataPackHash)
		if err != nil {
			return nil, err
		}
		if err := validateCases(problemID, cases); err != nil {
			return nil, err
		}
		return cases, nil
	}
	return append([]model.TestCase(nil), s.cases[problemID]...), nil
}

// IDs lists loaded problem ids in order.
func (s *FileStore) IDs() []string {
	ids := make([]string, 0, len(s.problems))
	for id := range s.problems {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package workflow

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/feilong2k/codemaestro/internal/application/port"
	domainwf "github.com/feilong2k/codemaestro/internal/domain/workflow"
)

// SeedResult lists the workflows written by Seed
type SeedResult struct {
	Workflows []string
}

// Seed stores the subtask lifecycle and every *.yaml / *.yml definition found
// at the root of fsys. fsys may be nil. Files are processed in name order and
// the first invalid file aborts seeding.
func Seed(ctx context.Context, repo port.WorkflowRepository, fsys fs.FS) (*SeedResult, error) {
	defs := []*domainwf.Definition{domainwf.SubtaskLifecycleDefinition()}

	if fsys != nil {
		loaded, err := loadDefinitions(fsys)
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}

	result := &SeedResult{}
	for _, def := range defs {
		record, err := EncodeDefinition(def)
		if err != nil {
			return nil, err
		}
		if err := repo.Save(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to save workflow %s: %w", def.Name, err)
		}
		result.Workflows = append(result.Workflows, def.Name)
	}
	return result, nil
}

func loadDefinitions(fsys fs.FS) ([]*domainwf.Definition, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		ext := strings.ToLower(path.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	defs := make([]*domainwf.Definition, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		def, err := domainwf.ParseDefinitionYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

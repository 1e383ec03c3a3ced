package registry

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// tenantsFile is the on-disk shape of a TOML tenant set:
//
//	[[tenant]]
//	id = "acme"
//	primary_domain = "acme.com"
//	...
type tenantsFile struct {
	Tenants []*TenantConfig `toml:"tenant"`
}

// FileSource loads the tenant set from a TOML file. Suited to small
// single-node deployments; larger fleets use the Postgres source.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) LoadTenants(ctx context.Context) ([]*TenantConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file %q: %w", s.path, err)
	}

	var file tenantsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file %q: %w", s.path, err)
	}

	return file.Tenants, nil
}

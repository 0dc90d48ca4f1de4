// Package registry implements the block registry: a plugin loader that
// walks a top-level bundle directory, opens each subdirectory's Go plugin
// archives and indexes the BuilderServices they expose by block type id.
// Grounded on BlockRegistryImpl.java (the classpath-style variant named in
// SPEC_FULL.md's Open Question 3) and on the loadPlugin[T] idiom from the
// wider example corpus's pkg/registry/registry.go.
package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"sync/atomic"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tksoft/flowforge-engine/pkg/contract"
	"github.com/tksoft/flowforge-engine/pkg/engineerrors"
	flog "github.com/tksoft/flowforge-engine/pkg/log"
)

// BuilderServiceSymbolName is the exported identifier every plugin archive
// must provide, looked up via plugin.Lookup.
const BuilderServiceSymbolName = "BuilderService"

// moduleLoader is the closeable handle for one loaded archive. Go's
// plugin package has no unload primitive: Close is a bookkeeping no-op
// recorded so that reload semantics stay structurally symmetric with the
// original implementation's URLClassLoader.close(), and so a future Go
// runtime that gains unload support has a single seam to wire it into.
type moduleLoader struct {
	path string
}

func (m *moduleLoader) Close() error {
	return nil
}

// registryState is the immutable snapshot atomically swapped on reload.
type registryState struct {
	services map[string]contract.BuilderService
	loaders  []*moduleLoader
}

func emptyState() *registryState {
	return &registryState{services: map[string]contract.BuilderService{}}
}

// Registry is the block registry: a plugin loader plus a lookup table from
// block type id to the BuilderService that builds it (spec.md §4.6).
type Registry struct {
	acceptableEngineVersions map[string]struct{}
	hostArchiveNames         []string
	state                    atomic.Pointer[registryState]
	log                      *slog.Logger
}

// New builds a Registry. acceptableEngineVersions must be non-empty.
// hostArchiveNames lists archive file names already present in the host
// process (the Go analogue of java.class.path) and is used to detect
// duplicate dependencies bundled alongside a plugin directory.
func New(acceptableEngineVersions []string, hostArchiveNames []string) (*Registry, error) {
	if len(acceptableEngineVersions) == 0 {
		return nil, engineerrors.ConfigurationMismatch("registry.New",
			"acceptableEngineVersions must be non-empty")
	}

	versions := make(map[string]struct{}, len(acceptableEngineVersions))
	for _, v := range acceptableEngineVersions {
		versions[v] = struct{}{}
	}

	r := &Registry{
		acceptableEngineVersions: versions,
		hostArchiveNames:         hostArchiveNames,
		log:                      flog.WithModule("registry"),
	}
	r.state.Store(emptyState())

	return r, nil
}

// RegisterBuiltin registers a BuilderService provided by the host process
// itself, bypassing plugin loading entirely. Useful for block types that
// ship with the engine binary.
func (r *Registry) RegisterBuiltin(service contract.BuilderService) {
	current := r.state.Load()

	next := &registryState{
		services: make(map[string]contract.BuilderService, len(current.services)+1),
		loaders:  current.loaders,
	}
	for k, v := range current.services {
		next.services[k] = v
	}
	for _, blockTypeID := range service.SupportedBlockTypeIDs() {
		next.services[blockTypeID] = service
	}

	r.state.Store(next)
}

// Load walks topLevelPath, treating each subdirectory as a bundle of one
// or more ".so" plugin archives built against a block type. On success the
// whole registry state is atomically replaced; the loaders that backed the
// previous state are closed afterward (spec.md §4.6).
func (r *Registry) Load(topLevelPath string, removeDuplicateDependencies bool) error {
	info, err := os.Stat(topLevelPath)
	if err != nil || !info.IsDir() {
		return engineerrors.ConfigurationMismatch("Registry.Load", topLevelPath+" must exist and be a directory")
	}

	entries, err := os.ReadDir(topLevelPath)
	if err != nil {
		return engineerrors.ConfigurationMismatch("Registry.Load", err.Error())
	}

	newServices := make(map[string]contract.BuilderService)
	newLoaders := make([]*moduleLoader, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		bundleDir := filepath.Join(topLevelPath, entry.Name())
		services, loader, err := r.loadBundleDirectory(bundleDir, removeDuplicateDependencies)
		if err != nil {
			return err
		}

		for blockTypeID, service := range services {
			newServices[blockTypeID] = service
		}
		newLoaders = append(newLoaders, loader)
	}

	oldState := r.state.Swap(&registryState{services: newServices, loaders: newLoaders})
	r.closeLoaders(oldState.loaders)

	r.log.Info("loaded block builder services", "count", len(newServices))
	return nil
}

func (r *Registry) loadBundleDirectory(bundleDir string, removeDuplicateDependencies bool) (map[string]contract.BuilderService, *moduleLoader, error) {
	if err := r.handleDuplicateDependencies(bundleDir, removeDuplicateDependencies); err != nil {
		return nil, nil, err
	}

	archives, err := filepath.Glob(filepath.Join(bundleDir, "*.so"))
	if err != nil {
		return nil, nil, engineerrors.ConfigurationMismatch("Registry.Load", err.Error())
	}
	if len(archives) == 0 {
		return nil, nil, engineerrors.ConfigurationMismatch("Registry.Load",
			"no plugin archives found in "+bundleDir)
	}

	services := make(map[string]contract.BuilderService)

	for _, archivePath := range archives {
		plg, err := plugin.Open(archivePath)
		if err != nil {
			return nil, nil, engineerrors.Instantiation("Registry.Load", err)
		}

		sym, err := plg.Lookup(BuilderServiceSymbolName)
		if err != nil {
			// A dependency archive with no exported BuilderService symbol
			// is expected and skipped.
			continue
		}

		service, ok := sym.(contract.BuilderService)
		if !ok {
			return nil, nil, engineerrors.ConfigurationMismatch("Registry.Load",
				archivePath+" exported BuilderService has the wrong type")
		}

		if _, compatible := r.acceptableEngineVersions[service.ExpectedEngineVersion()]; !compatible {
			return nil, nil, engineerrors.ConfigurationMismatch("Registry.Load",
				archivePath+" is not compatible with the acceptable engine versions")
		}

		for _, blockTypeID := range service.SupportedBlockTypeIDs() {
			services[blockTypeID] = service
			r.log.Info("loaded builder service", "block_type_id", blockTypeID, "archive", archivePath)
		}
	}

	return services, &moduleLoader{path: bundleDir}, nil
}

// handleDuplicateDependencies warns (and optionally removes) any archive in
// bundleDir whose file name also appears among the host process's own
// archives, mirroring java.class.path collision detection. Failure to
// remove a duplicate is a ConfigurationMismatch (spec.md §4.6 step 2;
// BlockRegistryImpl.java's dealWithDuplicateDependencies throws
// ConfigurationMismatchException on the equivalent IOException), since
// Load must not proceed as though the duplicate were gone when it isn't.
func (r *Registry) handleDuplicateDependencies(bundleDir string, remove bool) error {
	entries, err := os.ReadDir(bundleDir)
	if err != nil {
		return nil
	}

	host := make(map[string]struct{}, len(r.hostArchiveNames))
	for _, name := range r.hostArchiveNames {
		host[name] = struct{}{}
	}

	for _, entry := range entries {
		if _, duplicate := host[entry.Name()]; !duplicate {
			continue
		}

		r.log.Warn("duplicate dependency detected", "archive", entry.Name(), "bundle", bundleDir)

		if remove {
			path := filepath.Join(bundleDir, entry.Name())
			if err := os.Remove(path); err != nil {
				return engineerrors.ConfigurationMismatch("Registry.handleDuplicateDependencies",
					"failed to remove duplicate archive "+path+": "+err.Error())
			}
		}
	}

	return nil
}

func (r *Registry) closeLoaders(loaders []*moduleLoader) {
	for _, loader := range loaders {
		if err := loader.Close(); err != nil {
			r.log.Warn("failed to close module loader", "path", loader.path, "error", err)
		}
	}
}

// CreateBlock builds a Block for blockTypeID via its registered
// BuilderService. If the service implements SchemaProvider and config is
// non-nil, config is validated against the declared JSON Schema before
// BuildBlock is called.
func (r *Registry) CreateBlock(blockTypeID string, config map[string]any, args ...any) (contract.Block, error) {
	if blockTypeID == "" {
		return nil, engineerrors.NullArgument("Registry.CreateBlock", "blockTypeID must not be blank")
	}

	service, ok := r.state.Load().services[blockTypeID]
	if !ok {
		return nil, engineerrors.NotFound("Registry.CreateBlock", "no BuilderService for block type id "+blockTypeID)
	}

	if provider, ok := service.(contract.SchemaProvider); ok && config != nil {
		if err := validateConfig(provider.Schema(), config); err != nil {
			return nil, engineerrors.ConfigurationMismatch("Registry.CreateBlock", err.Error())
		}
	}

	block, err := service.BuildBlock(blockTypeID, args...)
	if err != nil {
		return nil, engineerrors.Instantiation("Registry.CreateBlock", err)
	}

	return block, nil
}

func validateConfig(schema map[string]any, config map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return err
	}
	if !result.Valid() {
		msg := "config does not satisfy schema:"
		for _, desc := range result.Errors() {
			msg += " " + desc.String() + ";"
		}
		return engineerrors.ConfigurationMismatch("registry.validateConfig", msg)
	}

	return nil
}

// Close replaces the state with an empty one and closes the loaders of the
// previous state. Loaded plugin archives stay mapped in the process (see
// moduleLoader).
func (r *Registry) Close() {
	oldState := r.state.Swap(emptyState())
	r.closeLoaders(oldState.loaders)
	r.log.Info("registry closed")
}

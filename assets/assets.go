// Package assets loads and stores opcode trees and the entities that
// own them, in any supported format, and keeps persistent entities
// mirrored to disk as they mutate.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/amlg-lang/amlg/vm"
)

// Supported file formats. Any other extension loads as opaque bytes in
// a single string node.
const (
	FileExtensionCode       = "amlg"
	FileExtensionMetadata   = "amlg_metadata"
	FileExtensionCompressed = "caml"
	FileExtensionJSON       = "json"
	FileExtensionYAML       = "yaml"
	FileExtensionCSV        = "csv"
)

// Error sentinels; all loader failures wrap one of these.
var (
	ErrIO    = errors.New("resource unreadable or unwritable")
	ErrParse = errors.New("malformed source")
)

// LoadStatus is the loader's result record: whether the load succeeded,
// a human-readable message when it did not, and the source's declared
// version when one was present.
type LoadStatus struct {
	Loaded  bool
	Message string
	Version string
}

func (s *LoadStatus) setError(err error) {
	s.Loaded = false
	s.Message = err.Error()
}

// AssetManager owns the process-wide persistence state: the map of
// persistent entities to their resource paths and the set of entities
// holding root permission. It is constructed once at runtime init and
// passed by reference; all state is guarded by reader/writer locks
// acquired at the narrowest scope.
type AssetManager struct {
	codec vm.SourceCodec
	log   commonlog.Logger

	persistentMu       sync.RWMutex
	persistentEntities map[*vm.Entity]string

	rootMu       sync.RWMutex
	rootEntities map[*vm.Entity]struct{}

	// DefaultEntityExtension is the format used when a store path
	// carries no extension.
	DefaultEntityExtension string
}

// NewAssetManager creates an asset manager using codec for textual
// source.
func NewAssetManager(codec vm.SourceCodec) *AssetManager {
	return &AssetManager{
		codec:                  codec,
		log:                    commonlog.GetLogger("assets"),
		persistentEntities:     make(map[*vm.Entity]string),
		rootEntities:           make(map[*vm.Entity]struct{}),
		DefaultEntityExtension: FileExtensionCode,
	}
}

// separatePathFileExtension splits a path into directory (with trailing
// separator kept by filepath semantics), stem, and extension without
// the dot.
func separatePathFileExtension(path string) (dir, stem, ext string) {
	dir, file := filepath.Split(path)
	if dot := strings.LastIndexByte(file, '.'); dot >= 0 {
		return dir, file[:dot], file[dot+1:]
	}
	return dir, file, ""
}

// ---------------------------------------------------------------------------
// Resource load/store
// ---------------------------------------------------------------------------

// LoadResource materializes the tree stored at path into m. The
// returned base path is the path minus extension (escaped when
// requested), which callers use to find sidecar files and contained
// directories. The format is fileType when non-empty, else the
// extension.
func (am *AssetManager) LoadResource(path, fileType string, m *vm.NodeManager,
	escapeFilename bool) (tree vm.NodeReference, basePath string, status LoadStatus) {

	dir, stem, ext := separatePathFileExtension(path)
	processedPath := path
	if escapeFilename {
		basePath = dir + SafeEscapeFilename(stem)
		processedPath = basePath + "." + ext
	} else {
		basePath = dir + stem
	}
	if fileType == "" {
		fileType = ext
	}

	data, err := os.ReadFile(processedPath)
	if err != nil {
		status.setError(fmt.Errorf("%w: %v", ErrIO, err))
		return vm.NullReference(), basePath, status
	}

	switch fileType {
	case FileExtensionCode, FileExtensionMetadata:
		// strip the optional UTF-8 byte order mark; only ASCII and
		// UTF-8 encodings are permitted
		if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
			data = data[3:]
		}
		parsed, err := am.codec.Parse(string(data), m)
		if err != nil {
			status.setError(fmt.Errorf("%w: %v", ErrParse, err))
			return vm.NullReference(), basePath, status
		}
		status.Loaded = true
		return parsed, basePath, status

	case FileExtensionJSON:
		parsed, err := jsonToTree(data, m)
		if err != nil {
			status.setError(fmt.Errorf("%w: %v", ErrParse, err))
			return vm.NullReference(), basePath, status
		}
		status.Loaded = true
		return parsed, basePath, status

	case FileExtensionYAML:
		parsed, err := yamlToTree(data, m)
		if err != nil {
			status.setError(fmt.Errorf("%w: %v", ErrParse, err))
			return vm.NullReference(), basePath, status
		}
		status.Loaded = true
		return parsed, basePath, status

	case FileExtensionCSV:
		parsed, err := csvToTree(data, m)
		if err != nil {
			status.setError(fmt.Errorf("%w: %v", ErrParse, err))
			return vm.NullReference(), basePath, status
		}
		status.Loaded = true
		return parsed, basePath, status

	case FileExtensionCompressed:
		strs, version, err := decompressStrings(data)
		status.Version = version
		if err != nil {
			status.setError(fmt.Errorf("%w: %v", ErrParse, err))
			return vm.NullReference(), basePath, status
		}
		if err := ValidateVersionAgainstRuntime(version); err != nil {
			status.setError(err)
			return vm.NullReference(), basePath, status
		}
		if len(strs) == 0 {
			status.setError(fmt.Errorf("%w: empty compressed file", ErrParse))
			return vm.NullReference(), basePath, status
		}
		parsed, err := am.codec.Parse(strs[0], m)
		if err != nil {
			status.setError(fmt.Errorf("%w: %v", ErrParse, err))
			return vm.NullReference(), basePath, status
		}
		status.Loaded = true
		return parsed, basePath, status

	default:
		// opaque bytes as a single string node
		status.Loaded = true
		return vm.NewNodeReference(m.AllocStringNode(string(data)), true), basePath, status
	}
}

// StoreResource writes a tree to path in the format given by fileType
// (or the path's extension). sortKeys makes assoc output deterministic.
func (am *AssetManager) StoreResource(n *vm.EvaluableNode, path, fileType string,
	m *vm.NodeManager, escapeFilename, sortKeys bool) error {

	dir, stem, ext := separatePathFileExtension(path)
	processedPath := path
	if escapeFilename {
		processedPath = dir + SafeEscapeFilename(stem) + "." + ext
	}
	if fileType == "" {
		fileType = ext
	}
	pool := m.StringPool()

	var data []byte
	var err error
	switch fileType {
	case FileExtensionCode, FileExtensionMetadata:
		data = []byte(am.codec.Unparse(n, pool, true, sortKeys))
	case FileExtensionJSON:
		data, err = treeToJSON(n, pool, sortKeys)
	case FileExtensionYAML:
		data, err = treeToYAML(n, pool)
	case FileExtensionCSV:
		data, err = treeToCSV(n, pool)
	case FileExtensionCompressed:
		data, err = compressStrings([]string{am.codec.Unparse(n, pool, false, sortKeys)})
	default:
		s, _ := vm.ToStringValue(pool, n)
		data = []byte(s)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(processedPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Entity load/store
// ---------------------------------------------------------------------------

// LoadEntity creates a fresh entity from the resource at path.
//
// Compressed sources carry an initialization thunk: the loaded tree is
// set as the root and immediately called with create_new_entity=false.
// Textual sources consult the sibling metadata file for a random seed
// and a version gate. When persistent, the entity registers in the
// persistent map and every subsequent mutation re-stores it. When
// loadContained, the directory <base>/ is scanned for files of the same
// format, each loaded recursively as a contained entity whose id is the
// unescaped stem and whose seed derives from this entity's stream and
// the child id.
func (am *AssetManager) LoadEntity(pool *vm.StringInternPool, path, fileType string,
	persistent, loadContained, escapeRoot, escapeContained bool,
	defaultSeed string, caller *vm.Interpreter) (*vm.Entity, LoadStatus) {

	entity := vm.NewEntity(pool)

	if fileType == "" {
		_, _, ext := separatePathFileExtension(path)
		fileType = ext
	}

	code, basePath, status := am.LoadResource(path, fileType, entity.Manager(), escapeRoot)
	if !status.Loaded {
		am.log.Errorf("failed to load entity from %q: %s", path, status.Message)
		entity.Destroy()
		return nil, status
	}

	entity.SetRandomState(defaultSeed, true)

	if fileType == FileExtensionCompressed {
		entity.SetRoot(code)
		am.executeInitializationThunk(entity, caller)
		if persistent {
			am.SetEntityPersistentPath(entity, path)
		}
		return entity, status
	}

	entity.SetRoot(code)

	// sidecar metadata: seed and version gate
	metadataPath := basePath + "." + FileExtensionMetadata
	if metadataTree, _, metadataStatus := am.LoadResource(metadataPath, FileExtensionMetadata,
		entity.Manager(), false); metadataStatus.Loaded {

		if meta, ok := extractMetadata(metadataTree.Node, pool); ok {
			if meta.RandSeed != "" {
				entity.SetRandomState(meta.RandSeed, true)
			}
			if meta.Version != "" {
				status.Version = meta.Version
				if err := ValidateVersionAgainstRuntime(meta.Version); err != nil {
					am.log.Errorf("refusing entity %q: %s", path, err.Error())
					status.setError(err)
					status.Version = meta.Version
					entity.Destroy()
					return nil, status
				}
			}
		}
		entity.Manager().FreeNodeTree(metadataTree.Node)
	}

	if persistent {
		am.SetEntityPersistentPath(entity, path)
	}

	if loadContained {
		containedDir := basePath + "/"
		entries, err := os.ReadDir(containedDir)
		if err == nil {
			for _, dirEntry := range entries {
				if dirEntry.IsDir() {
					continue
				}
				_, ceStem, ceExt := separatePathFileExtension(dirEntry.Name())
				if ceExt != fileType {
					continue
				}
				childID := ceStem
				if escapeContained {
					childID = SafeUnescapeFilename(ceStem)
				}
				childSeed := entity.CreateRandomStreamFromStringAndRand(childID)
				childPath := containedDir + ceStem + "." + ceExt
				child, childStatus := am.LoadEntity(pool, childPath, fileType,
					false, true, false, escapeContained, childSeed, caller)
				if !childStatus.Loaded {
					entity.Destroy()
					return nil, childStatus
				}
				entity.AddContainedEntity(child, childID)
			}
		}
	}

	return entity, status
}

// executeInitializationThunk calls a freshly loaded compressed entity's
// root as a function with create_new_entity=false.
func (am *AssetManager) executeInitializationThunk(entity *vm.Entity, caller *vm.Interpreter) {
	m := entity.Manager()
	pool := m.StringPool()

	args := m.AllocNode(vm.OpAssoc)
	args.SetMappedChildNode(pool, pool.CreateStringReference("create_new_entity"),
		m.AllocNode(vm.OpFalse))
	callStack := vm.ConvertArgsToCallStack(vm.NewNodeReference(args, true), m)

	interp := vm.NewInterpreter(m, vm.NewRandomStream(entity.GetRandomSeed()),
		nil, nil, nil, entity, caller)
	interp.SetAssetSystem(am)
	interp.SetSourceCodec(am.codec)

	result := interp.ExecuteNode(entity.GetRoot(), callStack.Node, nil, nil, nil, nil, false)
	m.FreeNodeTreeIfPossible(result)
	m.FreeNodeTree(callStack.Node)
}

// StoreEntity writes an entity to path: the root tree, the metadata
// sidecar (seed and runtime version; written only when fileType is the
// textual code format), and every contained entity
// mirrored recursively under <base>/ with escaped-id filenames.
func (am *AssetManager) StoreEntity(entity *vm.Entity, path, fileType string,
	escapeFilename bool) error {

	dir, stem, ext := separatePathFileExtension(path)
	if fileType == "" {
		fileType = ext
	}
	basePath := dir + stem
	if escapeFilename {
		basePath = dir + SafeEscapeFilename(stem)
	}

	root := entity.GetRoot()
	if root == nil {
		root = entity.Manager().AllocNode(vm.OpNull)
	}
	if err := am.StoreResource(root, basePath+"."+fileType, fileType,
		entity.Manager(), false, true); err != nil {
		return err
	}

	if fileType == FileExtensionCode {
		if err := am.storeMetadata(entity, basePath); err != nil {
			return err
		}
	}

	contained := entity.GetContainedEntities()
	if len(contained) > 0 {
		containedDir := basePath
		if err := os.MkdirAll(containedDir, 0o755); err != nil {
			am.log.Errorf("could not create directory %q: %v", containedDir, err)
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		for _, child := range contained {
			childPath := filepath.Join(containedDir,
				SafeEscapeFilename(child.IDString())+"."+fileType)
			if err := am.StoreEntity(child, childPath, fileType, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// storeMetadata writes the sidecar with the entity's seed and the
// runtime's version.
func (am *AssetManager) storeMetadata(entity *vm.Entity, basePath string) error {
	m := entity.Manager()
	pool := m.StringPool()

	meta := m.AllocNode(vm.OpAssoc)
	meta.SetMappedChildNode(pool, pool.CreateStringReference("rand_seed"),
		m.AllocStringNode(entity.GetRandomSeed()))
	meta.SetMappedChildNode(pool, pool.CreateStringReference("version"),
		m.AllocStringNode(RuntimeVersion))

	err := am.StoreResource(meta, basePath+"."+FileExtensionMetadata,
		FileExtensionMetadata, m, false, true)
	m.FreeNodeTree(meta)
	return err
}

// ---------------------------------------------------------------------------
// Persistent entity registry
// ---------------------------------------------------------------------------

// SetEntityPersistentPath registers (or, with an empty path,
// deregisters) an entity as persistent.
func (am *AssetManager) SetEntityPersistentPath(entity *vm.Entity, path string) {
	am.persistentMu.Lock()
	defer am.persistentMu.Unlock()
	if path == "" {
		delete(am.persistentEntities, entity)
	} else {
		am.persistentEntities[entity] = path
	}
}

// IsEntityDirectlyPersistent reports whether the entity itself (not an
// ancestor) is registered.
func (am *AssetManager) IsEntityDirectlyPersistent(entity *vm.Entity) (string, bool) {
	am.persistentMu.RLock()
	defer am.persistentMu.RUnlock()
	path, ok := am.persistentEntities[entity]
	return path, ok
}

// persistentAncestorTargets computes, for each ancestor of entity that
// is registered persistent, the on-disk path the entity should occupy
// inside that ancestor's contained-directory tree.
func (am *AssetManager) persistentAncestorTargets(entity *vm.Entity) []string {
	am.persistentMu.RLock()
	defer am.persistentMu.RUnlock()
	if len(am.persistentEntities) == 0 {
		return nil
	}

	var targets []string
	traversal := ""
	idSuffix := string(filepath.Separator) +
		SafeEscapeFilename(entity.IDString()) + "." + am.DefaultEntityExtension

	for cur := entity.GetContainer(); cur != nil; cur = cur.GetContainer() {
		if p, ok := am.persistentEntities[cur]; ok {
			dir, stem, _ := separatePathFileExtension(p)
			targets = append(targets, dir+stem+traversal+idSuffix)
		}
		traversal = string(filepath.Separator) + SafeEscapeFilename(cur.IDString()) + traversal
	}
	return targets
}

// CreateEntity mirrors a newly created entity into every persistent
// ancestor's directory tree.
func (am *AssetManager) CreateEntity(entity *vm.Entity) {
	if entity == nil {
		return
	}
	for _, target := range am.persistentAncestorTargets(entity) {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			am.log.Errorf("could not create directory %q: %v", filepath.Dir(target), err)
			continue
		}
		if err := am.StoreEntity(entity, target, am.DefaultEntityExtension, false); err != nil {
			am.log.Errorf("could not store entity at %q: %v", target, err)
		}
	}
}

// UpdateEntity re-stores a mutated entity wherever it is mirrored: its
// own registered path and every persistent ancestor's tree.
func (am *AssetManager) UpdateEntity(entity *vm.Entity) {
	if entity == nil {
		return
	}
	if path, ok := am.IsEntityDirectlyPersistent(entity); ok {
		if err := am.StoreEntity(entity, path, "", false); err != nil {
			am.log.Errorf("could not re-store persistent entity at %q: %v", path, err)
		}
	}
	am.CreateEntity(entity)
}

// DestroyPersistentEntity removes an entity's files from disk: its own
// registration, contained persistent entities recursively, and its
// mirror inside every persistent ancestor's tree.
func (am *AssetManager) DestroyPersistentEntity(entity *vm.Entity) {
	if entity == nil {
		return
	}
	am.persistentMu.Lock()
	directPath, direct := am.persistentEntities[entity]
	delete(am.persistentEntities, entity)
	am.persistentMu.Unlock()

	for _, contained := range entity.GetContainedEntities() {
		am.DestroyPersistentEntity(contained)
	}

	removeMirror := func(path string) {
		dir, stem, _ := separatePathFileExtension(path)
		base := dir + stem
		if err := os.Remove(base + "." + am.DefaultEntityExtension); err != nil && !os.IsNotExist(err) {
			am.log.Errorf("could not remove file %q: %v", base+"."+am.DefaultEntityExtension, err)
		}
		if err := os.Remove(base + "." + FileExtensionMetadata); err != nil && !os.IsNotExist(err) {
			am.log.Errorf("could not remove file %q: %v", base+"."+FileExtensionMetadata, err)
		}
		if err := os.RemoveAll(base); err != nil {
			am.log.Errorf("could not remove directory %q: %v", base, err)
		}
	}

	if direct {
		removeMirror(directPath)
	}
	for _, target := range am.persistentAncestorTargets(entity) {
		removeMirror(target)
	}
}

// ---------------------------------------------------------------------------
// Root permission set
// ---------------------------------------------------------------------------

// SetRootPermission grants or revokes the privilege to execute
// privileged opcodes.
func (am *AssetManager) SetRootPermission(entity *vm.Entity, permission bool) {
	if entity == nil {
		return
	}
	am.rootMu.Lock()
	defer am.rootMu.Unlock()
	if permission {
		am.rootEntities[entity] = struct{}{}
	} else {
		delete(am.rootEntities, entity)
	}
}

// HasRootPermission reports whether the entity may execute privileged
// opcodes.
func (am *AssetManager) HasRootPermission(entity *vm.Entity) bool {
	if entity == nil {
		return false
	}
	am.rootMu.RLock()
	defer am.rootMu.RUnlock()
	_, ok := am.rootEntities[entity]
	return ok
}

// RemoveRootPermissions revokes permission on an entity and everything
// it contains.
func (am *AssetManager) RemoveRootPermissions(entity *vm.Entity) {
	for _, contained := range entity.GetContainedEntities() {
		am.RemoveRootPermissions(contained)
	}
	am.SetRootPermission(entity, false)
}

// ---------------------------------------------------------------------------
// vm.AssetSystem adapter
// ---------------------------------------------------------------------------

// LoadResourceTree implements vm.AssetSystem.
func (am *AssetManager) LoadResourceTree(path, fileType string, m *vm.NodeManager) (vm.NodeReference, error) {
	tree, _, status := am.LoadResource(path, fileType, m, false)
	if !status.Loaded {
		return vm.NullReference(), errors.New(status.Message)
	}
	return tree, nil
}

// StoreResourceTree implements vm.AssetSystem.
func (am *AssetManager) StoreResourceTree(n *vm.EvaluableNode, path, fileType string, m *vm.NodeManager) error {
	return am.StoreResource(n, path, fileType, m, false, true)
}

// LoadEntityFromPath implements vm.AssetSystem.
func (am *AssetManager) LoadEntityFromPath(path, fileType string, persistent bool,
	defaultSeed string, caller *vm.Interpreter) (*vm.Entity, error) {

	var pool *vm.StringInternPool
	if caller != nil {
		pool = caller.StringPool()
	} else {
		pool = vm.NewStringInternPool()
	}
	entity, status := am.LoadEntity(pool, path, fileType, persistent, true, false, true,
		defaultSeed, caller)
	if entity == nil {
		return nil, errors.New(status.Message)
	}
	return entity, nil
}

// StoreEntityToPath implements vm.AssetSystem.
func (am *AssetManager) StoreEntityToPath(e *vm.Entity, path, fileType string) error {
	return am.StoreEntity(e, path, fileType, false)
}

// CreateEntityMirror implements vm.AssetSystem.
func (am *AssetManager) CreateEntityMirror(e *vm.Entity) {
	am.CreateEntity(e)
}

// DestroyEntityMirror implements vm.AssetSystem.
func (am *AssetManager) DestroyEntityMirror(e *vm.Entity) {
	am.DestroyPersistentEntity(e)
}

// EntityWritten implements vm.EntityWriteListener: every mutation of a
// persistent entity is mirrored back to disk.
func (am *AssetManager) EntityWritten(kind vm.WriteEventKind, entity *vm.Entity, change *vm.EvaluableNode) {
	switch kind {
	case vm.WriteDestroy:
		// removal is driven through DestroyEntityMirror by the opcode
	case vm.WriteCreate, vm.WriteClone, vm.WriteMove:
		// creation mirroring is driven through CreateEntityMirror
	default:
		am.UpdateEntity(entity)
	}
}

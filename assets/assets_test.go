package assets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amlg-lang/amlg/parser"
	"github.com/amlg-lang/amlg/vm"
)

func newTestManager() *AssetManager {
	return NewAssetManager(parser.Codec{})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ---------------------------------------------------------------------------
// Resource loading
// ---------------------------------------------------------------------------

func TestLoadResourceCode(t *testing.T) {
	dir := t.TempDir()
	am := newTestManager()
	pool := vm.NewStringInternPool()
	m := vm.NewNodeManager(pool)

	path := filepath.Join(dir, "prog.amlg")
	writeFile(t, path, "(+ 1 2)")

	tree, _, status := am.LoadResource(path, "", m, false)
	if !status.Loaded {
		t.Fatalf("load failed: %s", status.Message)
	}
	if tree.Node.Type() != vm.OpAdd {
		t.Errorf("type = %v, want +", tree.Node.Type())
	}
}

func TestLoadResourceStripsBOM(t *testing.T) {
	dir := t.TempDir()
	am := newTestManager()
	m := vm.NewNodeManager(vm.NewStringInternPool())

	path := filepath.Join(dir, "bom.amlg")
	writeFile(t, path, "\xEF\xBB\xBF(+ 1 2)")
	tree, _, status := am.LoadResource(path, "", m, false)
	if !status.Loaded {
		t.Fatalf("load failed: %s", status.Message)
	}
	if tree.Node.Type() != vm.OpAdd {
		t.Error("BOM not stripped")
	}
}

func TestLoadResourceFormats(t *testing.T) {
	dir := t.TempDir()
	am := newTestManager()
	m := vm.NewNodeManager(vm.NewStringInternPool())
	pool := m.StringPool()

	jsonPath := filepath.Join(dir, "data.json")
	writeFile(t, jsonPath, `{"a": 1, "b": [true, "x"]}`)
	tree, _, status := am.LoadResource(jsonPath, "", m, false)
	if !status.Loaded {
		t.Fatalf("json load failed: %s", status.Message)
	}
	if !tree.Node.IsAssociativeArray() {
		t.Fatal("json object should load as assoc")
	}
	a, _ := tree.Node.GetMappedChildNode(pool.GetStringID("a"))
	if a.NumberValue() != 1 {
		t.Error("json number lost")
	}

	yamlPath := filepath.Join(dir, "data.yaml")
	writeFile(t, yamlPath, "name: test\nvalues:\n  - 1\n  - 2\n")
	tree, _, status = am.LoadResource(yamlPath, "", m, false)
	if !status.Loaded {
		t.Fatalf("yaml load failed: %s", status.Message)
	}
	name, _ := tree.Node.GetMappedChildNode(pool.GetStringID("name"))
	if s, _ := vm.ToStringValue(pool, name); s != "test" {
		t.Error("yaml string lost")
	}

	csvPath := filepath.Join(dir, "data.csv")
	writeFile(t, csvPath, "x,1\ny,2\n")
	tree, _, status = am.LoadResource(csvPath, "", m, false)
	if !status.Loaded {
		t.Fatalf("csv load failed: %s", status.Message)
	}
	rows := tree.Node.OrderedChildNodes()
	if len(rows) != 2 || rows[0].OrderedChildNodes()[1].NumberValue() != 1 {
		t.Error("csv rows malformed")
	}

	// unknown extensions load as opaque string
	binPath := filepath.Join(dir, "blob.bin")
	writeFile(t, binPath, "raw bytes")
	tree, _, status = am.LoadResource(binPath, "", m, false)
	if !status.Loaded || tree.Node.Type() != vm.OpString {
		t.Error("unknown extension should load as a string node")
	}
}

func TestLoadResourceMissingFile(t *testing.T) {
	am := newTestManager()
	m := vm.NewNodeManager(vm.NewStringInternPool())
	_, _, status := am.LoadResource(filepath.Join(t.TempDir(), "absent.amlg"), "", m, false)
	if status.Loaded {
		t.Error("missing file should fail to load")
	}
	if status.Message == "" {
		t.Error("failure should carry a message")
	}
}

// ---------------------------------------------------------------------------
// Persistence idempotence
// ---------------------------------------------------------------------------

func TestStoreLoadIdempotence(t *testing.T) {
	dir := t.TempDir()
	am := newTestManager()
	m := vm.NewNodeManager(vm.NewStringInternPool())

	path := filepath.Join(dir, "prog.amlg")
	writeFile(t, path, `(seq (assoc zebra 1 apple 2) (list "s" 2.5))`)

	tree, _, status := am.LoadResource(path, "", m, false)
	if !status.Loaded {
		t.Fatal(status.Message)
	}
	stored := filepath.Join(dir, "stored.amlg")
	if err := am.StoreResource(tree.Node, stored, "", m, false, true); err != nil {
		t.Fatal(err)
	}
	firstBytes, err := os.ReadFile(stored)
	if err != nil {
		t.Fatal(err)
	}

	reloaded, _, status := am.LoadResource(stored, "", m, false)
	if !status.Loaded {
		t.Fatal(status.Message)
	}
	if !vm.DeepEqual(tree.Node, reloaded.Node) {
		t.Error("reloaded tree differs structurally")
	}

	// store(load(p)) is bit-exact with stable key ordering
	again := filepath.Join(dir, "again.amlg")
	if err := am.StoreResource(reloaded.Node, again, "", m, false, true); err != nil {
		t.Fatal(err)
	}
	secondBytes, err := os.ReadFile(again)
	if err != nil {
		t.Fatal(err)
	}
	if string(firstBytes) != string(secondBytes) {
		t.Errorf("store(load(p)) not bit-exact:\n%s\nvs\n%s", firstBytes, secondBytes)
	}
}

// ---------------------------------------------------------------------------
// Compressed format
// ---------------------------------------------------------------------------

func TestCompressedRoundTrip(t *testing.T) {
	data, err := compressStrings([]string{"(+ 1 2)", "extra"})
	if err != nil {
		t.Fatal(err)
	}
	strs, version, err := decompressStrings(data)
	if err != nil {
		t.Fatal(err)
	}
	if version != RuntimeVersion {
		t.Errorf("version = %q, want %q", version, RuntimeVersion)
	}
	if len(strs) != 2 || strs[0] != "(+ 1 2)" || strs[1] != "extra" {
		t.Errorf("strings = %v", strs)
	}

	// canonical encoding keeps equal input byte-identical
	data2, err := compressStrings([]string{"(+ 1 2)", "extra"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(data2) {
		t.Error("compressed output not deterministic")
	}
}

func TestStoreLoadCompressedResource(t *testing.T) {
	dir := t.TempDir()
	am := newTestManager()
	m := vm.NewNodeManager(vm.NewStringInternPool())

	tree, err := parser.Parse("(list 1 2 3)", m)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "prog.caml")
	if err := am.StoreResource(tree.Node, path, "", m, false, true); err != nil {
		t.Fatal(err)
	}
	loaded, _, status := am.LoadResource(path, "", m, false)
	if !status.Loaded {
		t.Fatal(status.Message)
	}
	if !vm.DeepEqual(tree.Node, loaded.Node) {
		t.Error("compressed round trip altered the tree")
	}
}

// ---------------------------------------------------------------------------
// Entity loading
// ---------------------------------------------------------------------------

func TestLoadEntityWithMetadataSeed(t *testing.T) {
	dir := t.TempDir()
	am := newTestManager()
	pool := vm.NewStringInternPool()

	writeFile(t, filepath.Join(dir, "e.amlg"), "(list 1 2)")
	writeFile(t, filepath.Join(dir, "e.amlg_metadata"), `(assoc rand_seed "fixed-seed")`)

	entity, status := am.LoadEntity(pool, filepath.Join(dir, "e.amlg"), "",
		false, false, false, false, "default", nil)
	if entity == nil {
		t.Fatalf("load failed: %s", status.Message)
	}
	if entity.GetRandomSeed() != "fixed-seed" {
		t.Errorf("seed = %q, want metadata seed", entity.GetRandomSeed())
	}
}

func TestLoadEntityVersionGate(t *testing.T) {
	dir := t.TempDir()
	am := newTestManager()
	pool := vm.NewStringInternPool()

	writeFile(t, filepath.Join(dir, "e.amlg"), "(list 1)")
	writeFile(t, filepath.Join(dir, "e.amlg_metadata"), `(assoc version "99.0.0")`)

	entity, status := am.LoadEntity(pool, filepath.Join(dir, "e.amlg"), "",
		false, false, false, false, "seed", nil)
	if entity != nil {
		t.Fatal("version 99.0.0 must be refused")
	}
	if status.Version != "99.0.0" {
		t.Errorf("status version = %q, want the incompatible version", status.Version)
	}
	if !strings.Contains(status.Message, "more recent") {
		t.Errorf("message = %q", status.Message)
	}
}

func TestLoadEntityContained(t *testing.T) {
	dir := t.TempDir()
	am := newTestManager()
	pool := vm.NewStringInternPool()

	writeFile(t, filepath.Join(dir, "parent.amlg"), "(list 0)")
	containedDir := filepath.Join(dir, "parent")
	if err := os.Mkdir(containedDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(containedDir, "child_20one.amlg"), "(list 1)")
	writeFile(t, filepath.Join(containedDir, "other.amlg"), "(list 2)")

	entity, status := am.LoadEntity(pool, filepath.Join(dir, "parent.amlg"), "",
		false, true, false, true, "seed", nil)
	if entity == nil {
		t.Fatalf("load failed: %s", status.Message)
	}
	if got := len(entity.GetContainedEntities()); got != 2 {
		t.Fatalf("contained = %d, want 2", got)
	}
	// the escaped stem unescapes back into the child id
	if entity.GetContainedEntity("child one") == nil {
		t.Error("contained entity id not unescaped from filename")
	}
}

func TestStoreEntityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	am := newTestManager()
	pool := vm.NewStringInternPool()

	entity := vm.NewEntity(pool)
	tree, err := parser.Parse(`(list #answer 42 "text")`, entity.Manager())
	if err != nil {
		t.Fatal(err)
	}
	entity.SetRoot(tree)
	entity.SetRandomState("round-trip-seed", false)

	child := vm.NewEntity(pool)
	childTree, err := parser.Parse("(list 7)", child.Manager())
	if err != nil {
		t.Fatal(err)
	}
	child.SetRoot(childTree)
	entity.AddContainedEntity(child, "kid with space")

	path := filepath.Join(dir, "e.amlg")
	if err := am.StoreEntity(entity, path, "", false); err != nil {
		t.Fatal(err)
	}

	// layout: file, metadata sidecar, contained directory
	if _, err := os.Stat(path); err != nil {
		t.Error("entity file missing")
	}
	if _, err := os.Stat(filepath.Join(dir, "e.amlg_metadata")); err != nil {
		t.Error("metadata sidecar missing")
	}
	if _, err := os.Stat(filepath.Join(dir, "e", "kid_20with_20space.amlg")); err != nil {
		t.Error("contained entity file missing or not escaped")
	}

	loaded, status := am.LoadEntity(pool, path, "", false, true, false, true,
		"other-seed", nil)
	if loaded == nil {
		t.Fatalf("reload failed: %s", status.Message)
	}
	if !vm.DeepEqual(entity.GetRoot(), loaded.GetRoot()) {
		t.Error("root altered by round trip")
	}
	// the metadata sidecar restores the stored seed
	if loaded.GetRandomSeed() != "round-trip-seed" {
		t.Errorf("seed = %q, want stored seed", loaded.GetRandomSeed())
	}
	reloadedChild := loaded.GetContainedEntity("kid with space")
	if reloadedChild == nil {
		t.Fatal("contained entity lost")
	}
	if !vm.DeepEqual(child.GetRoot(), reloadedChild.GetRoot()) {
		t.Error("contained root altered by round trip")
	}
}

// ---------------------------------------------------------------------------
// Persistent mirroring
// ---------------------------------------------------------------------------

func TestPersistentEntityMirrorsMutation(t *testing.T) {
	dir := t.TempDir()
	am := newTestManager()
	pool := vm.NewStringInternPool()

	path := filepath.Join(dir, "e.amlg")
	writeFile(t, path, "(list #total 5)")

	entity, status := am.LoadEntity(pool, path, "", true, false, false, false, "seed", nil)
	if entity == nil {
		t.Fatalf("load failed: %s", status.Message)
	}

	// run (assign_to_entities (assoc total 10)) on the entity with the
	// asset manager listening for writes
	interp := vm.NewInterpreter(entity.Manager(), vm.NewRandomStream("seed"),
		[]vm.EntityWriteListener{am}, nil, nil, entity, nil)
	interp.SetAssetSystem(am)
	interp.SetSourceCodec(parser.Codec{})

	program, err := parser.Parse(`(assign_to_entities (assoc total 10))`, entity.Manager())
	if err != nil {
		t.Fatal(err)
	}
	result := interp.ExecuteNode(program.Node, nil, nil, nil, nil, nil, false)
	if !result.BoolValue(pool) {
		t.Fatal("assign_to_entities reported failure")
	}

	// the file on disk was rewritten and reparses to the mutated tree
	reloaded, _, loadStatus := am.LoadResource(path, "", vm.NewNodeManager(pool), false)
	if !loadStatus.Loaded {
		t.Fatal(loadStatus.Message)
	}
	labeled := reloaded.Node.OrderedChildNodes()[0]
	if labeled.NumberValue() != 10 {
		t.Errorf("mirrored value = %v, want 10", labeled.NumberValue())
	}
	if !vm.DeepEqual(entity.GetRoot(), reloaded.Node) {
		t.Error("mirrored file does not reparse to the live tree")
	}
}

func TestDestroyPersistentEntityRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	am := newTestManager()
	pool := vm.NewStringInternPool()

	entity := vm.NewEntity(pool)
	tree, err := parser.Parse("(list 1)", entity.Manager())
	if err != nil {
		t.Fatal(err)
	}
	entity.SetRoot(tree)

	path := filepath.Join(dir, "gone.amlg")
	if err := am.StoreEntity(entity, path, "", false); err != nil {
		t.Fatal(err)
	}
	am.SetEntityPersistentPath(entity, path)

	am.DestroyPersistentEntity(entity)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("entity file not removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "gone.amlg_metadata")); !os.IsNotExist(err) {
		t.Error("metadata file not removed")
	}
}

// ---------------------------------------------------------------------------
// Root permissions
// ---------------------------------------------------------------------------

func TestRootPermissions(t *testing.T) {
	am := newTestManager()
	pool := vm.NewStringInternPool()

	parent := vm.NewEntity(pool)
	child := vm.NewEntity(pool)
	parent.AddContainedEntity(child, "c")

	if am.HasRootPermission(parent) {
		t.Error("permission should default to absent")
	}
	am.SetRootPermission(parent, true)
	am.SetRootPermission(child, true)
	if !am.HasRootPermission(parent) || !am.HasRootPermission(child) {
		t.Fatal("permission not granted")
	}

	// removal recurses into contained entities
	am.RemoveRootPermissions(parent)
	if am.HasRootPermission(parent) || am.HasRootPermission(child) {
		t.Error("permission removal should recurse")
	}
}

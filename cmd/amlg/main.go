// amlg runs programs: it loads an entity from a source file and
// executes its root, mirroring mutations back to disk when the entity
// is persistent.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/amlg-lang/amlg/assets"
	"github.com/amlg-lang/amlg/parser"
	"github.com/amlg-lang/amlg/vm"
)

// Config is the optional amlg.toml runtime configuration.
type Config struct {
	Workers           int   `toml:"workers"`
	MaxExecutionSteps int64 `toml:"max_execution_steps"`
	MaxAllocatedNodes int64 `toml:"max_allocated_nodes"`
	MaxOpcodeDepth    int64 `toml:"max_opcode_depth"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	persistent := flag.Bool("p", false, "Keep the entity persistent (mirror mutations to disk)")
	rootPermission := flag.Bool("root", false, "Grant the entity root permission")
	seed := flag.String("seed", "", "Random seed for the entity (default: random)")
	workers := flag.Int("workers", 0, "Worker pool width for parallel evaluation (0 = number of CPUs)")
	configPath := flag.String("config", "amlg.toml", "Path to TOML runtime configuration")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: amlg [options] file.amlg\n\n")
		fmt.Fprintf(os.Stderr, "Loads the entity stored at the given path and executes its root.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)
	log := commonlog.GetLogger("amlg")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Errorf("bad configuration %q: %v", *configPath, err)
		os.Exit(1)
	}
	if *workers != 0 {
		cfg.Workers = *workers
	}

	pool := vm.NewStringInternPool()
	codec := parser.Codec{}
	assetManager := assets.NewAssetManager(codec)

	entitySeed := *seed
	if entitySeed == "" {
		entitySeed = uuid.NewString()
	}

	path := flag.Arg(0)
	entity, status := assetManager.LoadEntity(pool, path, "", *persistent, true, false, true,
		entitySeed, nil)
	if entity == nil {
		fmt.Fprintf(os.Stderr, "amlg: %s\n", status.Message)
		os.Exit(1)
	}
	if *rootPermission {
		assetManager.SetRootPermission(entity, true)
	}

	var constraints *vm.PerformanceConstraints
	if cfg.MaxExecutionSteps > 0 || cfg.MaxAllocatedNodes > 0 || cfg.MaxOpcodeDepth > 0 {
		constraints = &vm.PerformanceConstraints{
			MaxNumExecutionSteps:    cfg.MaxExecutionSteps,
			MaxNumAllocatedNodes:    cfg.MaxAllocatedNodes,
			MaxOpcodeExecutionDepth: cfg.MaxOpcodeDepth,
		}
	}

	writeListeners := []vm.EntityWriteListener{assetManager}
	if *verbose {
		writeListeners = append(writeListeners, vm.NewLoggingWriteListener())
	}

	interp := vm.NewInterpreter(entity.Manager(), vm.NewRandomStream(entitySeed),
		writeListeners, os.Stdout, constraints, entity, nil)
	interp.SetAssetSystem(assetManager)
	interp.SetSourceCodec(codec)
	interp.SetWorkerPool(vm.NewWorkerPool(cfg.Workers))

	result := interp.ExecuteNode(entity.GetRoot(), nil, nil, nil, nil, nil, false)
	if !result.IsNull() {
		fmt.Println(parser.Unparse(result.Node, pool, true, false))
	}
}

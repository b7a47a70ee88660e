package assets

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/amlg-lang/amlg/vm"
)

// Entity metadata lives beside the entity file as a small associative
// tree. Its shape is validated against a CUE schema before any field is
// consulted; non-conforming metadata is ignored rather than fatal,
// matching the loader's best-effort contract for optional sidecars.

const metadataSchemaSource = `
{
	rand_seed?: string
	version?:   string
}
`

var (
	cueCtx         = cuecontext.New()
	metadataSchema cue.Value
)

func init() {
	metadataSchema = cueCtx.CompileString(metadataSchemaSource)
	if err := metadataSchema.Err(); err != nil {
		panic("assets: metadata schema failed to compile: " + err.Error())
	}
}

// entityMetadata is the extracted, validated sidecar content.
type entityMetadata struct {
	RandSeed string
	Version  string
}

// extractMetadata validates a metadata tree and pulls out its fields.
// The boolean result is false when the tree is not a conforming
// associative map.
func extractMetadata(n *vm.EvaluableNode, pool *vm.StringInternPool) (entityMetadata, bool) {
	var meta entityMetadata
	if n == nil || !n.IsAssociativeArray() {
		return meta, false
	}

	// stringify values so numeric seeds validate as strings the way the
	// textual format writes them
	fields := make(map[string]any, len(n.MappedChildNodes()))
	for sid, c := range n.MappedChildNodes() {
		if s, ok := vm.ToStringValue(pool, c); ok {
			fields[pool.GetStringFromID(sid)] = s
		}
	}

	value := cueCtx.Encode(fields)
	if err := metadataSchema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return meta, false
	}

	if s, ok := fields["rand_seed"].(string); ok {
		meta.RandSeed = s
	}
	if s, ok := fields["version"].(string); ok {
		meta.Version = s
	}
	return meta, true
}

package vm

// OpcodeType is the tagged operator kind of an evaluable node. It drives
// dispatch: the interpreter's handler table is a dense array indexed by
// OpcodeType, so the ordering here is load-bearing and mirrors the handler
// table in dispatch.go exactly.
type OpcodeType uint8

const (
	// built-in / system specific
	OpSystem OpcodeType = iota
	OpGetDefaults

	// parsing
	OpParse
	OpUnparse

	// core control
	OpIf
	OpSequence
	OpParallel
	OpLambda
	OpConclude
	OpReturn
	OpCall
	OpCallSandboxed
	OpWhile

	// definitions
	OpLet
	OpDeclare
	OpAssign
	OpAccum

	// retrieval
	OpRetrieve
	OpGet
	OpSet
	OpReplace

	// stack and node manipulation
	OpTarget
	OpCurrentIndex
	OpCurrentValue
	OpPreviousResult
	OpOpcodeStack
	OpStack
	OpArgs

	// simulation and operations
	OpRand
	OpWeightedRand
	OpGetRandSeed
	OpSetRandSeed
	OpSystemTime

	// base math
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpModulus
	OpGetDigits
	OpSetDigits
	OpFloor
	OpCeiling
	OpRound

	// extended math
	OpExponent
	OpLog
	OpSin
	OpAsin
	OpCos
	OpAcos
	OpTan
	OpAtan
	OpSinh
	OpAsinh
	OpCosh
	OpAcosh
	OpTanh
	OpAtanh
	OpErf
	OpTgamma
	OpLgamma
	OpSqrt
	OpPow
	OpAbs
	OpMax
	OpMin
	OpDotProduct
	OpGeneralizedDistance
	OpEntropy

	// list manipulation
	OpFirst
	OpTail
	OpLast
	OpTrunc
	OpAppend
	OpSize
	OpRange

	// transformation
	OpRewrite
	OpMap
	OpFilter
	OpWeave
	OpReduce
	OpApply
	OpReverse
	OpSort

	// associative list manipulation
	OpIndices
	OpValues
	OpContainsIndex
	OpContainsValue
	OpRemove
	OpKeep
	OpAssociate
	OpZip
	OpUnzip

	// logic
	OpAnd
	OpOr
	OpXor
	OpNot

	// equivalence
	OpEqual
	OpNequal
	OpLess
	OpLequal
	OpGreater
	OpGequal
	OpTypeEquals
	OpTypeNequals

	// built-in constants and variables
	OpTrue
	OpFalse
	OpNull

	// data types
	OpList
	OpAssoc
	OpNumber
	OpString
	OpSymbol

	// node types
	OpGetType
	OpGetTypeString
	OpSetType
	OpFormat

	// node management: labels, comments, and concurrency
	OpGetLabels
	OpGetAllLabels
	OpSetLabels
	OpZipLabels
	OpGetComments
	OpSetComments
	OpGetConcurrency
	OpSetConcurrency
	OpGetValue
	OpSetValue

	// string
	OpExplode
	OpSplit
	OpSubstr
	OpConcat

	// encryption
	OpCryptoSign
	OpCryptoSignVerify
	OpEncrypt
	OpDecrypt

	// I/O
	OpPrint

	// tree merging
	OpTotalSize
	OpMutate
	OpCommonality
	OpEditDistance
	OpIntersect
	OpUnion
	OpDifference
	OpMix
	OpMixLabels

	// entity merging
	OpTotalEntitySize
	OpFlattenEntity
	OpMutateEntity
	OpCommonalityEntities
	OpEditDistanceEntities
	OpIntersectEntities
	OpUnionEntities
	OpDifferenceEntities
	OpMixEntities

	// entity details
	OpGetEntityComments
	OpRetrieveEntityRoot
	OpAssignEntityRoots
	OpAccumEntityRoots
	OpGetEntityRandSeed
	OpSetEntityRandSeed
	OpGetEntityRootPermission
	OpSetEntityRootPermission

	// entity base actions
	OpCreateEntities
	OpCloneEntities
	OpMoveEntities
	OpDestroyEntities
	OpLoad
	OpLoadEntity
	OpLoadPersistentEntity
	OpStore
	OpStoreEntity
	OpContainsEntity

	// entity query
	OpContainedEntities
	OpComputeOnContainedEntities
	OpQuerySelect
	OpQuerySample
	OpQueryWeightedSample
	OpQueryInEntityList
	OpQueryNotInEntityList
	OpQueryCount
	OpQueryExists
	OpQueryNotExists
	OpQueryEquals
	OpQueryNotEquals
	OpQueryBetween
	OpQueryNotBetween
	OpQueryAmong
	OpQueryNotAmong
	OpQueryMax
	OpQueryMin
	OpQuerySum
	OpQueryMode
	OpQueryQuantile
	OpQueryGeneralizedMean
	OpQueryMinDifference
	OpQueryMaxDifference
	OpQueryValueMasses
	OpQueryGreaterOrEqualTo
	OpQueryLessOrEqualTo
	OpQueryWithinGeneralizedDistance
	OpQueryNearestGeneralizedDistance

	// aggregate analysis queries
	OpComputeEntityConvictions
	OpComputeEntityGroupKLDivergence
	OpComputeEntityDistanceContributions
	OpComputeEntityKLDivergences

	// entity access
	OpContainsLabel
	OpAssignToEntities
	OpDirectAssignToEntities
	OpAccumToEntities
	OpRetrieveFromEntity
	OpDirectRetrieveFromEntity
	OpCallEntity
	OpCallEntityGetChanges
	OpCallContainer

	// not in active memory
	OpDeallocated
	OpUninitialized

	// something went wrong - maximum value
	OpNotABuiltInType
)

// NumOpcodes is the size of the dispatch table.
const NumOpcodes = int(OpNotABuiltInType) + 1

// opcodeNames maps each opcode to its textual keyword. The parser and
// unparser share this table, so round-tripping source depends on it.
var opcodeNames = [NumOpcodes]string{
	OpSystem:      "system",
	OpGetDefaults: "get_defaults",

	OpParse:   "parse",
	OpUnparse: "unparse",

	OpIf:            "if",
	OpSequence:      "seq",
	OpParallel:      "parallel",
	OpLambda:        "lambda",
	OpConclude:      "conclude",
	OpReturn:        "return",
	OpCall:          "call",
	OpCallSandboxed: "call_sandboxed",
	OpWhile:         "while",

	OpLet:     "let",
	OpDeclare: "declare",
	OpAssign:  "assign",
	OpAccum:   "accum",

	OpRetrieve: "retrieve",
	OpGet:      "get",
	OpSet:      "set",
	OpReplace:  "replace",

	OpTarget:         "target",
	OpCurrentIndex:   "current_index",
	OpCurrentValue:   "current_value",
	OpPreviousResult: "previous_result",
	OpOpcodeStack:    "opcode_stack",
	OpStack:          "stack",
	OpArgs:           "args",

	OpRand:         "rand",
	OpWeightedRand: "weighted_rand",
	OpGetRandSeed:  "get_rand_seed",
	OpSetRandSeed:  "set_rand_seed",
	OpSystemTime:   "system_time",

	OpAdd:       "+",
	OpSubtract:  "-",
	OpMultiply:  "*",
	OpDivide:    "/",
	OpModulus:   "mod",
	OpGetDigits: "get_digits",
	OpSetDigits: "set_digits",
	OpFloor:     "floor",
	OpCeiling:   "ceil",
	OpRound:     "round",

	OpExponent:            "exp",
	OpLog:                 "log",
	OpSin:                 "sin",
	OpAsin:                "asin",
	OpCos:                 "cos",
	OpAcos:                "acos",
	OpTan:                 "tan",
	OpAtan:                "atan",
	OpSinh:                "sinh",
	OpAsinh:               "asinh",
	OpCosh:                "cosh",
	OpAcosh:               "acosh",
	OpTanh:                "tanh",
	OpAtanh:               "atanh",
	OpErf:                 "erf",
	OpTgamma:              "tgamma",
	OpLgamma:              "lgamma",
	OpSqrt:                "sqrt",
	OpPow:                 "pow",
	OpAbs:                 "abs",
	OpMax:                 "max",
	OpMin:                 "min",
	OpDotProduct:          "dot_product",
	OpGeneralizedDistance: "generalized_distance",
	OpEntropy:             "entropy",

	OpFirst:  "first",
	OpTail:   "tail",
	OpLast:   "last",
	OpTrunc:  "trunc",
	OpAppend: "append",
	OpSize:   "size",
	OpRange:  "range",

	OpRewrite: "rewrite",
	OpMap:     "map",
	OpFilter:  "filter",
	OpWeave:   "weave",
	OpReduce:  "reduce",
	OpApply:   "apply",
	OpReverse: "reverse",
	OpSort:    "sort",

	OpIndices:       "indices",
	OpValues:        "values",
	OpContainsIndex: "contains_index",
	OpContainsValue: "contains_value",
	OpRemove:        "remove",
	OpKeep:          "keep",
	OpAssociate:     "associate",
	OpZip:           "zip",
	OpUnzip:         "unzip",

	OpAnd: "and",
	OpOr:  "or",
	OpXor: "xor",
	OpNot: "not",

	OpEqual:       "=",
	OpNequal:      "!=",
	OpLess:        "<",
	OpLequal:      "<=",
	OpGreater:     ">",
	OpGequal:      ">=",
	OpTypeEquals:  "~",
	OpTypeNequals: "!~",

	OpTrue:  "true",
	OpFalse: "false",
	OpNull:  "null",

	OpList:   "list",
	OpAssoc:  "assoc",
	OpNumber: "number",
	OpString: "string",
	OpSymbol: "symbol",

	OpGetType:       "get_type",
	OpGetTypeString: "get_type_string",
	OpSetType:       "set_type",
	OpFormat:        "format",

	OpGetLabels:      "get_labels",
	OpGetAllLabels:   "get_all_labels",
	OpSetLabels:      "set_labels",
	OpZipLabels:      "zip_labels",
	OpGetComments:    "get_comments",
	OpSetComments:    "set_comments",
	OpGetConcurrency: "get_concurrency",
	OpSetConcurrency: "set_concurrency",
	OpGetValue:       "get_value",
	OpSetValue:       "set_value",

	OpExplode: "explode",
	OpSplit:   "split",
	OpSubstr:  "substr",
	OpConcat:  "concat",

	OpCryptoSign:       "crypto_sign",
	OpCryptoSignVerify: "crypto_sign_verify",
	OpEncrypt:          "encrypt",
	OpDecrypt:          "decrypt",

	OpPrint: "print",

	OpTotalSize:    "total_size",
	OpMutate:       "mutate",
	OpCommonality:  "commonality",
	OpEditDistance: "edit_distance",
	OpIntersect:    "intersect",
	OpUnion:        "union",
	OpDifference:   "difference",
	OpMix:          "mix",
	OpMixLabels:    "mix_labels",

	OpTotalEntitySize:      "total_entity_size",
	OpFlattenEntity:        "flatten_entity",
	OpMutateEntity:         "mutate_entity",
	OpCommonalityEntities:  "commonality_entities",
	OpEditDistanceEntities: "edit_distance_entities",
	OpIntersectEntities:    "intersect_entities",
	OpUnionEntities:        "union_entities",
	OpDifferenceEntities:   "difference_entities",
	OpMixEntities:          "mix_entities",

	OpGetEntityComments:       "get_entity_comments",
	OpRetrieveEntityRoot:      "retrieve_entity_root",
	OpAssignEntityRoots:       "assign_entity_roots",
	OpAccumEntityRoots:        "accum_entity_roots",
	OpGetEntityRandSeed:       "get_entity_rand_seed",
	OpSetEntityRandSeed:       "set_entity_rand_seed",
	OpGetEntityRootPermission: "get_entity_root_permission",
	OpSetEntityRootPermission: "set_entity_root_permission",

	OpCreateEntities:       "create_entities",
	OpCloneEntities:        "clone_entities",
	OpMoveEntities:         "move_entities",
	OpDestroyEntities:      "destroy_entities",
	OpLoad:                 "load",
	OpLoadEntity:           "load_entity",
	OpLoadPersistentEntity: "load_persistent_entity",
	OpStore:                "store",
	OpStoreEntity:          "store_entity",
	OpContainsEntity:       "contains_entity",

	OpContainedEntities:          "contained_entities",
	OpComputeOnContainedEntities: "compute_on_contained_entities",

	OpQuerySelect:                     "query_select",
	OpQuerySample:                     "query_sample",
	OpQueryWeightedSample:             "query_weighted_sample",
	OpQueryInEntityList:               "query_in_entity_list",
	OpQueryNotInEntityList:            "query_not_in_entity_list",
	OpQueryCount:                      "query_count",
	OpQueryExists:                     "query_exists",
	OpQueryNotExists:                  "query_not_exists",
	OpQueryEquals:                     "query_equals",
	OpQueryNotEquals:                  "query_not_equals",
	OpQueryBetween:                    "query_between",
	OpQueryNotBetween:                 "query_not_between",
	OpQueryAmong:                      "query_among",
	OpQueryNotAmong:                   "query_not_among",
	OpQueryMax:                        "query_max",
	OpQueryMin:                        "query_min",
	OpQuerySum:                        "query_sum",
	OpQueryMode:                       "query_mode",
	OpQueryQuantile:                   "query_quantile",
	OpQueryGeneralizedMean:            "query_generalized_mean",
	OpQueryMinDifference:              "query_min_difference",
	OpQueryMaxDifference:              "query_max_difference",
	OpQueryValueMasses:                "query_value_masses",
	OpQueryGreaterOrEqualTo:           "query_greater_or_equal_to",
	OpQueryLessOrEqualTo:              "query_less_or_equal_to",
	OpQueryWithinGeneralizedDistance:  "query_within_generalized_distance",
	OpQueryNearestGeneralizedDistance: "query_nearest_generalized_distance",

	OpComputeEntityConvictions:           "compute_entity_convictions",
	OpComputeEntityGroupKLDivergence:     "compute_entity_group_kl_divergence",
	OpComputeEntityDistanceContributions: "compute_entity_distance_contributions",
	OpComputeEntityKLDivergences:         "compute_entity_kl_divergences",

	OpContainsLabel:            "contains_label",
	OpAssignToEntities:         "assign_to_entities",
	OpDirectAssignToEntities:   "direct_assign_to_entities",
	OpAccumToEntities:          "accum_to_entities",
	OpRetrieveFromEntity:       "retrieve_from_entity",
	OpDirectRetrieveFromEntity: "direct_retrieve_from_entity",
	OpCallEntity:               "call_entity",
	OpCallEntityGetChanges:     "call_entity_get_changes",
	OpCallContainer:            "call_container",

	OpDeallocated:     "deallocated",
	OpUninitialized:   "uninitialized",
	OpNotABuiltInType: "not_a_built_in_type",
}

// opcodeFromName is the inverse of opcodeNames, built once at init.
var opcodeFromName = func() map[string]OpcodeType {
	m := make(map[string]OpcodeType, NumOpcodes)
	for t, name := range opcodeNames {
		if name != "" {
			m[name] = OpcodeType(t)
		}
	}
	// deallocated/uninitialized nodes never appear in source
	delete(m, "deallocated")
	delete(m, "uninitialized")
	delete(m, "not_a_built_in_type")
	return m
}()

// Name returns the textual keyword for an opcode.
func (t OpcodeType) Name() string {
	if int(t) >= NumOpcodes {
		return "not_a_built_in_type"
	}
	return opcodeNames[t]
}

// OpcodeFromName returns the opcode for a source keyword.
// The second result is false if the keyword is not a built-in opcode.
func OpcodeFromName(name string) (OpcodeType, bool) {
	t, ok := opcodeFromName[name]
	return t, ok
}

// ---------------------------------------------------------------------------
// Opcode structural properties
// ---------------------------------------------------------------------------

// IsImmediate returns true for opcode kinds that carry no children:
// null, number, string, symbol, and the boolean constants.
func (t OpcodeType) IsImmediate() bool {
	switch t {
	case OpNull, OpNumber, OpString, OpSymbol, OpTrue, OpFalse:
		return true
	}
	return false
}

// UsesMappedData returns true for kinds whose payload is an unordered
// map keyed by interned string id.
func (t OpcodeType) UsesMappedData() bool {
	return t == OpAssoc
}

// UsesOrderedData returns true for kinds whose payload is an ordered
// child list.
func (t OpcodeType) UsesOrderedData() bool {
	return !t.UsesMappedData() && !t.IsImmediate() &&
		t != OpDeallocated && t != OpUninitialized
}

// UsesStringData returns true for kinds whose payload is an interned string.
func (t OpcodeType) UsesStringData() bool {
	return t == OpString || t == OpSymbol
}

// UsesNumberData returns true for kinds whose payload is a number.
func (t OpcodeType) UsesNumberData() bool {
	return t == OpNumber
}

// IsQuery returns true for the entity-query opcode family, which the
// interpreter routes to the pluggable query engine.
func (t OpcodeType) IsQuery() bool {
	return t >= OpQuerySelect && t <= OpComputeEntityKLDivergences
}

// CanBeIdempotent returns true for opcodes whose evaluation is pure when
// all operands are: constants, immediates, and plain data constructors.
// Labeled nodes are never idempotent because labels make them reachable
// for mutation.
func (t OpcodeType) CanBeIdempotent() bool {
	switch t {
	case OpNull, OpNumber, OpString, OpTrue, OpFalse, OpList, OpAssoc:
		return true
	}
	return false
}

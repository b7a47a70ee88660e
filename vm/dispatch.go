package vm

// The opcode handler table, filled at init in the same grouping as the
// OpcodeType declaration. Opcodes whose math belongs to external
// collaborators (tree merging, entity merging, crypto, distance metrics)
// dispatch to the not-implemented handler, which evaluates to null; the
// query family routes through the pluggable query engine.

func init() {
	d := &opcodeDispatch

	// built-in / system specific
	d[OpSystem] = (*Interpreter).interpretSystem
	d[OpGetDefaults] = (*Interpreter).interpretGetDefaults

	// parsing
	d[OpParse] = (*Interpreter).interpretParse
	d[OpUnparse] = (*Interpreter).interpretUnparse

	// core control
	d[OpIf] = (*Interpreter).interpretIf
	d[OpSequence] = (*Interpreter).interpretSequence
	d[OpParallel] = (*Interpreter).interpretParallel
	d[OpLambda] = (*Interpreter).interpretLambda
	d[OpConclude] = (*Interpreter).interpretConcludeAndReturn
	d[OpReturn] = (*Interpreter).interpretConcludeAndReturn
	d[OpCall] = (*Interpreter).interpretCall
	d[OpCallSandboxed] = (*Interpreter).interpretCallSandboxed
	d[OpWhile] = (*Interpreter).interpretWhile

	// definitions
	d[OpLet] = (*Interpreter).interpretLet
	d[OpDeclare] = (*Interpreter).interpretDeclare
	d[OpAssign] = (*Interpreter).interpretAssignAndAccum
	d[OpAccum] = (*Interpreter).interpretAssignAndAccum

	// retrieval
	d[OpRetrieve] = (*Interpreter).interpretRetrieve
	d[OpGet] = (*Interpreter).interpretGet
	d[OpSet] = (*Interpreter).interpretSetAndReplace
	d[OpReplace] = (*Interpreter).interpretSetAndReplace

	// stack and node manipulation
	d[OpTarget] = (*Interpreter).interpretTarget
	d[OpCurrentIndex] = (*Interpreter).interpretCurrentIndex
	d[OpCurrentValue] = (*Interpreter).interpretCurrentValue
	d[OpPreviousResult] = (*Interpreter).interpretPreviousResult
	d[OpOpcodeStack] = (*Interpreter).interpretOpcodeStack
	d[OpStack] = (*Interpreter).interpretStack
	d[OpArgs] = (*Interpreter).interpretArgs

	// simulation and operations
	d[OpRand] = (*Interpreter).interpretRand
	d[OpWeightedRand] = (*Interpreter).interpretWeightedRand
	d[OpGetRandSeed] = (*Interpreter).interpretGetRandSeed
	d[OpSetRandSeed] = (*Interpreter).interpretSetRandSeed
	d[OpSystemTime] = (*Interpreter).interpretSystemTime

	// base math
	d[OpAdd] = (*Interpreter).interpretAdd
	d[OpSubtract] = (*Interpreter).interpretSubtract
	d[OpMultiply] = (*Interpreter).interpretMultiply
	d[OpDivide] = (*Interpreter).interpretDivide
	d[OpModulus] = (*Interpreter).interpretModulus
	d[OpGetDigits] = (*Interpreter).interpretNotImplemented
	d[OpSetDigits] = (*Interpreter).interpretNotImplemented
	d[OpFloor] = (*Interpreter).interpretUnaryMath
	d[OpCeiling] = (*Interpreter).interpretUnaryMath
	d[OpRound] = (*Interpreter).interpretUnaryMath

	// extended math
	d[OpExponent] = (*Interpreter).interpretUnaryMath
	d[OpLog] = (*Interpreter).interpretLog
	d[OpSin] = (*Interpreter).interpretUnaryMath
	d[OpAsin] = (*Interpreter).interpretUnaryMath
	d[OpCos] = (*Interpreter).interpretUnaryMath
	d[OpAcos] = (*Interpreter).interpretUnaryMath
	d[OpTan] = (*Interpreter).interpretUnaryMath
	d[OpAtan] = (*Interpreter).interpretUnaryMath
	d[OpSinh] = (*Interpreter).interpretUnaryMath
	d[OpAsinh] = (*Interpreter).interpretUnaryMath
	d[OpCosh] = (*Interpreter).interpretUnaryMath
	d[OpAcosh] = (*Interpreter).interpretUnaryMath
	d[OpTanh] = (*Interpreter).interpretUnaryMath
	d[OpAtanh] = (*Interpreter).interpretUnaryMath
	d[OpErf] = (*Interpreter).interpretUnaryMath
	d[OpTgamma] = (*Interpreter).interpretUnaryMath
	d[OpLgamma] = (*Interpreter).interpretUnaryMath
	d[OpSqrt] = (*Interpreter).interpretUnaryMath
	d[OpPow] = (*Interpreter).interpretPow
	d[OpAbs] = (*Interpreter).interpretUnaryMath
	d[OpMax] = (*Interpreter).interpretMaxAndMin
	d[OpMin] = (*Interpreter).interpretMaxAndMin
	d[OpDotProduct] = (*Interpreter).interpretDotProduct
	d[OpGeneralizedDistance] = (*Interpreter).interpretNotImplemented
	d[OpEntropy] = (*Interpreter).interpretEntropy

	// list manipulation
	d[OpFirst] = (*Interpreter).interpretFirst
	d[OpTail] = (*Interpreter).interpretTail
	d[OpLast] = (*Interpreter).interpretLast
	d[OpTrunc] = (*Interpreter).interpretTrunc
	d[OpAppend] = (*Interpreter).interpretAppend
	d[OpSize] = (*Interpreter).interpretSize
	d[OpRange] = (*Interpreter).interpretRange

	// transformation
	d[OpRewrite] = (*Interpreter).interpretRewrite
	d[OpMap] = (*Interpreter).interpretMap
	d[OpFilter] = (*Interpreter).interpretFilter
	d[OpWeave] = (*Interpreter).interpretWeave
	d[OpReduce] = (*Interpreter).interpretReduce
	d[OpApply] = (*Interpreter).interpretApply
	d[OpReverse] = (*Interpreter).interpretReverse
	d[OpSort] = (*Interpreter).interpretSort

	// associative list manipulation
	d[OpIndices] = (*Interpreter).interpretIndices
	d[OpValues] = (*Interpreter).interpretValues
	d[OpContainsIndex] = (*Interpreter).interpretContainsIndex
	d[OpContainsValue] = (*Interpreter).interpretContainsValue
	d[OpRemove] = (*Interpreter).interpretRemoveAndKeep
	d[OpKeep] = (*Interpreter).interpretRemoveAndKeep
	d[OpAssociate] = (*Interpreter).interpretAssociate
	d[OpZip] = (*Interpreter).interpretZip
	d[OpUnzip] = (*Interpreter).interpretUnzip

	// logic
	d[OpAnd] = (*Interpreter).interpretAnd
	d[OpOr] = (*Interpreter).interpretOr
	d[OpXor] = (*Interpreter).interpretXor
	d[OpNot] = (*Interpreter).interpretNot

	// equivalence
	d[OpEqual] = (*Interpreter).interpretEqual
	d[OpNequal] = (*Interpreter).interpretNequal
	d[OpLess] = (*Interpreter).interpretLessAndLequal
	d[OpLequal] = (*Interpreter).interpretLessAndLequal
	d[OpGreater] = (*Interpreter).interpretGreaterAndGequal
	d[OpGequal] = (*Interpreter).interpretGreaterAndGequal
	d[OpTypeEquals] = (*Interpreter).interpretTypeEqualities
	d[OpTypeNequals] = (*Interpreter).interpretTypeEqualities

	// built-in constants and variables
	d[OpTrue] = (*Interpreter).interpretTrue
	d[OpFalse] = (*Interpreter).interpretFalse
	d[OpNull] = (*Interpreter).interpretNull

	// data types
	d[OpList] = (*Interpreter).interpretList
	d[OpAssoc] = (*Interpreter).interpretAssoc
	d[OpNumber] = (*Interpreter).interpretNumber
	d[OpString] = (*Interpreter).interpretString
	d[OpSymbol] = (*Interpreter).interpretSymbol

	// node types
	d[OpGetType] = (*Interpreter).interpretGetType
	d[OpGetTypeString] = (*Interpreter).interpretGetTypeString
	d[OpSetType] = (*Interpreter).interpretSetType
	d[OpFormat] = (*Interpreter).interpretFormat

	// node management: labels, comments, and concurrency
	d[OpGetLabels] = (*Interpreter).interpretGetLabels
	d[OpGetAllLabels] = (*Interpreter).interpretGetAllLabels
	d[OpSetLabels] = (*Interpreter).interpretSetLabels
	d[OpZipLabels] = (*Interpreter).interpretZipLabels
	d[OpGetComments] = (*Interpreter).interpretGetComments
	d[OpSetComments] = (*Interpreter).interpretSetComments
	d[OpGetConcurrency] = (*Interpreter).interpretGetConcurrency
	d[OpSetConcurrency] = (*Interpreter).interpretSetConcurrency
	d[OpGetValue] = (*Interpreter).interpretGetValue
	d[OpSetValue] = (*Interpreter).interpretSetValue

	// string
	d[OpExplode] = (*Interpreter).interpretExplode
	d[OpSplit] = (*Interpreter).interpretSplit
	d[OpSubstr] = (*Interpreter).interpretSubstr
	d[OpConcat] = (*Interpreter).interpretConcat

	// encryption: external collaborator, not wired in-core
	d[OpCryptoSign] = (*Interpreter).interpretNotImplemented
	d[OpCryptoSignVerify] = (*Interpreter).interpretNotImplemented
	d[OpEncrypt] = (*Interpreter).interpretNotImplemented
	d[OpDecrypt] = (*Interpreter).interpretNotImplemented

	// I/O
	d[OpPrint] = (*Interpreter).interpretPrint

	// tree merging: only total size in-core
	d[OpTotalSize] = (*Interpreter).interpretTotalSize
	d[OpMutate] = (*Interpreter).interpretNotImplemented
	d[OpCommonality] = (*Interpreter).interpretNotImplemented
	d[OpEditDistance] = (*Interpreter).interpretNotImplemented
	d[OpIntersect] = (*Interpreter).interpretNotImplemented
	d[OpUnion] = (*Interpreter).interpretNotImplemented
	d[OpDifference] = (*Interpreter).interpretNotImplemented
	d[OpMix] = (*Interpreter).interpretNotImplemented
	d[OpMixLabels] = (*Interpreter).interpretNotImplemented

	// entity merging
	d[OpTotalEntitySize] = (*Interpreter).interpretNotImplemented
	d[OpFlattenEntity] = (*Interpreter).interpretNotImplemented
	d[OpMutateEntity] = (*Interpreter).interpretNotImplemented
	d[OpCommonalityEntities] = (*Interpreter).interpretNotImplemented
	d[OpEditDistanceEntities] = (*Interpreter).interpretNotImplemented
	d[OpIntersectEntities] = (*Interpreter).interpretNotImplemented
	d[OpUnionEntities] = (*Interpreter).interpretNotImplemented
	d[OpDifferenceEntities] = (*Interpreter).interpretNotImplemented
	d[OpMixEntities] = (*Interpreter).interpretNotImplemented

	// entity details
	d[OpGetEntityComments] = (*Interpreter).interpretGetEntityComments
	d[OpRetrieveEntityRoot] = (*Interpreter).interpretRetrieveEntityRoot
	d[OpAssignEntityRoots] = (*Interpreter).interpretAssignEntityRoots
	d[OpAccumEntityRoots] = (*Interpreter).interpretAssignEntityRoots
	d[OpGetEntityRandSeed] = (*Interpreter).interpretGetEntityRandSeed
	d[OpSetEntityRandSeed] = (*Interpreter).interpretSetEntityRandSeed
	d[OpGetEntityRootPermission] = (*Interpreter).interpretGetEntityRootPermission
	d[OpSetEntityRootPermission] = (*Interpreter).interpretSetEntityRootPermission

	// entity base actions
	d[OpCreateEntities] = (*Interpreter).interpretCreateEntities
	d[OpCloneEntities] = (*Interpreter).interpretCloneEntities
	d[OpMoveEntities] = (*Interpreter).interpretMoveEntities
	d[OpDestroyEntities] = (*Interpreter).interpretDestroyEntities
	d[OpLoad] = (*Interpreter).interpretLoad
	d[OpLoadEntity] = (*Interpreter).interpretLoadEntity
	d[OpLoadPersistentEntity] = (*Interpreter).interpretLoadEntity
	d[OpStore] = (*Interpreter).interpretStore
	d[OpStoreEntity] = (*Interpreter).interpretStoreEntity
	d[OpContainsEntity] = (*Interpreter).interpretContainsEntity

	// entity query
	d[OpContainedEntities] = (*Interpreter).interpretContainedEntities
	d[OpComputeOnContainedEntities] = (*Interpreter).interpretQuery
	for t := OpQuerySelect; t <= OpComputeEntityKLDivergences; t++ {
		d[t] = (*Interpreter).interpretQuery
	}

	// entity access
	d[OpContainsLabel] = (*Interpreter).interpretContainsLabel
	d[OpAssignToEntities] = (*Interpreter).interpretAssignToEntities
	d[OpDirectAssignToEntities] = (*Interpreter).interpretAssignToEntities
	d[OpAccumToEntities] = (*Interpreter).interpretAssignToEntities
	d[OpRetrieveFromEntity] = (*Interpreter).interpretRetrieveFromEntity
	d[OpDirectRetrieveFromEntity] = (*Interpreter).interpretRetrieveFromEntity
	d[OpCallEntity] = (*Interpreter).interpretCallEntity
	d[OpCallEntityGetChanges] = (*Interpreter).interpretCallEntity
	d[OpCallContainer] = (*Interpreter).interpretCallContainer

	// not in active memory
	d[OpDeallocated] = (*Interpreter).interpretDeallocated
	d[OpUninitialized] = (*Interpreter).interpretDeallocated
	d[OpNotABuiltInType] = (*Interpreter).interpretNotImplemented

	for t := range d {
		if d[t] == nil {
			d[t] = (*Interpreter).interpretNotImplemented
		}
	}
}

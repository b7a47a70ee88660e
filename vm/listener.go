package vm

import (
	"github.com/tliron/commonlog"
)

// WriteEventKind classifies a mutation of an entity for write listeners.
type WriteEventKind uint8

const (
	WriteAssign WriteEventKind = iota
	WriteAccum
	WriteCreate
	WriteClone
	WriteMove
	WriteDestroy
	WriteSetRandSeed
)

var writeEventNames = [...]string{
	WriteAssign:      "assign",
	WriteAccum:       "accum",
	WriteCreate:      "create",
	WriteClone:       "clone",
	WriteMove:        "move",
	WriteDestroy:     "destroy",
	WriteSetRandSeed: "set_rand_seed",
}

// String returns the event kind's name.
func (k WriteEventKind) String() string {
	if int(k) < len(writeEventNames) {
		return writeEventNames[k]
	}
	return "unknown"
}

// EntityWriteListener observes every mutation of an entity root. The
// interpreter fans an event out to each registered listener whenever an
// opcode assigns, accumulates, creates, clones, moves, destroys, or
// reseeds an entity. The change node, when non-nil, describes what was
// written; listeners must not retain it past the call.
type EntityWriteListener interface {
	EntityWritten(kind WriteEventKind, entity *Entity, change *EvaluableNode)
}

// LoggingWriteListener logs every write event. Useful as an audit trail
// and as the reference listener implementation.
type LoggingWriteListener struct {
	log commonlog.Logger
}

// NewLoggingWriteListener creates a listener logging under "vm.writes".
func NewLoggingWriteListener() *LoggingWriteListener {
	return &LoggingWriteListener{log: commonlog.GetLogger("vm.writes")}
}

// EntityWritten implements EntityWriteListener.
func (l *LoggingWriteListener) EntityWritten(kind WriteEventKind, entity *Entity, change *EvaluableNode) {
	id := ""
	if entity != nil {
		id = entity.IDString()
	}
	l.log.Infof("entity %q written: %s", id, kind)
}

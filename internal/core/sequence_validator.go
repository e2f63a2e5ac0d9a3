package core

import (
	"fmt"

	"MarginIndexer/internal/event"
)

// LogOrderValidator enforces strictly increasing (block, tx index, log
// index) positions. Not thread-safe; owned by the indexer loop.
type LogOrderValidator struct {
	last    event.LogPosition
	started bool

	outOfOrder int64
}

func NewLogOrderValidator() *LogOrderValidator {
	return &LogOrderValidator{}
}

// Validate checks pos against the last accepted position. Known duplicates
// always pass; they are dropped by the caller before any state is read.
func (v *LogOrderValidator) Validate(pos event.LogPosition, isDuplicate bool) error {
	if isDuplicate || !v.started {
		return nil
	}
	if v.last.Less(pos) {
		return nil
	}
	v.outOfOrder++
	return fmt.Errorf("%w: last=%s got=%s", ErrOutOfOrder, v.last, pos)
}

// Accept records pos as the newest handled position.
func (v *LogOrderValidator) Accept(pos event.LogPosition) {
	v.last = pos
	v.started = true
}

// Last returns the newest accepted position and whether any was accepted.
func (v *LogOrderValidator) Last() (event.LogPosition, bool) {
	return v.last, v.started
}

// OutOfOrder returns how many events were rejected.
func (v *LogOrderValidator) OutOfOrder() int64 {
	return v.outOfOrder
}

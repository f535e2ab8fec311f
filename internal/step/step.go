package step

import (
	"context"

	"github.com/vk/hopgrid/internal/result"
	"github.com/vk/hopgrid/internal/row"
)

// Step is the per-copy implementation of a step type. A new value is created
// for every copy, so implementations keep their state in fields.
type Step interface {
	// Init acquires resources and validates options. An error fails the copy
	// and, through the scheduler, the whole transformation before any row moves.
	Init(ctx context.Context, sc *Context) error
	// ProcessRow handles one unit of work, typically one input row. Returning
	// false ends the copy normally.
	ProcessRow(ctx context.Context, sc *Context) (bool, error)
	// Dispose releases what Init acquired. It is called exactly once.
	Dispose(ctx context.Context, sc *Context) error
}

// SchemaBinder is implemented by steps whose output layout depends on the
// incoming row meta. BindSchema runs once, when the first input row arrives,
// or before the first ProcessRow for steps without inputs (in is nil then).
// The returned meta becomes sc.OutputMeta.
type SchemaBinder interface {
	BindSchema(ctx context.Context, sc *Context, in *row.Meta) (*row.Meta, error)
}

// RowListener observes rows passing through a step copy.
type RowListener interface {
	RowRead(meta *row.Meta, r row.Row)
	RowWritten(meta *row.Meta, r row.Row)
	ErrorRowWritten(meta *row.Meta, r row.Row)
}

// ListenerFuncs adapts optional callbacks to RowListener.
type ListenerFuncs struct {
	OnRead  func(meta *row.Meta, r row.Row)
	OnWrite func(meta *row.Meta, r row.Row)
	OnError func(meta *row.Meta, r row.Row)
}

func (l ListenerFuncs) RowRead(meta *row.Meta, r row.Row) {
	if l.OnRead != nil {
		l.OnRead(meta, r)
	}
}

func (l ListenerFuncs) RowWritten(meta *row.Meta, r row.Row) {
	if l.OnWrite != nil {
		l.OnWrite(meta, r)
	}
}

func (l ListenerFuncs) ErrorRowWritten(meta *row.Meta, r row.Row) {
	if l.OnError != nil {
		l.OnError(meta, r)
	}
}

// Host is the transformation-side view a step copy needs while running.
type Host interface {
	// StopAll requests a cooperative stop of every copy in the transformation.
	StopAll()
	PreviousResult() *result.Result
	AddResultRow(meta *row.Meta, r row.Row)
	AddResultFile(f result.File)
}

// Package socketio_output publishes rows as socket.io events.
package socketio_output

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/step"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// AckErrorCode tags rows whose acknowledgement never arrived.
const AckErrorCode = "SOCKETIO001"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the step with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStep("socketio_output", &registry.StepPlugin{
		New:         func() step.Step { return &Step{} },
		Description: "Emits every row as a socket.io event.",
	})
}

// Step emits one event per row. The payload is an object keyed by field
// name. When ack_event is set the step waits for that event after every
// emit before passing the row on.
type Step struct {
	event      string
	ackEvent   string
	ackTimeout time.Duration

	io   *socket.Socket
	acks chan []any
}

func (s *Step) Init(ctx context.Context, sc *step.Context) error {
	opts := sc.Options()
	target, err := opts.Required("url")
	if err != nil {
		return err
	}
	s.event = opts.String("event", "row")
	s.ackEvent = opts.String("ack_event", "")
	s.ackTimeout = opts.Duration("ack_timeout", 10*time.Second)

	logger := sc.Logger().With("url", target)
	s.io, err = connect(ctx, logger, clientOptions{
		URL:                sc.Expand(target),
		Namespace:          opts.String("namespace", "/"),
		InsecureSkipVerify: opts.Bool("insecure_skip_verify", false),
		ConnectTimeout:     opts.Duration("connect_timeout", 15*time.Second),
	})
	if err != nil {
		return err
	}
	if s.ackEvent != "" {
		s.acks = make(chan []any, 1)
		s.io.On(types.EventName(s.ackEvent), func(data ...any) {
			select {
			case s.acks <- data:
			default:
			}
		})
	}
	return nil
}

// payload renders a row as a JSON-friendly object.
func payload(meta *row.Meta, r row.Row) map[string]any {
	out := make(map[string]any, meta.Size())
	for i, vm := range meta.Fields() {
		v := r[i]
		if f, ok := v.(*big.Float); ok {
			v = f.Text('f', -1)
		}
		out[vm.Name] = v
	}
	return out
}

func (s *Step) ProcessRow(ctx context.Context, sc *step.Context) (bool, error) {
	r, err := sc.GetRow(ctx)
	if err != nil || r == nil {
		return false, err
	}
	if !s.io.Connected() {
		return false, step.Fatal(fmt.Errorf("socket.io client %s is not connected", s.io.Id()))
	}
	s.io.Emit(s.event, payload(sc.InputMeta(), r))
	if s.ackEvent != "" {
		select {
		case <-s.acks:
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.ackTimeout):
			return true, step.NewRowError(AckErrorCode, "", fmt.Errorf("timed out after %v waiting for event %q", s.ackTimeout, s.ackEvent))
		}
	}
	sc.IncLinesOutput()
	return true, sc.PutRow(ctx, nil, r)
}

func (s *Step) Dispose(ctx context.Context, sc *step.Context) error {
	if s.io != nil {
		sc.Logger().Debug("Disconnecting socket client", "sid", s.io.Id())
		s.io.Disconnect()
	}
	return nil
}

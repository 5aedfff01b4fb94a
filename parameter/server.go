package parameter

import (
	"context"
	"fmt"
	"time"

	"github.com/rclgo/rclgo/guardcondition"
	"github.com/rclgo/rclgo/internal/clock"
	"github.com/rclgo/rclgo/internal/rlog"
	"github.com/rclgo/rclgo/internal/wire/cdr"
	"github.com/rclgo/rclgo/mw"
	"github.com/rclgo/rclgo/selector"
)

// middleware is the subset of capability ParameterServer needs beyond the
// plain take/send contract: minting a guard-condition handle for its own
// "something changed" notification.
type middleware interface {
	mw.Middleware
	CreateGuardCondition(gc *guardcondition.GuardCondition) mw.GuardHandle
	CreateServer(name string) mw.ServiceHandle
}

// ParameterServer hosts the six parameter services on its own background
// Selector thread (spec.md §4.7), over a Store every service reads and
// writes through the same RWLock. Dropping it (calling Halt) stops the
// thread via its own guard condition, the way original_source's
// AsyncWait::drop signals the server's halt guard condition.
type ParameterServer struct {
	store    *Store
	sel      *selector.Selector
	changed  *guardcondition.GuardCondition
	haltGC   *guardcondition.GuardCondition
	haltMW   mw.GuardHandle
	done     chan struct{}
	handles  []mw.ServiceHandle
	log      *rlog.Limited
}

// SetLogger installs log as the destination for this server's lifecycle and
// handler-error diagnostics, rate limited to n occurrences per window per
// category.
func (p *ParameterServer) SetLogger(log *rlog.Logger, window time.Duration, n int) {
	p.log = rlog.NewLimited(log, window, n)
}

// New spawns a ParameterServer hosting its six services under
// "<nodeName>/list_parameters" etc, per spec.md §4.7's naming convention.
// The returned ParameterServer owns a background goroutine; call Halt to
// stop it.
func New(ctx context.Context, contextID string, middle middleware, clk clock.Source, nodeName string, store *Store) (*ParameterServer, error) {
	sel, err := selector.New(ctx, contextID, middle, clk)
	if err != nil {
		return nil, err
	}

	// changed is handed out via ChangedGuardCondition, not registered on this
	// server's own selector: a caller wanting to wait on it clones it onto
	// their own middleware/selector via CreateGuardCondition, the way
	// original_source's add_parameter_server callback does.
	changed := guardcondition.New()

	srvList := middle.CreateServer(nodeName + "/list_parameters")
	srvGet := middle.CreateServer(nodeName + "/get_parameters")
	srvSet := middle.CreateServer(nodeName + "/set_parameters")
	srvSetAtomic := middle.CreateServer(nodeName + "/set_parameters_atomically")
	srvDescribe := middle.CreateServer(nodeName + "/describe_parameters")
	srvGetTypes := middle.CreateServer(nodeName + "/get_parameter_types")

	p := &ParameterServer{
		store:   store,
		sel:     sel,
		changed: changed,
		handles: []mw.ServiceHandle{srvList, srvGet, srvSet, srvSetAtomic, srvDescribe, srvGetTypes},
		log:     rlog.NewLimited(rlog.Nop(), time.Second, 1),
	}

	sel.AddServer(srvList, func(payload any, reqID mw.RequestID) {
		req, _ := payload.(ListParametersRequest)
		names, prefixes := store.List(req.Prefixes, req.Depth)
		p.logSendErr("list_parameters", req, middle.SendResponse(srvList, reqID, ListParametersResponse{Names: names, Prefixes: prefixes}))
	})

	sel.AddServer(srvGet, func(payload any, reqID mw.RequestID) {
		req, _ := payload.(GetParametersRequest)
		values := make([]Value, len(req.Names))
		for i, name := range req.Names {
			if v, ok := store.Get(name); ok {
				values[i] = v.Value
			}
		}
		p.logSendErr("get_parameters", req, middle.SendResponse(srvGet, reqID, GetParametersResponse{Values: values}))
	})

	sel.AddServer(srvSet, func(payload any, reqID mw.RequestID) {
		req, _ := payload.(SetParametersRequest)
		results, anyUpdated := store.SetNonAtomic(req.Parameters)
		if anyUpdated {
			_ = changed.Trigger()
		}
		p.logSendErr("set_parameters", req, middle.SendResponse(srvSet, reqID, SetParametersResponse{Results: results}))
	})

	sel.AddServer(srvSetAtomic, func(payload any, reqID mw.RequestID) {
		req, _ := payload.(SetParametersAtomicallyRequest)
		result := store.SetAtomically(req.Parameters)
		if result.Successful {
			_ = changed.Trigger()
		}
		p.logSendErr("set_parameters_atomically", req, middle.SendResponse(srvSetAtomic, reqID, SetParametersAtomicallyResponse{Result: result}))
	})

	sel.AddServer(srvDescribe, func(payload any, reqID mw.RequestID) {
		req, _ := payload.(DescribeParametersRequest)
		p.logSendErr("describe_parameters", req, middle.SendResponse(srvDescribe, reqID, DescribeParametersResponse{Descriptors: store.Describe(req.Names)}))
	})

	sel.AddServer(srvGetTypes, func(payload any, reqID mw.RequestID) {
		req, _ := payload.(GetParameterTypesRequest)
		p.logSendErr("get_parameter_types", req, middle.SendResponse(srvGetTypes, reqID, GetParameterTypesResponse{Types: store.GetTypes(req.Names)}))
	})

	haltGC := guardcondition.New()
	haltHandle := middle.CreateGuardCondition(haltGC)
	sel.AddGuardCondition(haltHandle, haltGC, sel.Halt, false)
	p.haltGC = haltGC
	p.haltMW = haltHandle

	p.done = make(chan struct{})
	go p.run(ctx)

	return p, nil
}

// logSendErr logs a failed SendResponse at Warning level, including a
// diagnostic preview of the request that triggered it, rate limited per
// service name so a wedged client can't flood the log.
func (p *ParameterServer) logSendErr(service string, req any, err error) {
	if err == nil {
		return
	}
	p.log.Warn(service, "parameter service response failed", func(b *rlog.Builder) *rlog.Builder {
		return b.Err(err).Str("service", service).Str("request", cdr.Preview(req, 0))
	})
}

func (p *ParameterServer) run(ctx context.Context) {
	p.log.Info("lifecycle", "parameter server thread starting", func(b *rlog.Builder) *rlog.Builder {
		return b.Int("services", len(p.handles))
	})
	defer func() {
		p.log.Info("lifecycle", "parameter server thread stopped", nil)
		close(p.done)
	}()
	for {
		if err := p.sel.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Halt stops the background thread and waits for it to exit. Calling it
// again only re-triggers the halt guard condition and returns at once.
func (p *ParameterServer) Halt() {
	if err := p.haltGC.Trigger(); err != nil {
		return
	}
	<-p.done
}

// ChangedGuardCondition exposes the guard condition triggered after any
// successful set, so a caller's own Selector can wait on it the way
// original_source's selector.add_parameter_server callback does, then call
// Store.TakeUpdated to see what changed.
func (p *ParameterServer) ChangedGuardCondition() *guardcondition.GuardCondition { return p.changed }

// Store returns the parameter store this server hosts.
func (p *ParameterServer) Store() *Store { return p.store }

func (p *ParameterServer) String() string {
	return fmt.Sprintf("parameter.ParameterServer{services=%d}", len(p.handles))
}

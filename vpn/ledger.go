package vpn

import (
	"context"
	"fmt"

	"github.com/masyavpn/masyavpn/common"
)

// StepID identifies one provisioning step of a connection attempt.
// Steps run in declaration order.
type StepID int

const (
	StepGatewayResolved StepID = iota
	StepConfigWritten
	StepServerIPResolved
	StepProxyEngineUp
	StepConfigDeleted
	StepAdapterBridgeUp
	StepConnectivityVerified
	StepAdapterIPAssigned
	StepDNSAssigned
	StepDefaultRouteInstalled
	StepGatewayReresolved
	StepExceptionRouteInstalled

	stepCount
)

var stepNames = [stepCount]string{
	"gateway-resolved",
	"config-written",
	"server-ip-resolved",
	"proxy-engine-up",
	"config-deleted",
	"adapter-bridge-up",
	"connectivity-verified",
	"adapter-ip-assigned",
	"dns-assigned",
	"default-route-installed",
	"gateway-reresolved",
	"exception-route-installed",
}

func (s StepID) String() string {
	if s < 0 || s >= stepCount {
		return fmt.Sprintf("step-%d", int(s))
	}
	return stepNames[s]
}

// step pairs a forward action with its compensating reverse action.
// A nil reverse means the step leaves nothing behind.
type step struct {
	id      StepID
	forward func(ctx context.Context) error
	reverse func(ctx context.Context)
}

// Ledger records which steps of the current attempt completed.
type Ledger struct {
	done [stepCount]bool
}

// Done reports whether step id completed.
func (l *Ledger) Done(id StepID) bool {
	return l.done[id]
}

// Completed returns the completed steps in execution order.
func (l *Ledger) Completed() []StepID {
	var ids []StepID
	for id := StepID(0); id < stepCount; id++ {
		if l.done[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns how many steps completed.
func (l *Ledger) Count() int {
	n := 0
	for _, d := range l.done {
		if d {
			n++
		}
	}
	return n
}

// run executes steps in order, marking each one as it succeeds. The first
// failure stops the run and is returned wrapped in a *common.StepError.
func (l *Ledger) run(ctx context.Context, log *common.ScopedLogger, steps []step) error {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return &common.StepError{Step: s.id.String(), Err: err}
		}
		log.Debug("Step %s", s.id)
		if err := s.forward(ctx); err != nil {
			log.Warn("Step %s failed: %v", s.id, err)
			return &common.StepError{Step: s.id.String(), Err: err}
		}
		l.done[s.id] = true
		log.Info("Step %s done", s.id)
	}
	return nil
}

// unwind reverses every completed step in strict reverse order. Each reverse
// action runs even if an earlier one failed or panicked.
func (l *Ledger) unwind(ctx context.Context, log *common.ScopedLogger, steps []step) {
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if !l.done[s.id] {
			continue
		}
		if s.reverse != nil {
			attempt(ctx, log, s.id.String(), s.reverse)
		}
		l.done[s.id] = false
	}
}

// attempt runs a best-effort cleanup action, logging instead of propagating.
func attempt(ctx context.Context, log *common.ScopedLogger, name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("Cleanup %s panicked: %v", name, r)
		}
	}()
	log.Debug("Undo %s", name)
	fn(ctx)
}

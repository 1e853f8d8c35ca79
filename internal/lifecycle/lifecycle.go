package lifecycle

import (
	"cafe-system/internal/domain"
)

// rule lists who may perform one edge of the state machine.
type rule struct {
	roles []domain.Role
	// owner lets the order's customer perform the edge regardless of role.
	owner bool
}

func (r rule) allows(o domain.Order, a domain.Actor) bool {
	if r.owner && a.UserID == o.CustomerID {
		return true
	}
	for _, role := range r.roles {
		if role != a.Role {
			continue
		}
		if role == domain.RoleClient {
			return a.UserID == o.CustomerID
		}
		return a.WorksAt(o.BranchID)
	}
	return false
}

var table = map[domain.OrderStatus]map[domain.OrderStatus]rule{
	domain.StatusNew: {
		domain.StatusInProgress: {roles: []domain.Role{domain.RoleBarista}},
		domain.StatusCancelled:  {roles: []domain.Role{domain.RoleAdmin}, owner: true},
	},
	domain.StatusInProgress: {
		domain.StatusReady:     {roles: []domain.Role{domain.RoleBarista}},
		domain.StatusCancelled: {roles: []domain.Role{domain.RoleBarista, domain.RoleAdmin}},
	},
	domain.StatusReady: {
		domain.StatusCompleted: {roles: []domain.Role{domain.RoleBarista, domain.RoleWaiter, domain.RoleAdmin}},
		domain.StatusCancelled: {roles: []domain.Role{domain.RoleAdmin}},
	},
}

// Transition is a planned status change.
type Transition struct {
	From, To domain.OrderStatus
}

func (t Transition) Cancels() bool   { return t.To == domain.StatusCancelled }
func (t Transition) Completes() bool { return t.To == domain.StatusCompleted }

// Plan checks target against the order's current status and the actor.
// Asking for the current status is a no-op: ok is false and err is nil.
func Plan(o domain.Order, target domain.OrderStatus, a domain.Actor) (tr Transition, ok bool, err error) {
	if !target.Valid() {
		return Transition{}, false, domain.Validationf("unknown order status %q", target)
	}
	if o.Status == target {
		return Transition{}, false, nil
	}
	r, legal := table[o.Status][target]
	if !legal {
		return Transition{}, false, domain.IllegalTransition(o.Status, target)
	}
	if !r.allows(o, a) {
		return Transition{}, false, domain.Forbiddenf("%s may not move order %d from %s to %s", a.Role, o.ID, o.Status, target)
	}
	return Transition{From: o.Status, To: target}, true, nil
}

// Next lists the statuses reachable from s, ignoring roles.
func Next(s domain.OrderStatus) []domain.OrderStatus {
	var out []domain.OrderStatus
	for _, to := range []domain.OrderStatus{domain.StatusInProgress, domain.StatusReady, domain.StatusCompleted, domain.StatusCancelled} {
		if _, ok := table[s][to]; ok {
			out = append(out, to)
		}
	}
	return out
}

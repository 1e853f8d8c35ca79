package domain

import "fmt"

type OrderStatus string

const (
	StatusNew        OrderStatus = "new"
	StatusInProgress OrderStatus = "in_progress"
	StatusReady      OrderStatus = "ready"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Active statuses keep a dine-in table occupied.
func (s OrderStatus) Active() bool {
	return s == StatusNew || s == StatusInProgress || s == StatusReady
}

func (s OrderStatus) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

func ParseStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !st.Valid() {
		return "", Validationf("unknown order status %q", s)
	}
	return st, nil
}

type Role string

const (
	RoleClient  Role = "client"
	RoleBarista Role = "barista"
	RoleWaiter  Role = "waiter"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleBarista, RoleWaiter, RoleAdmin:
		return true
	}
	return false
}

// Staff roles work inside a branch.
func (r Role) Staff() bool { return r == RoleBarista || r == RoleWaiter || r == RoleAdmin }

func (r Role) String() string { return string(r) }

// Actor is whoever asks for a state change.
type Actor struct {
	UserID   int64
	Role     Role
	BranchID *int64
}

func (a Actor) String() string { return fmt.Sprintf("%s#%d", a.Role, a.UserID) }

// WorksAt reports whether the actor may act on behalf of branchID.
// Admins and staff without a bound branch are not restricted.
func (a Actor) WorksAt(branchID int64) bool {
	if a.Role == RoleAdmin || a.BranchID == nil {
		return a.Role.Staff()
	}
	return a.Role.Staff() && *a.BranchID == branchID
}

package notify

import (
	"fmt"

	"cafe-system/internal/domain"
)

var statusTitles = map[domain.OrderStatus]string{
	domain.StatusInProgress: "is being prepared",
	domain.StatusReady:      "is ready",
	domain.StatusCompleted:  "is completed",
}

// inboxFor derives the inbox rows an event produces. Branch channels feed
// the barista inbox, user channels the client inbox.
func inboxFor(e domain.Event) (*domain.BranchNotification, *domain.ClientNotification, error) {
	scope, id, err := e.Channel.Parse()
	if err != nil {
		return nil, nil, err
	}
	branch := scope == "branch"

	switch e.Type {
	case domain.EventOrderCreated:
		var p domain.OrderCreatedPayload
		if err := e.Decode(&p); err != nil {
			return nil, nil, err
		}
		if !branch {
			return nil, nil, nil
		}
		where := "takeaway"
		if p.TableNumber != nil {
			where = fmt.Sprintf("table %d", *p.TableNumber)
		}
		return &domain.BranchNotification{
			BranchID: id, OrderID: &p.OrderID,
			Title: fmt.Sprintf("New order #%d", p.OrderID),
			Body:  fmt.Sprintf("%s, %d line(s), total %s", where, p.Lines, p.TotalPrice.StringFixed(2)),
		}, nil, nil

	case domain.EventOrderAdvanced:
		var p domain.OrderAdvancedPayload
		if err := e.Decode(&p); err != nil {
			return nil, nil, err
		}
		if branch {
			return nil, nil, nil
		}
		title, ok := statusTitles[p.To]
		if !ok {
			return nil, nil, nil
		}
		return nil, &domain.ClientNotification{
			ClientID: id,
			Title:    fmt.Sprintf("Order #%d %s", p.OrderID, title),
		}, nil

	case domain.EventOrderCancelled:
		var p domain.OrderCancelledPayload
		if err := e.Decode(&p); err != nil {
			return nil, nil, err
		}
		if branch {
			return &domain.BranchNotification{
				BranchID: id, OrderID: &p.OrderID,
				Title: fmt.Sprintf("Order #%d cancelled", p.OrderID),
				Body:  fmt.Sprintf("cancelled by %s while %s", p.Actor, p.From),
			}, nil, nil
		}
		body := ""
		if p.Refunded > 0 {
			body = fmt.Sprintf("%d bonus points returned", p.Refunded)
		}
		return nil, &domain.ClientNotification{
			ClientID: id,
			Title:    fmt.Sprintf("Order #%d was cancelled", p.OrderID),
			Body:     body,
		}, nil

	case domain.EventOrderReminder:
		var p domain.OrderReminderPayload
		if err := e.Decode(&p); err != nil {
			return nil, nil, err
		}
		return &domain.BranchNotification{
			BranchID: id, OrderID: &p.OrderID,
			Title: fmt.Sprintf("Order #%d is still waiting", p.OrderID),
			Body:  fmt.Sprintf("placed %d seconds ago and not started", p.Waiting),
		}, nil, nil

	case domain.EventStockBelowMinimum:
		var p domain.StockPayload
		if err := e.Decode(&p); err != nil {
			return nil, nil, err
		}
		return &domain.BranchNotification{
			BranchID: id,
			Title:    fmt.Sprintf("Low stock: %s", p.Name),
			Body:     fmt.Sprintf("%s left, minimum %s", p.Quantity.String(), p.Threshold.String()),
		}, nil, nil
	}
	return nil, nil, nil
}

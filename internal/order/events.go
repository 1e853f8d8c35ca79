package order

import (
	"cafe-system/internal/catalog"
	"cafe-system/internal/domain"
	"cafe-system/internal/stock"
)

type eventSpec struct {
	ch      domain.ChannelKey
	typ     domain.EventType
	payload any
}

func events(specs ...eventSpec) ([]domain.Event, error) {
	out := make([]domain.Event, 0, len(specs))
	for _, s := range specs {
		e, err := domain.NewEvent(s.ch, s.typ, s.payload)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// crossingEvents turns minimal-limit crossings into branch events.
func crossingEvents(v *catalog.View, branchID int64, cs []stock.Crossing) ([]domain.Event, error) {
	specs := make([]eventSpec, 0, len(cs))
	for _, c := range cs {
		typ := domain.EventStockRestored
		if c.Below {
			typ = domain.EventStockBelowMinimum
		}
		specs = append(specs, eventSpec{domain.BranchChannel(branchID), typ, domain.StockPayload{
			BranchID:  branchID,
			Ref:       c.Ref,
			Name:      v.NameOf(c.Ref),
			Quantity:  c.Quantity,
			Threshold: c.Threshold,
		}})
	}
	return events(specs...)
}

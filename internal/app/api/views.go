package api

import (
	"time"

	"github.com/shopspring/decimal"

	"cafe-system/internal/domain"
)

type lineView struct {
	Kind           domain.StockKind `json:"kind"`
	ItemID         *int64           `json:"item_id,omitempty"`
	ReadyProductID *int64           `json:"ready_product_id,omitempty"`
	Quantity       int              `json:"quantity"`
	UnitPrice      decimal.Decimal  `json:"unit_price"`
	Total          decimal.Decimal  `json:"total"`
}

type orderView struct {
	domain.Order
	InInstitution bool       `json:"in_institution"`
	Lines         []lineView `json:"lines"`
}

func viewOrder(o domain.Order) orderView {
	v := orderView{Order: o, InInstitution: o.InInstitution(), Lines: make([]lineView, 0, len(o.Lines))}
	for _, l := range o.Lines {
		lv := lineView{Quantity: l.Qty(), UnitPrice: l.UnitPrice(), Total: domain.LineTotal(l)}
		switch x := l.(type) {
		case domain.RecipeLine:
			id := x.ItemID
			lv.Kind, lv.ItemID = domain.StockMenuItem, &id
		case domain.ReadyProductLine:
			id := x.ProductID
			lv.Kind, lv.ReadyProductID = domain.StockReadyProduct, &id
		}
		v.Lines = append(v.Lines, lv)
	}
	return v
}

func viewOrders(orders []domain.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, viewOrder(o))
	}
	return out
}

type stockView struct {
	BranchID    int64                     `json:"branch_id"`
	Ingredients map[int64]decimal.Decimal `json:"ingredients"`
	Ready       map[int64]int64           `json:"ready_products"`
}

func viewStock(s domain.StockSnapshot) stockView {
	return stockView{BranchID: s.BranchID, Ingredients: s.Ingredients, Ready: s.Ready}
}

// frame is the wire form of a stream frame.
type frame struct {
	Type    string    `json:"type"`
	ID      string    `json:"id,omitempty"`
	Seq     int64     `json:"seq,omitempty"`
	TS      time.Time `json:"ts"`
	Payload any       `json:"payload,omitempty"`
}

func viewFrame(f domain.StreamFrame) frame {
	if f.Heartbeat || f.Event == nil {
		return frame{Type: "heartbeat", TS: f.At}
	}
	e := f.Event
	return frame{Type: string(e.Type), ID: e.ID.String(), Seq: e.Seq, TS: e.CreatedAt, Payload: e.Payload}
}

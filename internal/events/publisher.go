// Package events publishes run lifecycle notifications over NATS so
// downstream consumers (alerting, dashboards) can follow execution
// without polling the database.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/schema"
	"main/internal/store"
)

const (
	SubjectRunCreated = "exec.run.created"
	SubjectRunStatus  = "exec.run.status"
	SubjectOrderFill  = "exec.order.fill"
)

// RunEvent is the payload for run lifecycle subjects.
type RunEvent struct {
	RunID   string           `json:"run_id"`
	Project string           `json:"project"`
	Mode    schema.RunMode   `json:"mode"`
	Status  schema.RunStatus `json:"status"`
	Reason  schema.Reason    `json:"reason,omitempty"`
	Orders  int              `json:"orders,omitempty"`
	At      time.Time        `json:"at"`
}

// FillEvent is the payload for fill subjects.
type FillEvent struct {
	RunID  string            `json:"run_id"`
	Tag    string            `json:"tag"`
	Symbol string            `json:"symbol"`
	Side   schema.OrderSide  `json:"side"`
	Qty    decimal.Decimal   `json:"qty"`
	Price  decimal.Decimal   `json:"price"`
	Source schema.FillSource `json:"source"`
	At     time.Time         `json:"at"`
}

// Publisher fans run lifecycle events out over NATS. Publishing is
// best-effort: a broken connection logs and drops, it never fails the
// run. A nil Publisher discards everything.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher wraps an established NATS connection.
func NewPublisher(conn *nats.Conn) *Publisher {
	return &Publisher{conn: conn}
}

// RunCreated announces a newly accepted run.
func (p *Publisher) RunCreated(run *store.Run, orderCount int) {
	p.publish(SubjectRunCreated, RunEvent{
		RunID:   run.RunID,
		Project: run.Project,
		Mode:    run.Mode,
		Status:  run.Status,
		Orders:  orderCount,
		At:      time.Now().UTC(),
	})
}

// RunStatus announces a run status change.
func (p *Publisher) RunStatus(run *store.Run) {
	p.publish(SubjectRunStatus, RunEvent{
		RunID:   run.RunID,
		Project: run.Project,
		Mode:    run.Mode,
		Status:  run.Status,
		Reason:  run.Reason,
		At:      time.Now().UTC(),
	})
}

// OrderFill announces a recorded fill.
func (p *Publisher) OrderFill(order *store.Order, qty, price decimal.Decimal, source schema.FillSource) {
	p.publish(SubjectOrderFill, FillEvent{
		RunID:  order.RunID,
		Tag:    order.ClientTag,
		Symbol: order.Symbol,
		Side:   order.Side,
		Qty:    qty,
		Price:  price,
		Source: source,
		At:     time.Now().UTC(),
	})
}

func (p *Publisher) publish(subject string, payload any) {
	if p == nil || p.conn == nil {
		return
	}
	bytes, err := json.Marshal(payload)
	if err != nil {
		logs.Errorf("marshal %s event: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, bytes); err != nil {
		logs.Warnf("publish %s: %v", subject, err)
	}
}

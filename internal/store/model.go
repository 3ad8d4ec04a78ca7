package store

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"main/internal/schema"
)

// Run is one execution session covering a batch of orders.
type Run struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	RunID string `gorm:"type:varchar(40);uniqueIndex"`

	Project string         `gorm:"type:varchar(64);index"`
	Mode    schema.RunMode `gorm:"type:varchar(8)"`

	Status  schema.RunStatus `gorm:"type:varchar(16);index"`
	Reason  schema.Reason    `gorm:"type:varchar(40)"`
	Message string           `gorm:"type:text"`

	StalledAt     *time.Time
	StalledReason schema.Reason `gorm:"type:varchar(40)"`
	Deadline      *time.Time

	Sizing     datatypes.JSON `gorm:"type:jsonb"`
	Submission datatypes.JSON `gorm:"type:jsonb"`
	Risk       datatypes.JSON `gorm:"type:jsonb"`
	Summary    datatypes.JSON `gorm:"type:jsonb"`
	Provenance datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	StartedAt *time.Time
	EndedAt   *time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Run) TableName() string { return "runs" }

// Order is one child order of a run, or a free-standing order.
type Order struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID int64  `gorm:"uniqueIndex"`

	RunID     string `gorm:"type:varchar(40);index"`
	ClientTag string `gorm:"type:varchar(64);uniqueIndex"`
	Seq       int

	Symbol     string           `gorm:"type:varchar(32);index"`
	Side       schema.OrderSide `gorm:"type:varchar(4)"`
	Type       schema.OrderType `gorm:"type:varchar(12)"`
	LimitPrice *decimal.Decimal `gorm:"type:numeric(20,10)"`

	RequestedQty decimal.Decimal `gorm:"type:numeric(30,10)"`
	FilledQty    decimal.Decimal `gorm:"type:numeric(30,10)"`
	AvgFillPrice decimal.Decimal `gorm:"type:numeric(20,10)"`

	Status          schema.OrderStatus `gorm:"type:varchar(12);index"`
	StatusChangedAt time.Time
	LowConfidence   bool

	BrokerOrderID string `gorm:"type:varchar(64)"`
	CommandID     string `gorm:"type:varchar(64)"`
	PendingAt     *time.Time

	// BaselineQty is the holding quantity captured at submission time.
	// Nil means no baseline exists and fills must never be inferred
	// from holdings for this order.
	BaselineQty *decimal.Decimal `gorm:"type:numeric(30,10)"`

	RejectReason schema.Reason  `gorm:"type:varchar(40)"`
	Provenance   datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.RequestedQty.Sub(o.FilledQty)
}

// FilledWithinTolerance reports whether the order counts as fully filled.
func (o *Order) FilledWithinTolerance(tolerance decimal.Decimal) bool {
	return o.RequestedQty.Sub(o.FilledQty).Abs().LessThanOrEqual(tolerance)
}

// Fill is one incremental execution against an order. Immutable once written.
type Fill struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	FillID int64  `gorm:"uniqueIndex"`

	OrderID   int64             `gorm:"index;uniqueIndex:idx_fill_dedupe"`
	Source    schema.FillSource `gorm:"type:varchar(20);uniqueIndex:idx_fill_dedupe"`
	Watermark string            `gorm:"type:varchar(64);uniqueIndex:idx_fill_dedupe"`

	Qty        decimal.Decimal `gorm:"type:numeric(30,10)"`
	Price      decimal.Decimal `gorm:"type:numeric(20,10)"`
	Commission decimal.Decimal `gorm:"type:numeric(20,10)"`

	ExecutedAt time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (Fill) TableName() string { return "fills" }

// Typed access to the JSON parameter bags.

func (r *Run) SizingSpec() (schema.SizingSpec, error) {
	var s schema.SizingSpec
	return s, unmarshalBag(r.Sizing, &s)
}

func (r *Run) SetSizingSpec(s schema.SizingSpec) error {
	return marshalBag(&r.Sizing, s)
}

func (r *Run) SubmissionMeta() (schema.SubmissionMeta, error) {
	var m schema.SubmissionMeta
	return m, unmarshalBag(r.Submission, &m)
}

func (r *Run) SetSubmissionMeta(m schema.SubmissionMeta) error {
	return marshalBag(&r.Submission, m)
}

func (r *Run) RiskSnapshot() (schema.RiskSnapshot, error) {
	var s schema.RiskSnapshot
	return s, unmarshalBag(r.Risk, &s)
}

func (r *Run) SetRiskSnapshot(s schema.RiskSnapshot) error {
	return marshalBag(&r.Risk, s)
}

func (r *Run) CompletionSummary() (schema.CompletionSummary, error) {
	var s schema.CompletionSummary
	return s, unmarshalBag(r.Summary, &s)
}

func (r *Run) SetCompletionSummary(s schema.CompletionSummary) error {
	return marshalBag(&r.Summary, s)
}

func (o *Order) ProvenanceMap() (schema.Provenance, error) {
	var p schema.Provenance
	return p, unmarshalBag(o.Provenance, &p)
}

func (o *Order) SetProvenance(p schema.Provenance) error {
	return marshalBag(&o.Provenance, p)
}

func marshalBag(dst *datatypes.JSON, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	*dst = datatypes.JSON(data)
	return nil
}

func unmarshalBag(src datatypes.JSON, v any) error {
	if len(src) == 0 {
		return nil
	}
	return json.Unmarshal(src, v)
}

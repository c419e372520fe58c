package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DepthLevel is the granularity of an order book snapshot.
type DepthLevel uint8

const (
	L1 DepthLevel = 1
	L2 DepthLevel = 2
	L3 DepthLevel = 3
)

func (l DepthLevel) Valid() bool {
	return l >= L1 && l <= L3
}

func (l DepthLevel) String() string {
	return fmt.Sprintf("L%d", uint8(l))
}

// BookRecord is one side entry of a book. The set of implementations is closed:
// BookRecordL1, BookRecordL2 and BookRecordL3.
type BookRecord interface {
	Level() DepthLevel
	RecordPrice() decimal.Decimal
	RecordSize() decimal.Decimal
	bookRecord()
}

// BookRecordL1 is the best bid or ask aggregated by price.
type BookRecordL1 struct {
	Price     decimal.Decimal
	Size      decimal.Decimal
	NumOrders int
}

// BookRecordL2 is one aggregated price level.
type BookRecordL2 struct {
	Price     decimal.Decimal
	Size      decimal.Decimal
	NumOrders int
}

// BookRecordL3 is a single resting order.
type BookRecordL3 struct {
	Price   decimal.Decimal
	Size    decimal.Decimal
	OrderID string
}

func (BookRecordL1) Level() DepthLevel { return L1 }
func (BookRecordL2) Level() DepthLevel { return L2 }
func (BookRecordL3) Level() DepthLevel { return L3 }

func (r BookRecordL1) RecordPrice() decimal.Decimal { return r.Price }
func (r BookRecordL2) RecordPrice() decimal.Decimal { return r.Price }
func (r BookRecordL3) RecordPrice() decimal.Decimal { return r.Price }

func (r BookRecordL1) RecordSize() decimal.Decimal { return r.Size }
func (r BookRecordL2) RecordSize() decimal.Decimal { return r.Size }
func (r BookRecordL3) RecordSize() decimal.Decimal { return r.Size }

func (BookRecordL1) bookRecord() {}
func (BookRecordL2) bookRecord() {}
func (BookRecordL3) bookRecord() {}

type Book struct {
	ProductID string
	Sequence  uint64
	Level     DepthLevel
	Bids      []BookRecord
	Asks      []BookRecord
}

// NewBook orders bids highest price first and asks lowest price first. The sort
// is stable so L3 records keep their queue position within a price.
func NewBook(productID string, sequence uint64, level DepthLevel, bids, asks []BookRecord) Book {
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].RecordPrice().GreaterThan(bids[j].RecordPrice())
	})
	sort.SliceStable(asks, func(i, j int) bool {
		return asks[i].RecordPrice().LessThan(asks[j].RecordPrice())
	})
	return Book{
		ProductID: productID,
		Sequence:  sequence,
		Level:     level,
		Bids:      bids,
		Asks:      asks,
	}
}

func (b Book) BestBid() (BookRecord, bool) {
	if len(b.Bids) == 0 {
		return nil, false
	}
	return b.Bids[0], true
}

func (b Book) BestAsk() (BookRecord, bool) {
	if len(b.Asks) == 0 {
		return nil, false
	}
	return b.Asks[0], true
}

type ChangeAction string

const (
	// ChangeSet replaces the size at a price level (L2) or of an order (L3).
	ChangeSet ChangeAction = "set"
	// ChangeRemove deletes the price level or order.
	ChangeRemove ChangeAction = "remove"
	// ChangeReduce subtracts Size from an L3 order after a match.
	ChangeReduce ChangeAction = "reduce"
)

type BookChange struct {
	Side    Side
	Action  ChangeAction
	Price   decimal.Decimal
	Size    decimal.Decimal
	OrderID string
}

// BookDelta covers the sequence range [FirstSequence, Sequence]. Most feeds
// carry one sequence number per delta, in which case both are equal.
type BookDelta struct {
	FirstSequence uint64
	Sequence      uint64
	Level         DepthLevel
	Changes       []BookChange
}

// MarketEvent is one element of a market data stream. Exactly one of Delta and
// Ticker is set.
type MarketEvent struct {
	ProductID string
	Sequence  uint64
	Time      time.Time
	Delta     *BookDelta
	Ticker    *Ticker
}

package journal

import (
	"time"
)

var ny = time.FixedZone("EST", -5*60*60)

func ptr(x float64) *float64 { return &x }

func txn(id, symbol, processor string, exit time.Time, gl float64) Transaction {
	return Transaction{
		ID:         id,
		Symbol:     symbol,
		IsLong:     true,
		Processor:  processor,
		EntryPrice: 100,
		ExitPrice:  100 + gl/10,
		EntryTime:  exit.Add(-time.Hour),
		ExitTime:   exit,
		Qty:        10,
		GL:         gl,
		GLPct:      gl / 1000,
	}
}

package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
)

// Pebble key schema
// 1. Market id right after the prefix, so one market's state is a contiguous range
// 2. Zero-padded sequence numbers for lexicographic (= chronological) trade scans
//
//   mkt:<market>                 → Market descriptor
//   book:<market>:<bid|ask>      → resting orders of one side, best first
//   rec:<market>:<owner>         → ledger record
//   seq:<market>                 → next order id (8 bytes, big-endian)
//   trade:<market>:<seq>         → trade
//   bal:<holder>:<asset>         → custody balance

const (
	prefixMarket = "mkt:"
	prefixBook   = "book:"
	prefixRecord = "rec:"
	prefixSeq    = "seq:"
	prefixTrade  = "trade:"
	prefixBal    = "bal:"
)

// marketKey returns the key for a market descriptor
// Format: "mkt:{market}"
func marketKey(id common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixMarket, id.Hex()))
}

// bookKey returns the key holding one side of a market's book
// Format: "book:{market}:{side}"
func bookKey(id common.Address, side orderbook.Side) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBook, id.Hex(), side))
}

// recordKey returns the key for an owner's ledger record
// Format: "rec:{market}:{owner}"
func recordKey(id, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixRecord, id.Hex(), owner.Hex()))
}

// recordPrefix covers every record of a market
func recordPrefix(id common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixRecord, id.Hex()))
}

// seqKey returns the key for a market's order id counter
func seqKey(id common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixSeq, id.Hex()))
}

// tradeKey returns the key for a trade
// Format: "trade:{market}:{seq}" with seq zero-padded to 20 digits
func tradeKey(id common.Address, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, id.Hex(), seq))
}

// tradePrefix covers every trade of a market
func tradePrefix(id common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, id.Hex()))
}

// balanceKey returns the key for a custody balance
// Format: "bal:{holder}:{asset}"
func balanceKey(holder, asset common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBal, holder.Hex(), asset.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "rec:0x12:" -> upper bound "rec:0x12;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

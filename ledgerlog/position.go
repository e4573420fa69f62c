// Copyright 2025 UltraRentz Ltd
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledgerlog

import (
	"encoding/binary"
	"fmt"
)

// Position is the total-order key for authoritative ledger events. Events are
// ordered by block height, then transaction index within the block, then log
// index within the transaction.
type Position struct {
	BlockHeight uint64
	TxIndex     uint32
	LogIndex    uint32
}

// Compare returns -1, 0, or 1 if p is before, equal to, or after other in
// ledger order.
func (p Position) Compare(other Position) int {
	if p.BlockHeight != other.BlockHeight {
		if p.BlockHeight < other.BlockHeight {
			return -1
		}
		return 1
	}
	if p.TxIndex != other.TxIndex {
		if p.TxIndex < other.TxIndex {
			return -1
		}
		return 1
	}
	if p.LogIndex != other.LogIndex {
		if p.LogIndex < other.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}

// IsZero returns true for the zero position, used to mark "no prior event".
func (p Position) IsZero() bool {
	return p.BlockHeight == 0 && p.TxIndex == 0 && p.LogIndex == 0
}

func (p Position) String() string {
	return fmt.Sprintf("%d.%d.%d", p.BlockHeight, p.TxIndex, p.LogIndex)
}

// Key returns a byte encoding of the position that sorts the same as ledger
// order, suitable for use as a badger key suffix.
func (p Position) Key() []byte {
	ret := make([]byte, 16)
	binary.BigEndian.PutUint64(ret[0:8], p.BlockHeight)
	binary.BigEndian.PutUint32(ret[8:12], p.TxIndex)
	binary.BigEndian.PutUint32(ret[12:16], p.LogIndex)
	return ret
}

// PositionFromKey decodes a position from its byte encoding.
func PositionFromKey(key []byte) (Position, error) {
	if len(key) != 16 {
		return Position{}, fmt.Errorf(
			"invalid position key length: %d",
			len(key),
		)
	}
	return Position{
		BlockHeight: binary.BigEndian.Uint64(key[0:8]),
		TxIndex:     binary.BigEndian.Uint32(key[8:12]),
		LogIndex:    binary.BigEndian.Uint32(key[12:16]),
	}, nil
}

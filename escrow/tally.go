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

package escrow

// VoteLane distinguishes the two independent vote tracks for a deposit.
// Release approval (while active) and dispute resolution (while disputed) are
// never conflated.
type VoteLane string

const (
	LaneRelease VoteLane = "release"
	LaneDispute VoteLane = "dispute"
)

// TallyResult is the outcome of recording a single vote.
type TallyResult struct {
	Counts           map[VoteChoice]int
	Winning          VoteChoice
	ThresholdReached bool
	// Frozen indicates the tally already had a winning choice before this
	// vote. The vote is kept for history but cannot reopen resolution.
	Frozen bool
}

// Tally tracks per-signatory votes for one lane of one deposit. A choice wins
// once it holds at least Threshold votes; the first choice to reach the
// threshold freezes the tally.
type Tally struct {
	Votes     map[string]VoteChoice
	Winner    VoteChoice
	Threshold int
	Frozen    bool
}

// NewTally creates an empty tally with the given winning threshold.
func NewTally(threshold int) Tally {
	return Tally{
		Threshold: threshold,
		Votes:     make(map[string]VoteChoice),
	}
}

// Clone returns a deep copy of the tally.
func (t Tally) Clone() Tally {
	ret := t
	ret.Votes = make(map[string]VoteChoice, len(t.Votes))
	for k, v := range t.Votes {
		ret.Votes[k] = v
	}
	return ret
}

// Count returns the number of current votes for a choice.
func (t Tally) Count(choice VoteChoice) int {
	count := 0
	for _, v := range t.Votes {
		if v == choice {
			count++
		}
	}
	return count
}

func (t Tally) counts() map[VoteChoice]int {
	ret := make(map[VoteChoice]int)
	for _, v := range t.Votes {
		ret[v]++
	}
	return ret
}

// Record registers a signatory's vote and returns the updated tally. A repeat
// vote from the same signatory overwrites the previous choice rather than
// appending, so the tally count for a choice never double-counts a voter.
// Votes from addresses outside the signatory set are rejected with
// ErrUnknownSignatory.
func (t Tally) Record(
	signatories []Signatory,
	voter string,
	choice VoteChoice,
) (Tally, TallyResult, error) {
	if !choice.Valid() {
		return t, TallyResult{}, ErrInvalidChoice
	}
	known := false
	for _, sig := range signatories {
		if sig.Address == voter {
			known = true
			break
		}
	}
	if !known {
		return t, TallyResult{}, ErrUnknownSignatory
	}
	ret := t.Clone()
	ret.Votes[voter] = choice
	result := TallyResult{
		Counts: ret.counts(),
	}
	if t.Frozen {
		// A winning choice was already locked in. The vote is recorded for
		// history only.
		result.Frozen = true
		result.Winning = t.Winner
		return ret, result, nil
	}
	if result.Counts[choice] >= t.Threshold {
		ret.Frozen = true
		ret.Winner = choice
		result.ThresholdReached = true
		result.Winning = choice
	}
	return ret, result, nil
}

package stranding

import "github.com/rotisserie/eris"

var (
	// ErrUnstrandable means that no strand could be determined for the flanks
	ErrUnstrandable = eris.New("unstrandable")
	// ErrInconsistentAlignment means that alignments were accepted on both strands
	ErrInconsistentAlignment = eris.New("inconsistent alignment")
	// ErrMissingReferenceFlank means that the reference sequence around the position is unavailable
	ErrMissingReferenceFlank = eris.New("missing reference flank")
	// ErrFlanksTooShort means that neither flank reaches the minimum flank length
	ErrFlanksTooShort = eris.New("flanks too short")
)

package pipeline

// Stage is a column of the hiring pipeline
type Stage string

const (
	StageApplied   Stage = "applied"
	StageScreening Stage = "screening"
	StageInterview Stage = "interview"
	StageOffer     Stage = "offer"
	StageHired     Stage = "hired"
	StageRejected  Stage = "rejected"
	StageWithdrawn Stage = "withdrawn"
)

// forward is the main line of the pipeline in order
var forward = []Stage{StageApplied, StageScreening, StageInterview, StageOffer, StageHired}

// Forward returns the main line stages in order
func Forward() []Stage {
	return append([]Stage(nil), forward...)
}

// Stages returns every stage in board order: the main line, then the side exits
func Stages() []Stage {
	return append(append([]Stage(nil), forward...), StageRejected, StageWithdrawn)
}

// Valid reports whether s is a known stage
func (s Stage) Valid() bool {
	for _, st := range Stages() {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether an application in s can never move again
func (s Stage) Terminal() bool {
	return s == StageHired || s == StageRejected || s == StageWithdrawn
}

// index is the position of s on the main line, or -1 for side stages
func (s Stage) index() int {
	for i, st := range forward {
		if st == s {
			return i
		}
	}
	return -1
}

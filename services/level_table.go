package services

// LevelThreshold is the cumulative score needed to sit at Level.
type LevelThreshold struct {
	Level         int
	RequiredScore int64
}

// LevelTable maps cumulative intimacy score to a level. Thresholds are ordered ascending
// by level and the first one always requires 0.
type LevelTable struct {
	thresholds []LevelThreshold
}

// DefaultLevelTable: L1=0, L2=50, L3=150, L4=300. Level 4 is the ceiling.
var DefaultLevelTable = NewLevelTable([]LevelThreshold{
	{Level: 1, RequiredScore: 0},
	{Level: 2, RequiredScore: 50},
	{Level: 3, RequiredScore: 150},
	{Level: 4, RequiredScore: 300},
})

func NewLevelTable(thresholds []LevelThreshold) *LevelTable {
	cp := make([]LevelThreshold, len(thresholds))
	copy(cp, thresholds)
	return &LevelTable{thresholds: cp}
}

// LevelFor scans from the highest threshold down and returns the first level reached.
func (t *LevelTable) LevelFor(score int64) int {
	for i := len(t.thresholds) - 1; i >= 0; i-- {
		if t.thresholds[i].RequiredScore <= score {
			return t.thresholds[i].Level
		}
	}
	return t.MinLevel()
}

// NextThreshold returns the score required for level+1, or false at the top level.
func (t *LevelTable) NextThreshold(level int) (int64, bool) {
	for _, th := range t.thresholds {
		if th.Level > level {
			return th.RequiredScore, true
		}
	}
	return 0, false
}

func (t *LevelTable) MinLevel() int {
	if len(t.thresholds) == 0 {
		return 1
	}
	return t.thresholds[0].Level
}

func (t *LevelTable) MaxLevel() int {
	if len(t.thresholds) == 0 {
		return 1
	}
	return t.thresholds[len(t.thresholds)-1].Level
}

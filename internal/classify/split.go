package classify

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ErrTooFewSamples is returned when a class is too small to stratify
var ErrTooFewSamples = errors.New("too few samples to stratify")

// StratifiedSplit partitions row indices into train and test sets, preserving
// class proportions. Each class contributes round(n_class*testSize) rows to the
// test set, clamped so both sides keep at least one row of every class.
func StratifiedSplit(y []int, testSize float64, seed int64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size %.3f outside (0, 1)", testSize)
	}

	byClass := groupByClass(y)
	if len(byClass) < 2 {
		return nil, nil, ErrSingleClass
	}

	rng := rand.New(rand.NewSource(seed))
	for _, class := range sortedKeys(byClass) {
		members := byClass[class]
		if len(members) < 2 {
			return nil, nil, fmt.Errorf("%w: class %d has %d row(s)", ErrTooFewSamples, class, len(members))
		}
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })

		nTest := int(math.Round(float64(len(members)) * testSize))
		if nTest < 1 {
			nTest = 1
		}
		if nTest > len(members)-1 {
			nTest = len(members) - 1
		}
		test = append(test, members[:nTest]...)
		train = append(train, members[nTest:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// StratifiedKFold deals row indices into k folds with class proportions preserved.
// Each returned slice is the validation set of one fold.
func StratifiedKFold(y []int, k int, seed int64) ([][]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, got %d", k)
	}
	if len(y) < k {
		return nil, fmt.Errorf("%w: %d rows for %d folds", ErrTooFewSamples, len(y), k)
	}

	folds := make([][]int, k)
	rng := rand.New(rand.NewSource(seed))
	byClass := groupByClass(y)
	next := 0
	for _, class := range sortedKeys(byClass) {
		members := byClass[class]
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		for _, idx := range members {
			folds[next%k] = append(folds[next%k], idx)
			next++
		}
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds, nil
}

// Complement returns the indices in [0, n) that are not in subset
func Complement(n int, subset []int) []int {
	in := make(map[int]bool, len(subset))
	for _, i := range subset {
		in[i] = true
	}
	out := make([]int, 0, n-len(subset))
	for i := 0; i < n; i++ {
		if !in[i] {
			out = append(out, i)
		}
	}
	return out
}

func groupByClass(y []int) map[int][]int {
	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	return byClass
}

func sortedKeys(m map[int][]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

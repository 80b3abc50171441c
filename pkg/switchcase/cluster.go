// Package switchcase turns the case set of a multi-way branch into sorted,
// non-overlapping clusters that are lowered either as range checks or as
// jump tables.
package switchcase

import (
	"sort"

	"github.com/raymyers/ralph-x86/pkg/ir"
)

// Kind selects how a cluster is lowered
type Kind uint8

const (
	// Range is a contiguous run of values with one target
	Range Kind = iota
	// JumpTable dispatches through a table indexed by value - Low
	JumpTable
)

func (k Kind) String() string {
	if k == JumpTable {
		return "jumptable"
	}
	return "range"
}

// Case is one switch arm with its value truncated to the switch width
type Case struct {
	Value  uint64
	Target *ir.Block
}

// Cluster covers the values Low..High (unsigned, inclusive)
type Cluster struct {
	Kind     Kind
	Low      uint64
	High     uint64
	Target   *ir.Block
	Table    []*ir.Block // JumpTable only, indexed by value - Low; holes hold the default
	NumCases int         // explicit case values covered
}

// IsSingleValue reports whether the cluster covers one value
func (c *Cluster) IsSingleValue() bool { return c.Low == c.High }

// TargetFor returns the destination of v within the cluster, or nil when v is
// outside of it
func (c *Cluster) TargetFor(v uint64) *ir.Block {
	if v < c.Low || v > c.High {
		return nil
	}
	if c.Kind == JumpTable {
		return c.Table[v-c.Low]
	}
	return c.Target
}

// Options tune jump table formation
type Options struct {
	// MinJumpTableSize is the smallest number of clusters turned into a table
	MinJumpTableSize int
	// Spread bounds the table span to Spread times the number of case values
	Spread int
	// MaxTableSize bounds the number of table entries
	MaxTableSize uint64
}

// DefaultOptions returns the standard tuning
func DefaultOptions() Options {
	return Options{MinJumpTableSize: 4, Spread: 2, MaxTableSize: 1 << 16}
}

// Clusterize sorts cases, merges adjacent values sharing a target into
// ranges, then forms jump tables over sufficiently dense runs. Holes in a
// jump table are filled with def.
func Clusterize(cases []Case, def *ir.Block, opts Options) []Cluster {
	if opts.Spread <= 0 {
		opts.Spread = DefaultOptions().Spread
	}
	if opts.MaxTableSize == 0 {
		opts.MaxTableSize = DefaultOptions().MaxTableSize
	}

	sorted := make([]Case, len(cases))
	copy(sorted, cases)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })

	ranges := mergeRanges(sorted)
	if opts.MinJumpTableSize <= 0 || len(ranges) < opts.MinJumpTableSize {
		return ranges
	}
	return formJumpTables(ranges, def, opts)
}

// mergeRanges merges consecutive values with the same target. The first
// arm wins for duplicated values.
func mergeRanges(sorted []Case) []Cluster {
	var clusters []Cluster
	for _, c := range sorted {
		if n := len(clusters); n > 0 {
			last := &clusters[n-1]
			if c.Value == last.High {
				continue
			}
			if c.Target == last.Target && c.Value == last.High+1 {
				last.High = c.Value
				last.NumCases++
				continue
			}
		}
		clusters = append(clusters, Cluster{Kind: Range, Low: c.Value, High: c.Value, Target: c.Target, NumCases: 1})
	}
	return clusters
}

// formJumpTables greedily replaces the longest dense run starting at each
// cluster with one jump table
func formJumpTables(ranges []Cluster, def *ir.Block, opts Options) []Cluster {
	var out []Cluster
	for i := 0; i < len(ranges); {
		best := -1
		cases := 0
		for j := i; j < len(ranges); j++ {
			cases += ranges[j].NumCases
			span := ranges[j].High - ranges[i].Low
			if span >= opts.MaxTableSize {
				break
			}
			if span+1 <= uint64(opts.Spread)*uint64(cases) && j-i+1 >= opts.MinJumpTableSize {
				best = j
			}
		}
		if best < 0 {
			out = append(out, ranges[i])
			i++
			continue
		}
		out = append(out, buildTable(ranges[i:best+1], def))
		i = best + 1
	}
	return out
}

func buildTable(run []Cluster, def *ir.Block) Cluster {
	low, high := run[0].Low, run[len(run)-1].High
	table := make([]*ir.Block, high-low+1)
	for k := range table {
		table[k] = def
	}
	cases := 0
	for _, r := range run {
		for v := r.Low; ; v++ {
			table[v-low] = r.Target
			if v == r.High {
				break
			}
		}
		cases += r.NumCases
	}
	return Cluster{Kind: JumpTable, Low: low, High: high, Table: table, NumCases: cases}
}

// Lookup returns the destination of v according to clusters, or def
func Lookup(clusters []Cluster, def *ir.Block, v uint64) *ir.Block {
	i := sort.Search(len(clusters), func(i int) bool { return clusters[i].High >= v })
	if i < len(clusters) {
		if t := clusters[i].TargetFor(v); t != nil {
			return t
		}
	}
	return def
}

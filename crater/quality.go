package crater

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Quality scores a clustering against ground-truth labels.
type Quality struct {
	Homogeneity  float64 `json:"homogeneity"`
	Completeness float64 `json:"completeness"`
	VMeasure     float64 `json:"v_measure"`
	AdjustedRand float64 `json:"adjusted_rand"`
	Recovered    int     `json:"recovered"`
	TrueCraters  int     `json:"true_craters"`
}

func (q Quality) String() string {
	return fmt.Sprintf("Homogeneity: %.3f\nCompleteness: %.3f\nV-measure: %.3f\nAdjusted Rand Index: %.3f\nRecovered: %d/%d",
		q.Homogeneity, q.Completeness, q.VMeasure, q.AdjustedRand, q.Recovered, q.TrueCraters)
}

type contingency struct {
	n       float64
	cells   map[[2]int]float64
	classes map[int]float64
	groups  map[int]float64
}

func newContingency(truth, pred []int) contingency {
	c := contingency{
		n:       float64(len(truth)),
		cells:   make(map[[2]int]float64),
		classes: make(map[int]float64),
		groups:  make(map[int]float64),
	}
	for i := range truth {
		c.cells[[2]int{truth[i], pred[i]}]++
		c.classes[truth[i]]++
		c.groups[pred[i]]++
	}
	return c
}

func entropy(counts map[int]float64, n float64) float64 {
	p := make([]float64, 0, len(counts))
	for _, v := range counts {
		p = append(p, v/n)
	}
	return stat.Entropy(p)
}

func (c contingency) mutualInformation() float64 {
	mi := 0.0
	for k, v := range c.cells {
		mi += v / c.n * math.Log(c.n*v/(c.classes[k[0]]*c.groups[k[1]]))
	}
	return mi
}

func comb2(v float64) float64 {
	return v * (v - 1) / 2
}

// ScoreClustering compares predicted cluster labels with true labels.
// True label 0 marks a marking placed at a wrong position; it is scored as
// its own class like any other. Recovered counts the true craters that are
// the majority non-zero label of some cluster with at least minCount
// members.
func ScoreClustering(truth, pred []int, minCount int) (Quality, error) {
	if len(truth) != len(pred) {
		return Quality{}, shapeErrorf("labels", 0, "%d true labels for %d predictions", len(truth), len(pred))
	}
	var q Quality
	trueCraters := make(map[int]bool)
	for _, l := range truth {
		if l > 0 {
			trueCraters[l] = true
		}
	}
	q.TrueCraters = len(trueCraters)
	if len(truth) == 0 {
		q.Homogeneity, q.Completeness, q.VMeasure, q.AdjustedRand = 1, 1, 1, 1
		return q, nil
	}

	c := newContingency(truth, pred)
	hc := entropy(c.classes, c.n)
	hk := entropy(c.groups, c.n)
	mi := c.mutualInformation()

	q.Homogeneity, q.Completeness = 1, 1
	if hc > 0 {
		q.Homogeneity = mi / hc
	}
	if hk > 0 {
		q.Completeness = mi / hk
	}
	if q.Homogeneity+q.Completeness > 0 {
		q.VMeasure = 2 * q.Homogeneity * q.Completeness / (q.Homogeneity + q.Completeness)
	}

	var index, sumClasses, sumGroups float64
	for _, v := range c.cells {
		index += comb2(v)
	}
	for _, v := range c.classes {
		sumClasses += comb2(v)
	}
	for _, v := range c.groups {
		sumGroups += comb2(v)
	}
	expected := sumClasses * sumGroups / comb2(c.n)
	maxIndex := (sumClasses + sumGroups) / 2
	if c.n < 2 || maxIndex == expected {
		q.AdjustedRand = 1
	} else {
		q.AdjustedRand = (index - expected) / (maxIndex - expected)
	}

	q.Recovered = recoveredCraters(truth, pred, minCount)
	return q, nil
}

func recoveredCraters(truth, pred []int, minCount int) int {
	members := make(map[int][]int)
	for i, p := range pred {
		members[p] = append(members[p], truth[i])
	}
	recovered := make(map[int]bool)
	for _, labels := range members {
		if len(labels) < minCount {
			continue
		}
		votes := make(map[int]int)
		best, bestVotes := 0, 0
		for _, l := range labels {
			if l == 0 {
				continue
			}
			votes[l]++
			if votes[l] > bestVotes || (votes[l] == bestVotes && l < best) {
				best, bestVotes = l, votes[l]
			}
		}
		if best > 0 {
			recovered[best] = true
		}
	}
	return len(recovered)
}

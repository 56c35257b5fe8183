package rdn

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

// ErrWeightsName is returned when a weights file name does not follow the naming convention.
var ErrWeightsName = errors.New("invalid weights name")

var weightsNameRe = regexp.MustCompile(`^rdn-C(\d+)-D(\d+)-G(\d+)-G0(\d+)-x(\d+)`)

// WeightsName returns the conventional base name of weights trained with these hyperparameters,
// e.g. rdn-C3-D10-G64-G064-x2-weights.
func (p Params) WeightsName() string {
	return fmt.Sprintf("rdn-C%d-D%d-G%d-G0%d-x%d-weights", p.C, p.D, p.G, p.G0, p.Scale)
}

// ParseWeightsName recovers the hyperparameters encoded in the base name of a weights file.
func ParseWeightsName(path string) (Params, error) {
	base := filepath.Base(path)
	m := weightsNameRe.FindStringSubmatch(base)
	if m == nil {
		return Params{}, fmt.Errorf("%s: %w", base, ErrWeightsName)
	}
	var v [5]int
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Params{}, fmt.Errorf("%s: %v: %w", base, err, ErrWeightsName)
		}
		v[i] = n
	}
	return Params{C: v[0], D: v[1], G: v[2], G0: v[3], Scale: v[4]}, nil
}

package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ikawaha/rdn.go/graph"
)

// ErrWeightsMismatch is returned when trained weights do not fit the network.
var ErrWeightsMismatch = errors.New("weights do not fit the network")

// Param represents trained parameters of a convolution layer.
type Param struct {
	Name         string          `json:"name"`         // layer name
	Bias         []float64       `json:"bias"`         // バイアス
	KW           int             `json:"kW"`           // フィルタの幅
	KH           int             `json:"kH"`           // フィルタの高さ
	Weight       [][][][]float64 `json:"weight"`       // 重み [out][in][kH][kW]
	NInputPlane  int             `json:"nInputPlane"`  // 入力平面数
	NOutputPlane int             `json:"nOutputPlane"` // 出力平面数
}

// Model represents trained weights of a network.
type Model []Param

// LoadModelFile loads trained weights from the specified file.
func LoadModelFile(path string) (Model, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return LoadModel(fp)
}

// LoadModel loads trained weights from the io.Reader.
func LoadModel(r io.Reader) (Model, error) {
	dec := json.NewDecoder(r)
	var m Model
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewModel exports the parameters of the network.
func NewModel(g *graph.Model) Model {
	var ret Model
	for _, n := range g.Layers() {
		c := n.Conv
		in := c.InChannels()
		w := make([][][][]float64, c.Filters)
		for o := range w {
			w[o] = make([][][]float64, in)
			for i := range w[o] {
				w[o][i] = make([][]float64, c.KH)
				for y := range w[o][i] {
					w[o][i][y] = make([]float64, c.KW)
					for x := range w[o][i][y] {
						w[o][i][y][x] = c.Kernel[kernelIndex(c, in, o, i, y, x)]
					}
				}
			}
		}
		ret = append(ret, Param{
			Name:         n.Name,
			Bias:         append([]float64(nil), c.Bias...),
			KW:           c.KW,
			KH:           c.KH,
			Weight:       w,
			NInputPlane:  in,
			NOutputPlane: c.Filters,
		})
	}
	return ret
}

func kernelIndex(c *graph.Conv2D, in, o, i, y, x int) int {
	return ((y*c.KW+x)*in+i)*c.Filters + o
}

// SaveModel writes the parameters of the network as JSON.
func SaveModel(w io.Writer, g *graph.Model) error {
	return json.NewEncoder(w).Encode(NewModel(g))
}

// SaveModelFile writes the parameters of the network to the specified file.
func SaveModelFile(path string, g *graph.Model) error {
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := SaveModel(fp, g); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}

// Apply copies the trained weights into the network. Every layer of the network
// must have weights of the same size.
func (m Model) Apply(g *graph.Model) error {
	params := make(map[string]Param, len(m))
	for _, p := range m {
		params[p.Name] = p
	}
	layers := g.Layers()
	for _, n := range layers {
		p, ok := params[n.Name]
		if !ok {
			return fmt.Errorf("layer %s: no weights: %w", n.Name, ErrWeightsMismatch)
		}
		if err := p.validate(n.Conv); err != nil {
			return fmt.Errorf("layer %s: %v: %w", n.Name, err, ErrWeightsMismatch)
		}
	}
	if len(params) != len(layers) {
		return fmt.Errorf("%d weights for %d layers: %w", len(params), len(layers), ErrWeightsMismatch)
	}
	for _, n := range layers {
		p, c := params[n.Name], n.Conv
		in := c.InChannels()
		for o := range p.Weight {
			for i := range p.Weight[o] {
				for y := range p.Weight[o][i] {
					for x, v := range p.Weight[o][i][y] {
						c.Kernel[kernelIndex(c, in, o, i, y, x)] = v
					}
				}
			}
		}
		copy(c.Bias, p.Bias)
	}
	return nil
}

func (p Param) validate(c *graph.Conv2D) error {
	in := c.InChannels()
	if p.KH != c.KH || p.KW != c.KW || p.NInputPlane != in || p.NOutputPlane != c.Filters {
		return fmt.Errorf("kernel %dx%d %d->%d, want %dx%d %d->%d",
			p.KH, p.KW, p.NInputPlane, p.NOutputPlane, c.KH, c.KW, in, c.Filters)
	}
	if len(p.Bias) != c.Filters {
		return fmt.Errorf("bias length %d, want %d", len(p.Bias), c.Filters)
	}
	if len(p.Weight) != c.Filters {
		return fmt.Errorf("weight has %d output planes, want %d", len(p.Weight), c.Filters)
	}
	for _, wi := range p.Weight {
		if len(wi) != in {
			return fmt.Errorf("weight has %d input planes, want %d", len(wi), in)
		}
		for _, wy := range wi {
			if len(wy) != c.KH {
				return fmt.Errorf("weight height %d, want %d", len(wy), c.KH)
			}
			for _, wx := range wy {
				if len(wx) != c.KW {
					return fmt.Errorf("weight width %d, want %d", len(wx), c.KW)
				}
			}
		}
	}
	return nil
}

// LoadWeightsFile loads trained weights from the specified file into the network.
func LoadWeightsFile(path string, g *graph.Model) error {
	m, err := LoadModelFile(path)
	if err != nil {
		return fmt.Errorf("load weights %s: %w", path, err)
	}
	if err := m.Apply(g); err != nil {
		return fmt.Errorf("load weights %s: %w", path, err)
	}
	return nil
}

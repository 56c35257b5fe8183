package cmd

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"io"
	"os"
	"runtime"

	"github.com/ikawaha/rdn.go/engine"
	"github.com/ikawaha/rdn.go/rdn"
	"github.com/ikawaha/rdn.go/run"
)

const (
	commandName  = "rdn"
	usageMessage = "%s -c <config_file> (-train|-predict) [-v]\n" +
		"%s [-i <input_file>] [-o <output_file>] -w <weights_file> [-u (ups|shuffle)] [-p <patch_size>] [-j <n>] [-v] [-summary]\n"
)

type option struct {
	// flagSet args
	config    string
	train     bool
	predict   bool
	input     string
	output    string
	weights   string
	upscaling string
	patchSize int
	parallel  int
	verbose   bool
	summary   bool
	// option values
	params  rdn.Params
	flagSet *flag.FlagSet
}

func newOption(w io.Writer, eh flag.ErrorHandling) (o *option) {
	o = &option{
		flagSet: flag.NewFlagSet(commandName, eh),
	}
	// option settings
	o.flagSet.SetOutput(w)
	o.flagSet.StringVar(&o.config, "c", "", "session config file")
	o.flagSet.BoolVar(&o.train, "train", false, "run a training session (with -c)")
	o.flagSet.BoolVar(&o.predict, "predict", false, "run a prediction session (with -c)")
	o.flagSet.StringVar(&o.input, "i", "", "input file (default stdin)")
	o.flagSet.StringVar(&o.output, "o", "", "output file (default stdout)")
	o.flagSet.StringVar(&o.weights, "w", "", "generator weights file, named rdn-C{C}-D{D}-G{G}-G0{G0}-x{scale}-weights")
	o.flagSet.StringVar(&o.upscaling, "u", "", "upscaling strategy, choose from 'ups' and 'shuffle' (default ups)")
	o.flagSet.IntVar(&o.patchSize, "p", 0, "patch size of the tiles, 0 processes the whole image (default 0)")
	o.flagSet.IntVar(&o.parallel, "j", runtime.NumCPU(), "limit number of goroutines")
	o.flagSet.BoolVar(&o.verbose, "v", false, "verbose")
	o.flagSet.BoolVar(&o.summary, "summary", false, "print the model summary and exit")
	return
}

func (o *option) parse(args []string) error {
	if err := o.flagSet.Parse(args); err != nil {
		return err
	}
	// validations
	if nonFlag := o.flagSet.Args(); len(nonFlag) != 0 {
		return fmt.Errorf("invalid argument: %v", nonFlag)
	}
	if o.config != "" {
		if o.train == o.predict {
			return fmt.Errorf("choose either -train or -predict")
		}
		return nil
	}
	if o.train || o.predict {
		return fmt.Errorf("-train and -predict require a config file")
	}
	if o.weights == "" {
		return fmt.Errorf("weights file is empty")
	}
	params, err := rdn.ParseWeightsName(o.weights)
	if err != nil {
		return err
	}
	o.params = params
	if o.upscaling != "" {
		if _, err := rdn.ParseUpscaling(o.upscaling); err != nil {
			return err
		}
	}
	if o.patchSize < 0 {
		return fmt.Errorf("invalid patch size, %d < 0", o.patchSize)
	}
	if o.parallel < 1 {
		return fmt.Errorf("invalid number of goroutines, %d < 1", o.parallel)
	}
	return nil
}

// Usage shows a usage message.
func Usage() {
	fmt.Printf(usageMessage, commandName, commandName)
	opt := newOption(os.Stdout, flag.ContinueOnError)
	opt.flagSet.PrintDefaults()
}

// Run executes the rdn command.
func Run(args []string) error {
	opt := newOption(os.Stderr, flag.ContinueOnError)
	if err := opt.parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	if opt.config != "" {
		r := run.Runner{Verbose: opt.verbose, LogOutput: os.Stderr}
		return r.Run(ctx, run.Options{
			ConfigFile: opt.config,
			Training:   opt.train,
			Prediction: opt.predict,
			Default:    true,
		})
	}

	var nopts []rdn.Option
	if opt.upscaling != "" {
		nopts = append(nopts, rdn.Upscale(opt.upscaling))
	}
	net, err := rdn.Build(opt.params, 0, nopts...)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if opt.output != "" {
		fp, err := os.Create(opt.output)
		if err != nil {
			return fmt.Errorf("output file, %w", err)
		}
		defer fp.Close()
		w = fp
	}
	if opt.summary {
		return net.Model.Summary(w)
	}

	if err := engine.LoadWeightsFile(opt.weights, net.Model); err != nil {
		return fmt.Errorf("weights error: %w", err)
	}
	p, err := engine.NewPredictor(net,
		engine.PatchSize(opt.patchSize),
		engine.Parallel(opt.parallel),
		engine.Verbose(opt.verbose),
	)
	if err != nil {
		return err
	}
	return scaleUp(ctx, p, opt.input, w)
}

func scaleUp(ctx context.Context, p *engine.Predictor, input string, w io.Writer) error {
	in := os.Stdin
	if input != "" {
		fp, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("input error: %w", err)
		}
		defer fp.Close()
		in = fp
	}
	b, format, err := engine.ReadImageFile(in)
	if err != nil {
		return fmt.Errorf("input error: %w", err)
	}
	switch format {
	case "gif":
		img, err := gif.DecodeAll(bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("input error: %w", err)
		}
		img, err = p.ScaleUpGIF(ctx, img)
		if err != nil {
			return fmt.Errorf("calc error: %w", err)
		}
		if err := gif.EncodeAll(w, img); err != nil {
			return fmt.Errorf("output error: %w", err)
		}
		return nil
	case "jpeg", "png":
	default:
		return fmt.Errorf("unsupported image type: %s", format)
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("input error: %w", err)
	}
	ci, err := p.ScaleUp(ctx, img)
	if err != nil {
		return fmt.Errorf("calc error: %w", err)
	}
	if err := png.Encode(w, ci.ImageNRGBA()); err != nil {
		return fmt.Errorf("output error: %w", err)
	}
	return nil
}

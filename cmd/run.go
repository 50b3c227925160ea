package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/knights-analytics/gopaddle"
	"github.com/knights-analytics/gopaddle/capi"
	"github.com/knights-analytics/gopaddle/util/fileutil"
	"github.com/knights-analytics/gopaddle/util/logging"
)

var inputPath string
var outputPath string
var nWorkers int

type tensorInput struct {
	Shape []int32             `json:"shape"`
	DType string              `json:"dtype"`
	Data  jsoniter.RawMessage `json:"data"`
}

type tensorOutput struct {
	Shape []int32 `json:"shape"`
	DType string  `json:"dtype"`
	Data  any     `json:"data"`
}

type record struct {
	ID      string                  `json:"id"`
	Inputs  map[string]tensorInput  `json:"inputs,omitempty"`
	Outputs map[string]tensorOutput `json:"outputs,omitempty"`
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run a model over jsonl records",
	ArgsUsage: "",
	Description: `Each input line is {"id": "...", "inputs": {"<name>": {"shape": [...], "dtype": "float32", "data": [...]}}}.
				Each output line carries the id and the fetched outputs in the same form.
				Input is read from --input (a .jsonl file or a folder of them, local or s3://) or from stdin.`,
	Flags: []cli.Flag{
		configFlag,
		dryRunFlag,
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to a .jsonl file or a folder with .jsonl files",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "File to write the results to. Defaults to stdout",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "Number of predictor clones running concurrently",
			Aliases:     []string{"w"},
			Value:       1,
			Destination: &nWorkers,
		},
	},
	Action: func(ctx *cli.Context) (err error) {
		base, err := newPredictor(ctx)
		if err != nil {
			return err
		}
		pool, err := gopaddle.NewPool(base, nWorkers)
		if err != nil {
			return errors.Join(err, base.Destroy())
		}
		defer func() {
			err = errors.Join(err, pool.Destroy())
		}()

		var writer io.WriteCloser
		if outputPath != "" {
			writer, err = fileutil.NewFileWriter(outputPath)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, writer.Close())
			}()
		} else {
			writer = nopWriteCloser{ctx.App.Writer}
		}

		inputChannel := make(chan record, 1000)
		processedChannel := make(chan []byte, 1000)
		errorsChannel := make(chan error, 1000)
		var processedWg, writeWg sync.WaitGroup
		var failed atomic.Int64

		for range pool.Size() {
			processedWg.Add(1)
			go processWithPool(ctx.Context, &processedWg, inputChannel, processedChannel, errorsChannel, pool)
		}
		writeWg.Add(1)
		go writeOutputs(&writeWg, processedChannel, errorsChannel, writer, &failed)

		readErr := readAll(ctx, inputChannel)

		close(inputChannel)
		processedWg.Wait()
		close(processedChannel)
		close(errorsChannel)
		writeWg.Wait()
		if readErr != nil {
			return readErr
		}
		if n := failed.Load(); n > 0 {
			return fmt.Errorf("%d records failed", n)
		}
		return nil
	},
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func readAll(ctx *cli.Context, inputChannel chan record) error {
	if inputPath != "" {
		exists, err := fileutil.FileExists(inputPath)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("file %s does not exist", inputPath)
		}
		isDir, err := fileutil.IsDir(inputPath)
		if err != nil {
			return err
		}
		if !isDir {
			file, openErr := fileutil.OpenFile(inputPath)
			if openErr != nil {
				return openErr
			}
			return errors.Join(readInputs(file, inputChannel), fileutil.CloseFile(file))
		}
		fileWalker := func(_ context.Context, _, _ string, info os.FileInfo, reader io.Reader) (bool, error) {
			if filepath.Ext(info.Name()) == ".jsonl" {
				if walkErr := readInputs(reader, inputChannel); walkErr != nil {
					return false, walkErr
				}
			}
			return true, nil
		}
		return fileutil.WalkDir()(ctx.Context, inputPath, fileWalker)
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return readInputs(os.Stdin, inputChannel)
	}
	return nil
}

func readInputs(inputSource io.Reader, inputChannel chan record) error {
	scanner := bufio.NewScanner(inputSource)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var line record
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return err
		}
		inputChannel <- line
	}
	return scanner.Err()
}

func processWithPool(ctx context.Context, wg *sync.WaitGroup, inputChannel chan record, processedChannel chan []byte, errorsChannel chan error, pool *gopaddle.Pool) {
	defer wg.Done()
	for in := range inputChannel {
		out, err := predict(ctx, pool, in)
		if err != nil {
			errorsChannel <- fmt.Errorf("record %s: %w", in.ID, err)
			continue
		}
		outputBytes, err := json.Marshal(out)
		if err != nil {
			errorsChannel <- err
			continue
		}
		processedChannel <- outputBytes
	}
}

func predict(ctx context.Context, pool *gopaddle.Pool, in record) (record, error) {
	p, err := pool.Get(ctx)
	if err != nil {
		return record{}, err
	}
	defer pool.Put(p)

	// slots keep the data of the previous record run on this clone, so every input must be fed
	required, err := p.InputNames()
	if err != nil {
		return record{}, err
	}
	var missing []string
	for _, name := range required {
		if _, ok := in.Inputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return record{}, fmt.Errorf("missing inputs %s", strings.Join(missing, ", "))
	}
	for name, value := range in.Inputs {
		if err = feed(p, name, value); err != nil {
			return record{}, err
		}
	}
	if err = p.Run(); err != nil {
		return record{}, err
	}
	names, err := p.OutputNames()
	if err != nil {
		return record{}, err
	}
	out := record{ID: in.ID, Outputs: make(map[string]tensorOutput, len(names))}
	for _, name := range names {
		value, fetchErr := fetch(p, name)
		if fetchErr != nil {
			return record{}, fetchErr
		}
		out.Outputs[name] = value
	}
	return out, nil
}

func feed(p *gopaddle.Predictor, name string, value tensorInput) (err error) {
	t, err := p.Input(name)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, t.Close())
	}()
	if err = t.Reshape(value.Shape); err != nil {
		return err
	}
	switch value.DType {
	case capi.DataFloat32.String():
		return copyIn[float32](t, value.Data)
	case capi.DataInt32.String():
		return copyIn[int32](t, value.Data)
	case capi.DataInt64.String():
		return copyIn[int64](t, value.Data)
	case capi.DataInt8.String():
		return copyIn[int8](t, value.Data)
	case capi.DataUint8.String():
		// []uint8 decodes from base64, so go through []int
		var data []int
		if err = json.Unmarshal(value.Data, &data); err != nil {
			return err
		}
		bytes := make([]uint8, len(data))
		for i, v := range data {
			if v < 0 || v > 255 {
				return fmt.Errorf("input %s: value %d out of uint8 range", name, v)
			}
			bytes[i] = uint8(v)
		}
		return gopaddle.CopyFromCPU(t, bytes)
	default:
		return fmt.Errorf("input %s: unsupported dtype %q", name, value.DType)
	}
}

func copyIn[T gopaddle.Element](t *gopaddle.Tensor, raw jsoniter.RawMessage) error {
	var data []T
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	return gopaddle.CopyFromCPU(t, data)
}

func fetch(p *gopaddle.Predictor, name string) (out tensorOutput, err error) {
	t, err := p.Output(name)
	if err != nil {
		return out, err
	}
	defer func() {
		err = errors.Join(err, t.Close())
	}()
	if out.Shape, err = t.Shape(); err != nil {
		return out, err
	}
	dtype, err := t.DataType()
	if err != nil {
		return out, err
	}
	out.DType = dtype.String()
	switch dtype {
	case capi.DataFloat32:
		out.Data, err = gopaddle.CopyToCPU[float32](t)
	case capi.DataInt32:
		out.Data, err = gopaddle.CopyToCPU[int32](t)
	case capi.DataInt64:
		out.Data, err = gopaddle.CopyToCPU[int64](t)
	case capi.DataInt8:
		out.Data, err = gopaddle.CopyToCPU[int8](t)
	case capi.DataUint8:
		var data []uint8
		data, err = gopaddle.CopyToCPU[uint8](t)
		ints := make([]int, len(data))
		for i, v := range data {
			ints[i] = int(v)
		}
		out.Data = ints
	default:
		err = fmt.Errorf("output %s: unsupported dtype %s", name, dtype)
	}
	return out, err
}

func writeOutputs(wg *sync.WaitGroup, processedChannel chan []byte, errorChannel chan error, writeTarget io.Writer, failed *atomic.Int64) {
	defer wg.Done()
	logger := logging.Logger()
	for processedChannel != nil || errorChannel != nil {
		select {
		case output, ok := <-processedChannel:
			if !ok {
				processedChannel = nil
				continue
			}
			if _, err := writeTarget.Write(append(output, '\n')); err != nil {
				logger.Error().Err(err).Msg("error writing output")
				failed.Add(1)
			}
		case err, ok := <-errorChannel:
			if !ok {
				errorChannel = nil
				continue
			}
			logger.Error().Err(err).Msg("error processing record")
			failed.Add(1)
		}
	}
}

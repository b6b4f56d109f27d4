package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gx"
	"github.com/gogpu/gx/backend"
	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/heap"
	"github.com/gogpu/gx/rootsig"
)

// benchConfig is the run configuration after merging flags, environment
// and config file.
type benchConfig struct {
	Backend    string      `mapstructure:"backend"`
	Frames     int         `mapstructure:"frames"`
	Workers    int         `mapstructure:"workers"`
	Dispatches int         `mapstructure:"dispatches"`
	Barriers   int         `mapstructure:"barriers"`
	Strict     bool        `mapstructure:"strict"`
	RootSig    string      `mapstructure:"rootsig"`
	Heap       heap.Config `mapstructure:"heap"`
}

func (c benchConfig) validate() error {
	switch {
	case c.Frames <= 0:
		return fmt.Errorf("frames must be positive, got %d", c.Frames)
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.Dispatches <= 0:
		return fmt.Errorf("dispatches must be positive, got %d", c.Dispatches)
	case c.Barriers < 0:
		return fmt.Errorf("barriers must not be negative, got %d", c.Barriers)
	}
	return nil
}

// benchResult summarizes a run.
type benchResult struct {
	Backend  string
	Elapsed  time.Duration
	Frames   int
	Contexts gx.ContextStats
	Heaps    heap.Stats
	Pool     string
	Created  int
}

func (r benchResult) print(w io.Writer) {
	dispatches := float64(r.Contexts.Dispatches)
	rate := 0.0
	if r.Elapsed > 0 {
		rate = dispatches / r.Elapsed.Seconds()
	}
	fmt.Fprintf(w, "backend:    %s\n", r.Backend)
	fmt.Fprintf(w, "frames:     %d in %v\n", r.Frames, r.Elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "dispatches: %d (%.0f/s)\n", r.Contexts.Dispatches, rate)
	fmt.Fprintf(w, "contexts:   %d created\n", r.Created)
	fmt.Fprintf(w, "%s\n%s\n%s\n", r.Contexts, r.Heaps, r.Pool)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Record and submit compute work from concurrent workers",
	Long: `Run opens a backend and, for each frame, starts --workers goroutines.
Each worker takes a compute context from a shared pool, records
--dispatches dispatches with --barriers transitions before each, and
submits the context. Frames are paced so a shader-visible heap segment
is only reused once the GPU has finished with it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadBenchConfig()
		if err != nil {
			return err
		}
		res, err := runBench(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		res.print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.String("backend", "", "backend name (default: best available)")
	f.Int("frames", 60, "number of frames")
	f.Int("workers", 4, "recording goroutines per frame")
	f.Int("dispatches", 16, "dispatches per worker per frame")
	f.Int("barriers", 2, "barriers queued before each dispatch")
	f.Bool("strict", false, "fail instead of auto-flushing a full barrier batch")
	f.String("rootsig", "", "root-signature file (trace backend only)")
	f.Uint64("upload-page-size", heap.DefaultUploadPageSize, "upload page size in bytes")
	f.Int("scratch-blocks", heap.DefaultScratchBlocks, "CPU descriptor scratch blocks")
	f.Uint32("shader-visible-capacity", heap.DefaultShaderVisibleCapacity, "shader-visible descriptor count")
	f.Int("frame-count", heap.DefaultFrameCount, "frames in flight")

	for key, flag := range map[string]string{
		"backend":                      "backend",
		"frames":                       "frames",
		"workers":                      "workers",
		"dispatches":                   "dispatches",
		"barriers":                     "barriers",
		"strict":                       "strict",
		"rootsig":                      "rootsig",
		"heap.upload_page_size":        "upload-page-size",
		"heap.scratch_blocks":          "scratch-blocks",
		"heap.shader_visible_capacity": "shader-visible-capacity",
		"heap.frame_count":             "frame-count",
	} {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}

	rootCmd.AddCommand(runCmd)
}

func loadBenchConfig() (benchConfig, error) {
	var cfg benchConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func openBackend(name string) (string, gpucore.Device, func(), error) {
	if name == "" {
		return backend.Default()
	}
	dev, closeFn, err := backend.Open(name)
	return name, dev, closeFn, err
}

func runBench(ctx context.Context, cfg benchConfig) (res benchResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.validate(); err != nil {
		return res, err
	}
	md, custom := builtinSignature(), false
	if cfg.RootSig != "" {
		if md, err = rootsig.LoadFile(cfg.RootSig); err != nil {
			return res, err
		}
		custom = true
	}

	name, dev, closeDev, err := openBackend(cfg.Backend)
	if err != nil {
		return res, err
	}
	defer closeDev()
	res.Backend = name

	policy := gx.BarrierAutoFlush
	if cfg.Strict {
		policy = gx.BarrierStrict
	}
	sys, err := gx.Open(dev, cfg.Heap, gx.WithBarrierPolicy(policy))
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := sys.Close(context.WithoutCancel(ctx)); err == nil {
			err = cerr
		}
	}()

	wl, err := newWorkload(dev, md, custom)
	if err != nil {
		return res, err
	}
	defer wl.Close()

	pacer, err := gx.NewFramePacer(sys)
	if err != nil {
		return res, err
	}
	pool := sys.NewContextPool(gx.WithLabel("gxbench"))
	defer func() {
		if werr := sys.WaitIdle(context.WithoutCancel(ctx)); werr != nil && err == nil {
			err = werr
		}
		if perr := pool.Close(); perr != nil && err == nil {
			err = perr
		}
	}()

	stats := make([]gx.ContextStats, cfg.Workers)
	start := time.Now()
	for frame := range cfg.Frames {
		if _, err := pacer.BeginFrame(ctx); err != nil {
			return res, err
		}
		g, gctx := errgroup.WithContext(ctx)
		for w := range cfg.Workers {
			g.Go(func() error {
				s, err := recordWorker(gctx, pool, pacer, wl, cfg)
				addStats(&stats[w], s)
				if err != nil {
					return fmt.Errorf("frame %d worker %d: %w", frame, w, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, err
		}
	}
	if err := sys.WaitIdle(ctx); err != nil {
		return res, err
	}
	res.Elapsed = time.Since(start)
	res.Frames = cfg.Frames
	for _, s := range stats {
		addStats(&res.Contexts, s)
	}
	if h, ok := sys.Heaps().(*heap.Heaps); ok {
		res.Heaps = h.Stats()
	}
	res.Pool = fmt.Sprintf("%+v", sys.Pool().Stats())
	res.Created = pool.Created()
	return res, nil
}

// recordWorker records one context's worth of dispatches and submits it.
func recordWorker(ctx context.Context, pool *gx.ContextPool, pacer *gx.FramePacer, wl workload, cfg benchConfig) (stats gx.ContextStats, err error) {
	cc, err := pool.Compute()
	if err != nil {
		return stats, err
	}
	defer func() {
		stats = cc.Stats()
		pool.Put(cc)
	}()
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok || !errors.Is(perr, gx.ErrBarrierOverflow) {
				panic(r)
			}
			err = perr
		}
	}()

	md := wl.Pipeline().RootSignature()
	resources := wl.Resources()
	states := make([]gpucore.ResourceState, len(resources))
	for i := range states {
		states[i] = gpucore.StateShaderResource
	}
	params := make([]byte, 16)

	cc.SetPipelineState(wl.Pipeline())
	for range cfg.Dispatches {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		for b := range cfg.Barriers {
			i := b % len(resources)
			next := gpucore.StateUnorderedAccess
			if states[i] == gpucore.StateUnorderedAccess {
				next = gpucore.StateShaderResource
			}
			cc.TransitionResource(resources[i], states[i], next)
			states[i] = next
		}
		for _, v := range md.Views {
			switch v.Kind {
			case rootsig.ViewCBV:
				if err := cc.SetConstantBuffer(v.RootIndex, params); err != nil {
					return stats, err
				}
			default:
				alloc, err := cc.AllocateUpload(256, heap.ConstantBufferAlignment)
				if err != nil {
					return stats, err
				}
				if v.Kind == rootsig.ViewSRV {
					cc.SetSRVBuffer(v.RootIndex, alloc.GPU)
				} else {
					cc.SetUAVBuffer(v.RootIndex, alloc.GPU)
				}
			}
		}
		for _, t := range md.Tables {
			if handles := wl.Table(t.RootIndex); len(handles) > 0 {
				cc.SetDynamicDescriptors(t.RootIndex, 0, handles...)
			}
		}
		if err := cc.Dispatch1D(1024, 64); err != nil {
			return stats, err
		}
	}
	_, err = pacer.Submit(cc)
	return stats, err
}

func addStats(dst *gx.ContextStats, s gx.ContextStats) {
	dst.BarrierBatches += s.BarrierBatches
	dst.Barriers += s.Barriers
	dst.TableCommits += s.TableCommits
	dst.Descriptors += s.Descriptors
	dst.Dispatches += s.Dispatches
	dst.Draws += s.Draws
	dst.UploadBytes += s.UploadBytes
}

// Package config holds the daemon's options: defaults, TLXR_*
// environment overrides and validation.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/SababAosaf/tlxr/domain/plan"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/service"
	"github.com/cockroachdb/errors"
)

// Options configure one heap and the daemon around it. Sizes are bytes.
type Options struct {
	Plan        plan.Kind
	Threads     int
	HeapSize    uint64
	NurserySize uint64
	// StressFactor forces a collection every StressFactor bytes of pages
	// acquired; 0 disables it.
	StressFactor uint64

	Sanity           bool
	Verbose          bool
	NoFinalizer      bool
	NoReferenceTypes bool
	FullHeapSystemGC bool

	// daemon surfaces
	JournalDir  string
	Brokers     []string
	Topic       string
	Publisher   string // "sarama" or "kafka-go"; empty disables publishing
	GRPCAddr    string
	MetricsAddr string
}

func Default() Options {
	return Options{
		Plan:        plan.KindGenCopy,
		Threads:     runtime.NumCPU(),
		HeapSize:    memory.PagesToBytes(plan.DefaultHeapPages),
		NurserySize: memory.PagesToBytes(plan.DefaultNurseryPages),
		JournalDir:  "./gc_journal",
		Topic:       "gc.cycles",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
	}
}

// env variable names
const (
	EnvPlan             = "TLXR_PLAN"
	EnvThreads          = "TLXR_THREADS"
	EnvHeapSize         = "TLXR_HEAP_SIZE"
	EnvNurserySize      = "TLXR_NURSERY_SIZE"
	EnvStressFactor     = "TLXR_STRESS_FACTOR"
	EnvSanity           = "TLXR_SANITY"
	EnvVerbose          = "TLXR_VERBOSE"
	EnvNoFinalizer      = "TLXR_NO_FINALIZER"
	EnvNoReferenceTypes = "TLXR_NO_REFERENCE_TYPES"
	EnvFullHeapSystemGC = "TLXR_FULL_HEAP_SYSTEM_GC"
	EnvBrokers          = "TLXR_BROKERS"
)

// FromEnv applies TLXR_* overrides from the process environment.
func (o *Options) FromEnv() error {
	return o.ApplyEnv(os.LookupEnv)
}

// ApplyEnv applies overrides from lookup. Unset variables keep their
// current value.
func (o *Options) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	size := func(name string, dst *uint64) {
		if v, ok := lookup(name); ok {
			n, err := ParseSize(v)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "%s", name))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "%s", name))
				return
			}
			*dst = b
		}
	}

	var kind string
	str(EnvPlan, &kind)
	if kind != "" {
		o.Plan = plan.Kind(strings.ToLower(kind))
	}
	if v, ok := lookup(EnvThreads); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "%s", EnvThreads))
		} else {
			o.Threads = n
		}
	}
	size(EnvHeapSize, &o.HeapSize)
	size(EnvNurserySize, &o.NurserySize)
	size(EnvStressFactor, &o.StressFactor)
	flag(EnvSanity, &o.Sanity)
	flag(EnvVerbose, &o.Verbose)
	flag(EnvNoFinalizer, &o.NoFinalizer)
	flag(EnvNoReferenceTypes, &o.NoReferenceTypes)
	flag(EnvFullHeapSystemGC, &o.FullHeapSystemGC)
	var brokers string
	str(EnvBrokers, &brokers)
	if brokers != "" {
		o.Brokers = strings.Split(brokers, ",")
	}
	var err error
	for _, e := range errs {
		err = errors.CombineErrors(err, e)
	}
	return err
}

func (o Options) Validate() error {
	known := false
	for _, k := range plan.Kinds() {
		known = known || k == o.Plan
	}
	if !known {
		return errors.Newf("unknown plan %q (want one of %v)", o.Plan, plan.Kinds())
	}
	if o.Threads <= 0 {
		return errors.Newf("threads must be positive, got %d", o.Threads)
	}
	switch o.Publisher {
	case "", "sarama", "kafka-go":
	default:
		return errors.Newf("unknown publisher %q", o.Publisher)
	}
	if o.Publisher != "" && len(o.Brokers) == 0 {
		return errors.New("publishing needs at least one broker")
	}
	return o.Service().Plan.Validate()
}

// Service converts o to heap options.
func (o Options) Service() service.Options {
	return service.Options{
		Plan: plan.Options{
			Kind:                      o.Plan,
			HeapPages:                 memory.BytesToPages(o.HeapSize),
			NurseryPages:              memory.BytesToPages(o.NurserySize),
			StressFactor:              memory.BytesToPages(o.StressFactor),
			FullHeapSystemGC:          o.FullHeapSystemGC,
			FullHeapSurvivalThreshold: plan.DefaultFullHeapSurvivalThreshold,
			Sanity:                    o.Sanity,
			Verbose:                   o.Verbose,
		},
		Threads:          o.Threads,
		NoReferenceTypes: o.NoReferenceTypes,
		NoFinalizer:      o.NoFinalizer,
	}
}

// ParseSize reads a byte count with an optional K, M or G suffix
// (powers of 1024), e.g. "64M".
func ParseSize(s string) (uint64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "B")
	shift := 0
	switch {
	case strings.HasSuffix(s, "K"):
		shift = 10
	case strings.HasSuffix(s, "M"):
		shift = 20
	case strings.HasSuffix(s, "G"):
		shift = 30
	}
	if shift > 0 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "size")
	}
	if n > (1<<64-1)>>shift {
		return 0, errors.Newf("size %s overflows", s)
	}
	return n << shift, nil
}

package config

import (
	"testing"

	"github.com/SababAosaf/tlxr/domain/plan"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefaultsAreValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestApplyEnv(t *testing.T) {
	o := Default()
	err := o.ApplyEnv(env(map[string]string{
		EnvPlan:             "MarkSweep",
		EnvThreads:          "3",
		EnvHeapSize:         "32M",
		EnvStressFactor:     "64k",
		EnvSanity:           "true",
		EnvNoFinalizer:      "1",
		EnvFullHeapSystemGC: "t",
		EnvBrokers:          "a:9092,b:9092",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if o.Plan != plan.KindMarkSweep || o.Threads != 3 || o.HeapSize != 32<<20 || o.StressFactor != 64<<10 {
		t.Fatalf("options %+v", o)
	}
	if !o.Sanity || !o.NoFinalizer || !o.FullHeapSystemGC || o.Verbose || len(o.Brokers) != 2 {
		t.Fatalf("flags %+v", o)
	}

	s := o.Service()
	if s.Plan.HeapPages != 8192 || s.Plan.StressFactor != 16 || !s.NoFinalizer || s.Threads != 3 {
		t.Fatalf("service options %+v", s)
	}
	if err := o.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestApplyEnvReportsEveryBadValue(t *testing.T) {
	o := Default()
	err := o.ApplyEnv(env(map[string]string{
		EnvThreads:  "many",
		EnvHeapSize: "12X",
		EnvVerbose:  "loud",
	}))
	if err == nil {
		t.Fatal("bad values accepted")
	}
	if o.Threads != Default().Threads || o.HeapSize != Default().HeapSize {
		t.Fatal("bad values must not overwrite options")
	}
}

func TestValidateRejects(t *testing.T) {
	for name, mutate := range map[string]func(*Options){
		"plan":      func(o *Options) { o.Plan = "immix" },
		"threads":   func(o *Options) { o.Threads = 0 },
		"publisher": func(o *Options) { o.Publisher = "nats" },
		"brokers":   func(o *Options) { o.Publisher = "sarama" },
		"heap":      func(o *Options) { o.HeapSize = 4096 },
		"nursery":   func(o *Options) { o.NurserySize = o.HeapSize },
	} {
		o := Default()
		mutate(&o)
		if err := o.Validate(); err == nil {
			t.Fatalf("%s: invalid options accepted", name)
		}
	}
}

func TestParseSize(t *testing.T) {
	for in, want := range map[string]uint64{
		"4096": 4096,
		"4k":   4 << 10,
		"16MB": 16 << 20,
		" 2G ": 2 << 30,
	} {
		got, err := ParseSize(in)
		if err != nil || got != want {
			t.Fatalf("ParseSize(%q) = %d, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "M", "-1", "1T", "99999999999999999999G"} {
		if _, err := ParseSize(in); err == nil {
			t.Fatalf("ParseSize(%q) accepted", in)
		}
	}
}

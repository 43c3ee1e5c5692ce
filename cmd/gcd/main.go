package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/SababAosaf/tlxr/api/grpcserver"
	"github.com/SababAosaf/tlxr/config"
	"github.com/SababAosaf/tlxr/domain/plan"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/domain/vm"
	"github.com/SababAosaf/tlxr/infra/journal"
	"github.com/SababAosaf/tlxr/infra/kafka"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/metrics"
	"github.com/SababAosaf/tlxr/infra/simvm"
	"github.com/SababAosaf/tlxr/jobs/broadcaster"
	"github.com/SababAosaf/tlxr/jobs/finalizer"
	"github.com/SababAosaf/tlxr/service"
)

// finalizerThread is the thread ID of the finalizer job's mutator.
const finalizerThread vm.Thread = 1 << 20

func main() {
	// ---------------- Options ----------------

	opts := config.Default()
	if err := opts.FromEnv(); err != nil {
		log.Fatalf("environment: %v", err)
	}
	var (
		planKind  = flag.String("plan", string(opts.Plan), "collection plan: nogc, semispace, gencopy, marksweep")
		threads   = flag.Int("threads", opts.Threads, "collector worker threads")
		heapSize  = flag.String("heap", fmt.Sprint(opts.HeapSize), "heap size, e.g. 64M")
		mutators  = flag.Int("mutators", 4, "simulated mutator threads")
		duration  = flag.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
		brokers   = flag.String("brokers", strings.Join(opts.Brokers, ","), "kafka brokers, comma separated")
		publisher = flag.String("publisher", opts.Publisher, "cycle event publisher: sarama, kafka-go or empty")
	)
	flag.StringVar(&opts.JournalDir, "journal", opts.JournalDir, "cycle journal directory")
	flag.StringVar(&opts.GRPCAddr, "grpc", opts.GRPCAddr, "gRPC control address")
	flag.StringVar(&opts.MetricsAddr, "metrics", opts.MetricsAddr, "prometheus metrics address")
	flag.BoolVar(&opts.Verbose, "v", opts.Verbose, "verbose collector logging")
	flag.Parse()

	opts.Plan = plan.Kind(*planKind)
	opts.Threads = *threads
	opts.Publisher = *publisher
	if *brokers != "" {
		opts.Brokers = strings.Split(*brokers, ",")
	}
	size, err := config.ParseSize(*heapSize)
	if err != nil {
		log.Fatalf("-heap: %v", err)
	}
	opts.HeapSize = size
	if err := opts.Validate(); err != nil {
		log.Fatalf("options: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	// ---------------- Journal ----------------

	j, err := journal.Open(opts.JournalDir, nil)
	if err != nil {
		log.Fatalf("journal init failed: %v", err)
	}
	defer j.Close()

	ids, err := service.ResumeCycleIDs(j)
	if err != nil {
		log.Fatalf("journal replay failed: %v", err)
	}

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	observer := metrics.New(reg)

	// ---------------- Heap ----------------

	so := opts.Service()
	so.IDs = ids
	so.Observer = scheduler.Observers{observer, broadcaster.NewRecorder(j)}

	host := simvm.New(memory.NewAddressSpace())
	heap, err := service.New(so, host.Binding())
	if err != nil {
		log.Fatalf("heap init failed: %v", err)
	}
	defer heap.Close()

	metrics.RegisterHeap(reg, func() (int, int, uint64) {
		st := heap.Stats()
		return st.UsedPages, st.HeapPages, st.Collections
	})

	// ---------------- Background Jobs ----------------

	var jobs sync.WaitGroup
	if opts.Publisher != "" {
		var pub broadcaster.Publisher
		switch opts.Publisher {
		case "sarama":
			if pub, err = broadcaster.NewSaramaPublisher(opts.Brokers, opts.Topic); err != nil {
				log.Fatalf("kafka producer init failed: %v", err)
			}
		case "kafka-go":
			pub = kafka.NewProducer(opts.Brokers, opts.Topic)
		}
		bc := broadcaster.New(j, pub, broadcaster.Config{MaxRetries: 10})
		bc.Start(ctx)
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			<-bc.Done()
			_ = bc.Close()
		}()
	}

	fin := finalizer.New(heap, finalizerThread, func(obj memory.ObjectReference) {
		if opts.Verbose {
			log.Printf("[finalizer] object %#x tag %d", uint64(obj), host.Tag(obj))
		}
	}, 50*time.Millisecond)
	fin.Start(ctx)

	// ---------------- Servers ----------------

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsSrv := &http.Server{Addr: opts.MetricsAddr, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server exited: %v", err)
		}
	}()

	lis, err := net.Listen("tcp", opts.GRPCAddr)
	if err != nil {
		log.Fatalf("listen failed: %v", err)
	}
	grpcSrv := grpc.NewServer()
	grpcserver.Register(grpcSrv, grpcserver.NewServer(heap))
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Printf("[gRPC] server exited: %v", err)
		}
	}()

	log.Printf("tlxr %s heap of %d bytes: gRPC on %s, metrics on %s",
		opts.Plan, opts.HeapSize, opts.GRPCAddr, opts.MetricsAddr)

	// ---------------- Workload ----------------

	var wg sync.WaitGroup
	for i := 0; i < *mutators; i++ {
		w := newWorkload(heap, host, vm.Thread(i+1), int64(i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
	wg.Wait()
	<-ctx.Done()

	// ---------------- Shutdown ----------------

	grpcSrv.GracefulStop()
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdown)
	<-fin.Done()
	jobs.Wait()

	st := heap.Stats()
	log.Printf("tlxr: %d collections, %d finalizers run, %d of %d pages in use",
		st.Collections, fin.Finalized(), st.UsedPages, st.HeapPages)
}

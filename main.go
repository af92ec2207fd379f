package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"coltable-go/config"
	"coltable-go/engine"
	"coltable-go/logging"
	"coltable-go/session"
	"coltable-go/table"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	configFlag = flag.String("config", "", "YAML config file")
	envFlag    = flag.String("env", ".env", "dotenv file with storage credentials")
	schemaFlag = flag.String("schema", "", "column layout of the input, e.g. \"name:string, phone:int\"")
	whereFlag  = flag.String("where", "*", "predicate, e.g. \"phone > 300 AND name = 'john'\"")
	selectFlag = flag.String("select", "*", "projection, e.g. \"name, phone AS tel\"")
	sortFlag   = flag.String("sort", "", "sort keys, e.g. \"name, phone DESC\"")
	saveFlag   = flag.String("save", "", "persist the result under this name (needs engine.data_dir)")
	outFlag    = flag.String("out", "", "output path (.tsv, .parquet or s3://bucket/key); stdout when empty")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <file.tsv|file.parquet|s3://bucket/key>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Load a table, filter it and write the result.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -schema \"name:string, phone:int\" phones.tsv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -schema \"name:string, phone:int\" -where \"phone > 300\" -out big.parquet phones.tsv\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() < 1 || *schemaFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: need an input file and -schema\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if err := run(context.Background(), flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, input string) error {
	if *configFlag != "" {
		if err := config.Decode(*configFlag); err != nil {
			return err
		}
	}
	if err := config.LoadEnv(*envFlag); err != nil {
		return err
	}
	cfg := config.GetConfig()

	if err := logging.Init(logging.Config{
		Level:      logging.LogLevel(cfg.Logging.Level),
		OutputPath: cfg.Logging.Output,
		Format:     cfg.Logging.Format,
	}); err != nil {
		return err
	}
	defer logging.Close()
	log := logging.WithComponent("main")

	reg := prometheus.NewRegistry()
	if cfg.Metrics.EnableMetrics {
		addr := net.JoinHostPort(cfg.Metrics.MetricsHost, strconv.Itoa(cfg.Metrics.MetricsPort))
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", "addr", addr, "error", err)
			}
		}()
		defer srv.Close()
		log.Info("serving metrics", "addr", addr)
	}

	opts := []engine.Option{
		engine.WithDataDir(cfg.Engine.DataDir),
		engine.WithRegisterer(reg),
		engine.WithLogger(logging.WithComponent("engine")),
	}
	if cfg.Engine.SampleSeed != 0 {
		opts = append(opts, engine.WithSeed(cfg.Engine.SampleSeed))
	}
	if cfg.Engine.CheckedAllocator {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		opts = append(opts, engine.WithAllocator(mem))
		defer func() {
			if n := mem.CurrentAlloc(); n != 0 {
				log.Warn("arrow allocations outstanding at exit", "bytes", n)
			}
		}()
	}
	e, err := engine.New(opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	sess := session.New(ctx, e, session.WithLogger(logging.WithComponent("session")))
	scope := sess.Open()
	defer scope.Close()

	src, err := table.FromFile(sess, "", *schemaFlag, input)
	if err != nil {
		return fmt.Errorf("load %s: %w", input, err)
	}
	result, err := src.Filter(*whereFlag, *selectFlag)
	if err != nil {
		return err
	}
	if *sortFlag != "" {
		if result, err = result.Sort(*sortFlag, "*"); err != nil {
			return err
		}
	}
	n, err := result.Count()
	if err != nil {
		return err
	}
	log.Info("query done", "input", input, "rows", n)

	if *saveFlag != "" {
		if err := result.Save(*saveFlag); err != nil {
			return err
		}
	}
	if *outFlag == "" {
		return result.WriteTSV(os.Stdout)
	}
	return result.ToFile(*outFlag)
}

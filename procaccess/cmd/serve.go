package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/procaccess/access"
	"github.com/sarchlab/procaccess/console"
	"github.com/sarchlab/procaccess/datarecording"
	"github.com/sarchlab/procaccess/monitoring"
	"github.com/sarchlab/procaccess/processor"
	"github.com/sarchlab/procaccess/sim"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host a simulated processor and its access server.",
	Long: `serve lays out a processor on an in-memory grid, drives it with a ` +
		`clock and serves the control protocol for it. Operator commands ` +
		`such as "procaccess.status <x> <y>" are read from standard input.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.Int("x", 1, "x coordinate of the processor unit")
	f.Int("y", 1, "y coordinate of the processor unit")
	f.String("host", "localhost", "host the access server listens on")
	f.Int("port", access.DefaultPort, "port the access server listens on")
	f.Float64("freq", 60, "tick rate of the simulation in Hz")
	f.Bool("legacy", false, "lay out the processor with the legacy schema")
	f.Bool("loopback", false, "echo serial input back to the host")
	f.String("local-root", ".", "directory relative image paths resolve against")
	f.Int("monitor-port", -1,
		"port of the web monitor, 0 for a random port, negative to disable")
	f.Bool("open-monitor", false, "open the web monitor in a browser")
	f.String("record", "",
		"record protocol activity into the given SQLite file name")
	f.Bool("console", true, "read operator commands from standard input")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	x, _ := f.GetInt("x")
	y, _ := f.GetInt("y")
	host, _ := f.GetString("host")
	port, _ := f.GetInt("port")
	freq, _ := f.GetFloat64("freq")
	legacy, _ := f.GetBool("legacy")
	loopback, _ := f.GetBool("loopback")
	localRoot, _ := f.GetString("local-root")
	monitorPort, _ := f.GetInt("monitor-port")
	openMonitor, _ := f.GetBool("open-monitor")
	record, _ := f.GetString("record")
	withConsole, _ := f.GetBool("console")

	if freq <= 0 {
		return fmt.Errorf("%w: frequency must be positive", sim.ErrInvalidArgument)
	}

	sim.UseParallelIDGenerator()

	params := processor.DefaultParams()
	if legacy {
		params.Schema = processor.LegacySchema()
	}

	grid := sim.NewMemGrid()

	machine, err := processor.Provision(grid, x, y, params)
	if err != nil {
		return err
	}

	proc, ok := processor.Resolve(grid, x, y, params.Schema)
	if !ok {
		return fmt.Errorf("%w: provisioned processor does not resolve",
			sim.ErrRuntime)
	}

	engine := sim.NewSerialEngine(sim.Freq(freq) * sim.Hz)

	clock := processor.NewClock(machine, proc)
	clock.Loopback = loopback
	engine.RegisterTicker(clock)

	manager := access.NewManager()
	builder := access.MakeBuilder().
		WithHost(host).
		WithPort(port).
		WithLocalRoot(localRoot)

	if record != "" {
		recorder := datarecording.New(record)
		defer recorder.Close()

		builder = builder.WithHooks(datarecording.NewTracer(recorder))
	}

	if monitorPort >= 0 {
		monitor := monitoring.NewMonitor().WithPortNumber(monitorPort)
		monitor.RegisterEngine(engine)
		monitor.RegisterManager(manager)
		monitor.RegisterProcessor(proc)
		builder = builder.WithHooks(monitor)

		actualPort := monitor.StartServer()
		defer monitor.StopServer()

		if openMonitor {
			url := fmt.Sprintf("http://localhost:%d", actualPort)
			if err := browser.OpenURL(url); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", url, err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx, builder.Build(engine, proc)); err != nil {
		return err
	}
	defer manager.StopAll()

	if withConsole {
		startConsole(ctx, engine, grid, manager, builder, params.Schema, localRoot)
	}

	fmt.Fprintf(os.Stderr, "Serving %s at %.0f Hz, press Ctrl+C to stop.\n",
		proc.Name(), freq)

	return engine.Run(ctx)
}

func startConsole(
	ctx context.Context,
	engine sim.Engine,
	grid sim.Grid,
	manager *access.Manager,
	builder access.Builder,
	schema processor.Schema,
	localRoot string,
) {
	logger := console.DefaultLogger()
	registrar := console.NewCobraRegistrar(os.Stdout, logger)

	console.MakeBuilder().
		WithSchemas(schema).
		WithLogger(logger).
		WithLocalRoot(localRoot).
		WithServerBuilder(builder).
		Build(engine, grid, manager).
		Register(registrar)

	go func() {
		if err := registrar.Serve(ctx, os.Stdin); err != nil {
			logger.Printf("Console stopped: %v", err)
		}
	}()
}

package shmpipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"time"
)

// SpawnedEnv marks the spawned process. Its value holds the descriptor
// numbers of the handoff and report pipes, for example "3,4". Programs
// embedding the pipeline check Spawned at the top of main.
const SpawnedEnv = "SHMPIPE_SPAWNED"

// ErrInterrupted is returned by Run when SIGINT or SIGTERM stopped the run.
var ErrInterrupted = errors.New("interrupted by signal")

// Spawned reports whether the current process was started by Run as the
// second endpoint of a pipeline.
func Spawned() bool {
	return os.Getenv(SpawnedEnv) != ""
}

// controlFDs parses the descriptor numbers Run put in SpawnedEnv.
func controlFDs(v string) (handoff, report uintptr, err error) {
	if _, err := fmt.Sscanf(v, "%d,%d", &handoff, &report); err != nil {
		return 0, 0, fmt.Errorf("%s=%q: %w", SpawnedEnv, v, err)
	}
	return handoff, report, nil
}

// Run is the originating process's side of a pipeline run. It creates the
// shared region, initializes the semaphores and queue in it, spawns the
// second process, runs cfg.OwnerRole, waits for the other process to exit and
// then destroys everything it created, exactly once.
//
// The binary that Run spawns (cfg.Executable, by default the running one) must
// call ServeSpawned when Spawned reports true:
//
//	func main() {
//		if shmpipe.Spawned() {
//			os.Exit(shmpipe.ServeSpawned(context.Background(), os.Stdout, os.Stderr))
//		}
//		cfg, err := shmpipe.ParseArgs(os.Args[1:])
//		...
//		os.Exit(shmpipe.ExitCode(shmpipe.Run(context.Background(), cfg)))
//	}
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return newError(KindConfiguration, "validate config", err)
	}
	cfg = cfg.withDefaults()
	logger := cfg.Logger

	layout, err := NewLayout(cfg.Capacity)
	if err != nil {
		return newError(KindConfiguration, "compute layout", err)
	}

	// Nothing exists before this point, and if creation fails nothing is
	// left behind to clean up.
	region, err := CreateRegion(cfg.Key, layout.Size)
	if err != nil {
		return err
	}
	logger.Printf("created region id=%d size=%d capacity=%d", region.ID(), region.Size(), layout.Capacity)

	if _, err := region.Attach(); err != nil {
		return errors.Join(err, region.Destroy())
	}

	o := &owner{cfg: cfg, logger: logger, region: region}
	o.pipeline, err = CreatePipeline(region, layout)
	if err == nil {
		err = o.pipeline.Instrument(cfg.MeterProvider)
	}
	if err != nil {
		return errors.Join(newError(KindAttachment, "initialize region", err), o.teardown())
	}

	peer := cfg.OwnerRole.Peer()
	o.child, err = spawn(cfg, Handoff{
		Version:    ProtocolVersion.String(),
		RegionID:   region.ID(),
		RegionSize: region.Size(),
		Capacity:   layout.Capacity,
		Count:      cfg.Count,
		Role:       peer,
		Sleep:      cfg.Sleep,
		MaxDelay:   int64(cfg.MaxDelay),
		Seed:       cfg.Seed,
		OwnerPID:   os.Getpid(),
	})
	if err != nil {
		return errors.Join(err, o.teardown())
	}
	logger.Printf("spawned %s process pid=%d", peer, o.child.cmd.Process.Pid)

	w := o.watch()
	hooks := hooksFor(cfg.OwnerRole, cfg.Stdout, cfg.Sleep, cfg.MaxDelay, cfg.Seed)
	n, loopErr := o.pipeline.Run(ctx, cfg.OwnerRole, cfg.Count, hooks)
	if loopErr != nil {
		// the peer may now block forever on a counter this process will never signal
		logger.Printf("%s stopped after %d of %d items: %v", cfg.OwnerRole, n, cfg.Count, loopErr)
		if err := o.child.terminate(); err != nil {
			logger.Printf("terminate %s process: %v", peer, err)
		}
	}

	childErr := o.child.finish(logger)
	// no abandon may race with the region going away
	w.halt()
	teardownErr := o.teardown()
	return errors.Join(w.release(), childErr, loopErr, teardownErr)
}

// owner holds the resources the originating process must release.
type owner struct {
	cfg      Config
	logger   *log.Logger
	region   *SharedRegion
	pipeline *Pipeline
	child    *child
}

// teardown destroys the semaphores and queue, detaches and destroys the
// region. It runs only once the spawned process, if any, has exited.
func (o *owner) teardown() error {
	var errs []error
	if o.pipeline != nil {
		if err := o.pipeline.Sync.Check(o.pipeline.Layout.Capacity); err != nil {
			o.logger.Printf("semaphores not quiescent at teardown: %v", err)
		}
		if err := o.pipeline.Destroy(); err != nil {
			if errors.Is(err, ErrSemaphoreBusy) {
				// A peer killed inside Wait leaves its waiter registration
				// behind. It is gone, so the count is stale.
				o.logger.Printf("destroying semaphores with stale waiters: %v", err)
			} else {
				errs = append(errs, newError(KindSynchronization, "destroy semaphores", err))
			}
		}
	}
	if o.region.Attached() {
		errs = append(errs, o.region.Detach())
	}
	if n, err := o.region.Attachments(); err == nil && n > 0 {
		o.logger.Printf("region id=%d still has %d attachments at destroy", o.region.ID(), n)
	}
	errs = append(errs, o.region.Destroy())
	if err := errors.Join(errs...); err != nil {
		return err
	}
	o.logger.Printf("destroyed region id=%d", o.region.ID())
	return nil
}

// watchdog releases the owner's loop when the run cannot complete.
type watchdog struct {
	o       *owner
	sigs    chan os.Signal
	done    chan struct{}
	stopped chan struct{}

	// signal is the first signal received, read after stopped is closed.
	signal os.Signal
}

// watch starts a watchdog. On SIGINT or SIGTERM it terminates the spawned
// process; if the spawned process fails, nothing will signal the semaphores
// the owner may be blocked on. Either way the semaphores are abandoned, so
// the owner's loop returns and Run still tears everything down.
func (o *owner) watch() *watchdog {
	w := &watchdog{
		o:       o,
		sigs:    make(chan os.Signal, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	setSignalsForChannel(w.sigs)
	go w.run()
	return w
}

func (w *watchdog) run() {
	defer close(w.stopped)
	o := w.o
	exited := o.child.exited
	for {
		select {
		case sig := <-w.sigs:
			if w.signal != nil {
				continue
			}
			w.signal = sig
			o.logger.Printf("received %v, terminating %s process", sig, o.child.role)
			if err := o.child.terminate(); err != nil {
				o.logger.Printf("terminate: %v", err)
			}
			<-o.child.exited
			w.abandon()
		case <-exited:
			exited = nil
			if o.child.waitErr != nil {
				o.logger.Printf("%s process failed: %v", o.child.role, o.child.waitErr)
				w.abandon()
			}
		case <-w.done:
			return
		}
	}
}

func (w *watchdog) abandon() {
	if err := w.o.pipeline.Sync.Abandon(); err != nil {
		w.o.logger.Printf("abandon semaphores: %v", err)
	}
}

// halt stops the watchdog from touching the region. Signals are still
// captured until release.
func (w *watchdog) halt() {
	close(w.done)
	<-w.stopped
}

// release stops capturing signals and reports the one that stopped the
// run, if any. It must follow halt.
func (w *watchdog) release() error {
	signal.Stop(w.sigs)
	sig := w.signal
	if sig == nil {
		select {
		case sig = <-w.sigs:
		default:
		}
	}
	if sig == nil {
		return nil
	}
	return newError(KindProcess, "run", fmt.Errorf("%w: %v", ErrInterrupted, sig))
}

// child is the spawned second endpoint.
type child struct {
	cmd     *exec.Cmd
	role    Role
	channel *controlChannel

	exited  chan struct{}
	waitErr error
}

// spawn starts the second process and sends it the handoff. The descriptor
// numbers of the two pipes in the child are passed in SpawnedEnv.
func spawn(cfg Config, h Handoff) (*child, error) {
	exe := cfg.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, newError(KindProcess, "spawn", err)
		}
	}

	handoffR, handoffW, err := os.Pipe()
	if err != nil {
		return nil, newError(KindProcess, "spawn", err)
	}
	reportR, reportW, err := os.Pipe()
	if err != nil {
		handoffR.Close()
		handoffW.Close()
		return nil, newError(KindProcess, "spawn", err)
	}

	cmd := exec.Command(exe, cfg.Args...)
	cmd.Stdout = cfg.Stdout
	cmd.Stderr = cfg.Stderr
	fds := setExtraFiles(cmd, []*os.File{handoffR, reportW})
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d,%d", SpawnedEnv, fds[0], fds[1]))

	startErr := cmd.Start()
	// the child holds its own copies; ours would keep EOF from arriving
	handoffR.Close()
	reportW.Close()
	if startErr != nil {
		handoffW.Close()
		reportR.Close()
		return nil, newError(KindProcess, "spawn", fmt.Errorf("start %s: %w", exe, startErr))
	}

	c := &child{
		cmd:     cmd,
		role:    h.Role,
		channel: newControlChannel(reportR, handoffW),
		exited:  make(chan struct{}),
	}
	go func() {
		c.waitErr = waitForExit(cmd, c.role)
		close(c.exited)
	}()

	if err := c.channel.send(h); err != nil {
		c.terminate()
		<-c.exited
		c.channel.Close()
		return nil, newError(KindProcess, "send handoff", err)
	}
	return c, nil
}

// terminate stops the child: SIGTERM first, SIGKILL after a grace period.
func (c *child) terminate() error {
	select {
	case <-c.exited:
		return nil
	default:
	}
	return terminateProcess(c.cmd.Process, c.exited)
}

// finish collects the child's report and waits for it to exit.
func (c *child) finish(logger *log.Logger) error {
	var report Report
	recvErr := c.channel.receive(&report)
	<-c.exited
	c.channel.Close()

	if recvErr == nil {
		logger.Printf("%s process pid=%d completed %d items", report.Role, report.PID, report.Completed)
	}

	if c.waitErr != nil {
		var pe *ProcessError
		if errors.As(c.waitErr, &pe) {
			pe.Message = report.Error
		}
		return newError(KindProcess, "wait "+c.role.String(), c.waitErr)
	}
	if recvErr != nil {
		return newError(KindProcess, "receive report", recvErr)
	}
	if report.Error != "" {
		return newError(KindProcess, "wait "+c.role.String(), &ProcessError{Role: c.role, Message: report.Error})
	}
	return nil
}

// ServeSpawned is the spawned process's side of a pipeline run. It reads the
// handoff, attaches the region, runs the assigned role, detaches and reports
// back. It never destroys anything. The return value is the exit status.
func ServeSpawned(ctx context.Context, stdout, stderr io.Writer) int {
	logger := newLogger(stderr)
	handoffFD, reportFD, err := controlFDs(os.Getenv(SpawnedEnv))
	if err != nil {
		logger.Printf("control pipes: %v", err)
		return ExitFailure
	}
	channel := newControlChannel(os.NewFile(handoffFD, "handoff"), os.NewFile(reportFD, "report"))
	defer channel.Close()

	var h Handoff
	if err := channel.receive(&h); err != nil {
		logger.Printf("receive handoff: %v", err)
		return ExitFailure
	}

	n, err := serve(ctx, h, stdout, logger)
	report := Report{Role: h.Role, PID: os.Getpid(), Completed: n}
	if err != nil {
		logger.Printf("%s: %v", h.Role, err)
		report.Error = err.Error()
	}
	if sendErr := channel.send(report); sendErr != nil {
		logger.Printf("send report: %v", sendErr)
	}
	if err != nil {
		return ExitFailure
	}
	return ExitOK
}

func serve(ctx context.Context, h Handoff, stdout io.Writer, logger *log.Logger) (int, error) {
	peer, err := checkPeerVersion(h.Version)
	if err != nil {
		return 0, newError(KindProcess, "handoff", err)
	}
	if c := peer.Compare(ProtocolVersion); c != 0 {
		skew := "older"
		if c > 0 {
			skew = "newer"
		}
		logger.Printf("owner speaks protocol %s, %s than %s", peer, skew, ProtocolVersion)
	}
	layout, err := NewLayout(h.Capacity)
	if err != nil {
		return 0, newError(KindConfiguration, "compute layout", err)
	}
	region := OpenRegion(h.RegionID, h.RegionSize)
	if _, err := region.Attach(); err != nil {
		return 0, err
	}
	p, err := OpenPipeline(region, layout)
	if err != nil {
		return 0, errors.Join(newError(KindAttachment, "open region", err), region.Detach())
	}

	hooks := hooksFor(h.Role, stdout, h.Sleep, time.Duration(h.MaxDelay), h.Seed)
	n, loopErr := p.Run(ctx, h.Role, h.Count, hooks)
	return n, errors.Join(loopErr, region.Detach())
}

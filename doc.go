// Package shmpipe moves integers from a producer process to a consumer process
// through a bounded queue in System V shared memory, coordinated by three
// counting semaphores that live in the same region.
//
// One process, the owner, creates the region, initializes the semaphores and
// the queue in it, and spawns the second process by re-executing its own
// binary. Both processes then run their loop against the same queue. When the
// spawned process has exited, the owner destroys the semaphores, the queue and
// the region, exactly once.
//
// # Region Layout
//
// The region is laid out by a Layout and accessed only through a RegionView:
//
//	[space_available][items_available][mutual_exclusion][queue header | items]
//
// Every component starts on a cache-line boundary. Layout.Validate checks
// bounds, ordering and overlap before anything is constructed in place.
//
// # Synchronization
//
// Each Semaphore is a 32-bit counter and a waiter count blocked on with a
// shared Linux futex, so a Signal in one process wakes a Wait in the other.
// The three semaphores start at:
//
//	space_available  = capacity
//	items_available  = 0
//	mutual_exclusion = 1
//
// The producer waits on space_available then mutual_exclusion, enqueues,
// releases mutual_exclusion and signals items_available. The consumer mirrors
// it with items_available and space_available swapped.
//
// # Running a Pipeline
//
// A program embedding the pipeline dispatches the spawned process first:
//
//	func main() {
//		if shmpipe.Spawned() {
//			os.Exit(shmpipe.ServeSpawned(context.Background(), os.Stdout, os.Stderr))
//		}
//		cfg := shmpipe.DefaultConfig()
//		cfg.Count = 3
//		err := shmpipe.Run(context.Background(), cfg)
//		os.Exit(shmpipe.ExitCode(err))
//	}
//
// Each operation prints a line inside the critical section:
//
//	Produced (1/3): 412 nBuffer=1
//	Consumed (1/3): 412 nBuffer=0
//
// # In-Process Use
//
// The loops can also run between goroutines of one process, which is how
// most of the tests exercise them:
//
//	layout, _ := shmpipe.NewLayout(4)
//	region, _ := shmpipe.CreateRegion(shmpipe.KeyPrivate, layout.Size)
//	region.Attach()
//	p, _ := shmpipe.CreatePipeline(region, layout)
//	go p.Produce(ctx, 100, shmpipe.Hooks{})
//	p.Consume(ctx, 100, shmpipe.Hooks{})
//
// # Platform Support
//
// Shared memory and futexes are implemented for Linux. Other platforms build
// but return ErrSharedMemoryNotAvailable or ErrFutexNotAvailable.
package shmpipe

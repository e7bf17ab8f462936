// Command shmpipe runs a producer and a consumer in two processes that share
// a bounded queue in System V shared memory.
//
// Usage:
//
//	shmpipe [numbersToProduce] [sleep]
//
// numbersToProduce defaults to 5000. The literal "sleep" adds a random pause
// of up to one second after every operation. SHMPIPE_CAPACITY,
// SHMPIPE_OWNER_ROLE and SHMPIPE_SEED override the queue capacity, the role
// of the launching process and the random seed.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/richinsley/shmpipe"
)

func main() {
	if shmpipe.Spawned() {
		os.Exit(shmpipe.ServeSpawned(context.Background(), os.Stdout, os.Stderr))
	}

	prog := filepath.Base(os.Args[0])
	cfg, err := shmpipe.ParseArgs(os.Args[1:])
	if err == nil {
		err = cfg.ApplyEnv(os.LookupEnv)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n%s\n", prog, err, shmpipe.Usage(prog))
		os.Exit(shmpipe.ExitUsage)
	}

	if err := shmpipe.Run(context.Background(), cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", prog, err)
		os.Exit(shmpipe.ExitCode(err))
	}
}

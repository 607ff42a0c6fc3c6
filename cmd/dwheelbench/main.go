// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// dwheelbench measures schedule and expire throughput of the dwheel
// timer wheel: it fills a wheel with randomly spread deadlines and then
// polls it dry with a manually advanced clock.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/intuitivelabs/dwheel"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "dwheelbench"
	app.Usage = "timer wheel schedule/expire throughput harness"
	app.Flags = []cli.Flag{
		&cli.IntFlag{
			Name:  "timers",
			Usage: "number of timers to schedule",
			Value: 100000,
		},
		&cli.IntFlag{
			Name:  "spokes",
			Usage: "ticks per wheel (power of 2)",
			Value: 1024,
		},
		&cli.Int64Flag{
			Name:  "resolution",
			Usage: "tick resolution in ns (power of 2)",
			Value: 1 << 20,
		},
		&cli.IntFlag{
			Name:  "alloc",
			Usage: "initial slots per spoke (power of 2)",
			Value: dwheel.DefaultAllocation,
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "expiry limit per poll",
			Value: 256,
		},
		&cli.DurationFlag{
			Name:  "horizon",
			Usage: "deadline spread",
			Value: time.Minute,
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "deadline PRNG seed",
			Value: 1,
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "dwheelbench: %s\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	var w dwheel.Wheel[struct{}]
	if err := w.InitAlloc(0, c.Int64("resolution"), c.Int("spokes"),
		c.Int("alloc")); err != nil {
		return err
	}

	n := c.Int("timers")
	horizon := c.Duration("horizon").Nanoseconds()
	limit := c.Int("limit")
	rng := rand.New(rand.NewSource(c.Int64("seed")))

	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := w.Schedule(1 + rng.Int63n(horizon)); err != nil {
			return err
		}
	}
	schedD := time.Since(start)

	consume := func(_ struct{}, _ int64, _ dwheel.TimerId) bool {
		return true
	}
	expired := 0
	polls := 0
	now := int64(0)
	start = time.Now()
	for w.Count() > 0 {
		expired += w.Poll(now, struct{}{}, consume, limit)
		polls++
		// follow the tick cursor instead of real time
		if t := w.CurrentTickTime(); t > now {
			now = t
		}
	}
	expireD := time.Since(start)

	fmt.Printf("scheduled %d timers in %s (%.0f/s)\n",
		n, schedD, float64(n)/schedD.Seconds())
	fmt.Printf("expired   %d timers in %s (%.0f/s), %d polls\n",
		expired, expireD, float64(expired)/expireD.Seconds(), polls)
	return nil
}

package test

import (
	"os"

	"github.com/btcsuite/btclog/v2"
)

// logger writes harness events to stdout so they interleave with the engine
// logs of a failing test.
var logger = btclog.NewSLogger(btclog.NewDefaultHandler(os.Stdout)).
	SubSystem("TEST")

package main

import (
	"os"
	"os/signal"
	"syscall"
)

func notifySignals(sigCh chan<- os.Signal) {
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
}

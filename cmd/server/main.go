package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"kvstore/internal/engine"
	"kvstore/internal/instrumentation"
	"kvstore/internal/server"
)

const (
	listenAddr = "0.0.0.0:10000"
	dumpFile   = "dump.rdb"
)

func main() {
	eng := engine.New(dumpFile, instrumentation.NopInstrumentation{})
	eng.RunPeriodicSampling()

	srv := server.New(listenAddr, eng)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("shutting down")
		eng.Stop()
		os.Exit(0)
	}()

	log.Printf("starting server on %s", listenAddr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

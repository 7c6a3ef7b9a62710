package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftnote/driftnote/pkg/driftnote"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := driftnote.Main(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

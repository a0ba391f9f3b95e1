package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/unitherd/unitherd"
)

// This example embeds the supervisor in a host program: it starts every
// unit declared under ./services, prints their status, and keeps them
// alive until interrupted.
func main() {
	base, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	sup, err := unitherd.NewFromDir(base)
	if err != nil {
		panic(err)
	}
	defer sup.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.StartAll(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
	}

	rows, err := sup.Status()
	if err != nil {
		panic(err)
	}
	b, _ := json.MarshalIndent(rows, "", "  ")
	fmt.Println(string(b))

	// Restart dead restartable units until Ctrl-C, then stop everything.
	_ = sup.Monitor(ctx)
}

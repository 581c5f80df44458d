// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rewind/internal/websocket"
)

func main() {
	workspace := flag.String("workspace", "", "workspace directory to open a task for")
	serve := flag.Bool("serve", true, "expose the app over a local WebSocket port")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := NewApp()
	if err := app.Startup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	var wsServer *websocket.Server
	if *serve {
		wsServer = websocket.NewServer(app)
		app.SetEventHubBroadcaster(wsServer)

		port, err := wsServer.Start(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "start websocket server: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("WS_PORT:%d\n", port)
	}

	if *workspace != "" {
		task, err := app.OpenTask(*workspace)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open task failed: %v\n", err)
			os.Exit(1)
		}
		log.Printf("task %s opened for %s", task.ID, task.WorkspacePath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	if wsServer != nil {
		wsServer.Stop(ctx)
	}
	app.Shutdown(ctx)
}

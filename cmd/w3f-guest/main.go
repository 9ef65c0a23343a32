// Command w3f-guest is the in-sandbox process the runner supervisor
// boots: it evaluates a user script under goja and serves exactly one
// protocol exchange before exiting.
//
// Bootstrap idiom (environment-variable driven configuration, log.Fatalf
// on unrecoverable setup errors, graceful signal-triggered shutdown) is
// adapted from cmd/marble/main.go's generic entry point.
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/R3E-Network/w3f-runner/guest"
	"github.com/R3E-Network/w3f-runner/internal/protocol"
	"github.com/R3E-Network/w3f-runner/types"
)

func main() {
	port := 80
	if raw := os.Getenv("WEB3_FUNCTION_SERVER_PORT"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			log.Fatalf("w3f-guest: invalid WEB3_FUNCTION_SERVER_PORT %q: %v", raw, err)
		}
		port = p
	}

	mountPath := os.Getenv("WEB3_FUNCTION_MOUNT_PATH")
	if mountPath == "" {
		log.Fatalf("w3f-guest: WEB3_FUNCTION_MOUNT_PATH environment variable required")
	}

	scriptPath := os.Getenv("WEB3_FUNCTION_SCRIPT_PATH")
	if scriptPath == "" && len(os.Args) > 1 {
		scriptPath = os.Args[1]
	}
	if scriptPath == "" {
		log.Fatalf("w3f-guest: WEB3_FUNCTION_SCRIPT_PATH environment variable or script path argument required")
	}

	version := types.V2
	if os.Getenv("WEB3_FUNCTION_VERSION") == string(types.V1) {
		version = types.V1
	}

	showLogs := os.Getenv("WEB3_FUNCTION_SHOW_LOGS") == "true"

	script, err := os.ReadFile(scriptPath)
	if err != nil {
		log.Fatalf("w3f-guest: read script %s: %v", scriptPath, err)
	}

	agent, err := guest.New(string(script), version, showLogs)
	if err != nil {
		log.Fatalf("w3f-guest: script setup failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Print("w3f-guest: received termination signal, exiting")
		os.Exit(0)
	}()

	server := protocol.NewServer(mountPath, agent.Handle, func() {
		os.Exit(0)
	})

	if err := server.Serve(port); err != nil {
		log.Fatalf("w3f-guest: protocol server exited: %v", err)
	}
}

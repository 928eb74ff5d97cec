// Command jobwatch shows the caller's pending video jobs in the terminal
// and lets them dismiss failed ones.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("url", envOr("STUDIO_URL", "http://localhost:8080"), "Studio API URL")
	token := flag.String("token", os.Getenv("STUDIO_TOKEN"), "Bearer token")
	interval := flag.Duration("interval", 2*time.Second, "Refresh interval")
	flag.Parse()

	program := tea.NewProgram(newModel(newStudioClient(*baseURL, *token), *interval))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

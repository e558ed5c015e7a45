package main

import "feedbacksync/internal/app/agent"

func main() {
	agent.Run()
}

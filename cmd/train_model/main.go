package main

import (
	"log"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		log.Fatalf("train_model: %v", err)
	}
}

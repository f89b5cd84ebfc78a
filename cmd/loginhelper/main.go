package main

import (
	"log"

	"github.com/thoka/discourse-login-helper/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}
	a.Run()
}

package main

import (
	"fmt"
	"os"

	"github.com/tallyhq/survey-server-go/internal/util"
)

// Prints a fresh API token and the hash to store in accounts.api_token_hash.
func main() {
	token, err := util.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("token: %s\n", token)
	fmt.Printf("hash:  %s\n", util.HashToken(token))
}

// Command keygen prints a fresh ENCRYPTION_KEY line for a .env file.
package main

import (
	"fmt"
	"os"

	"github.com/antoniostano/lumen/internal/cipher"
)

func main() {
	key, err := cipher.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("ENCRYPTION_KEY=%s\n", key)
}

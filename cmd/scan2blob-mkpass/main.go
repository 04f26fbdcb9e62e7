// Command scan2blob-mkpass interactively hashes a WebDAV Basic Auth
// password for inclusion in the daemon's configuration file.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tamwuff/scan2blob/internal/pwhash"
)

var cmdRoot = &cobra.Command{
	Use:           "scan2blob-mkpass",
	Short:         "Hash a password for use as a WebDAV Basic Auth credential",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMkpass,
}

func runMkpass(cmd *cobra.Command, args []string) error {
	fmt.Println("Warning: the password you enter will be echoed (by this tool) and will also be")
	fmt.Println("used as HTTP Basic Auth credentials (by the WebDAV server). HTTP Basic Auth is")
	fmt.Println("not a particularly secure authentication method. The point of all of this is,")
	fmt.Println("please do not use a sensitive password.")
	fmt.Println()
	fmt.Print("Enter plaintext password: ")

	reader := bufio.NewReader(os.Stdin)
	plaintext, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	plaintext = strings.TrimRight(plaintext, "\r\n")

	hash, err := pwhash.Hash(plaintext)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Hashed password: %s\n", hash)
	fmt.Println()

	return nil
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scan2blob-mkpass: %v\n", err)
		os.Exit(1)
	}
}

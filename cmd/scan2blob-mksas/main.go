// Command scan2blob-mksas mints a write-only SAS token for a destination
// container (or a directory prefix within one) and prints the resulting
// destination config in both of the forms the daemon's config file accepts.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/spf13/cobra"

	"github.com/tamwuff/scan2blob/internal/errors"
)

// sasValidity is long enough that operators mint this once and forget
// about it; the daemon has no rotation story.
const sasValidity = 100 * 365 * 24 * time.Hour

var opts struct {
	StorageAccount string
	Container      string
	Prefix         string
}

var cmdRoot = &cobra.Command{
	Use:           "scan2blob-mksas",
	Short:         "Mint a write-only SAS token for a scan2blob destination",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMksas,
}

func init() {
	fs := cmdRoot.Flags()
	fs.StringVar(&opts.StorageAccount, "storage-account", "", "Azure storage account name")
	fs.StringVar(&opts.Container, "container", "", "blob container name")
	fs.StringVar(&opts.Prefix, "prefix", "", "blob name prefix to scope the SAS to")
	cmdRoot.MarkFlagRequired("storage-account")
	cmdRoot.MarkFlagRequired("container")
}

// splitPrefixDirectory derives the directory-scoped SAS signing path from a
// blob name prefix: a prefix ending in "/" guarantees that whole directory;
// any other prefix can only guarantee its containing directory, which
// requires operator confirmation since it is looser than what was asked
// for.
func splitPrefixDirectory(prefix string) (directory string, hasDirectory bool, needsConfirm bool) {
	if prefix == "" {
		return "", false, false
	}
	if strings.HasSuffix(prefix, "/") {
		return strings.TrimSuffix(prefix, "/"), true, false
	}
	if idx := strings.LastIndex(prefix, "/"); idx >= 0 {
		return prefix[:idx], true, true
	}
	return "", false, true
}

func confirmInabilityToGuaranteePrefix(prefix, directory string) error {
	fmt.Printf("WARNING: I cannot guarantee a prefix of %s\n", prefix)
	if directory != "" {
		fmt.Printf("I can only guarantee a prefix of %s/\n", directory)
	}
	fmt.Print("Is this ok? Type the word \"yes\" to proceed, anything else to cancel: ")

	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	if strings.TrimSpace(response) != "yes" {
		return errors.New("cancelling")
	}
	return nil
}

type blobStorageSpec struct {
	StorageAccount string      `json:"storage_account"`
	Container      string      `json:"container"`
	SAS            interface{} `json:"sas"`
	Prefix         string      `json:"prefix"`
}

func runMksas(cmd *cobra.Command, args []string) error {
	directory, hasDirectory, needsConfirm := splitPrefixDirectory(opts.Prefix)
	if needsConfirm {
		if err := confirmInabilityToGuaranteePrefix(opts.Prefix, directory); err != nil {
			return err
		}
	}

	fmt.Printf("Enter access key for storage account %s: ", opts.StorageAccount)
	reader := bufio.NewReader(os.Stdin)
	accessKey, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	accessKey = strings.TrimSpace(accessKey)

	cred, err := azblob.NewSharedKeyCredential(opts.StorageAccount, accessKey)
	if err != nil {
		return errors.Wrap(err, "NewSharedKeyCredential")
	}

	now := time.Now().UTC()
	values := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     now.Add(-5 * time.Minute),
		ExpiryTime:    now.Add(sasValidity),
		Permissions:   (&sas.ContainerPermissions{Write: true}).String(),
		ContainerName: opts.Container,
	}
	if hasDirectory {
		values.Directory = directory
	}

	query, err := values.SignWithSharedKey(cred)
	if err != nil {
		return errors.Wrap(err, "SignWithSharedKey")
	}
	token := query.Encode()

	fmt.Println()
	fmt.Printf("Generated SAS: %s\n", token)

	literalSpec := blobStorageSpec{
		StorageAccount: opts.StorageAccount,
		Container:      opts.Container,
		SAS:            token,
		Prefix:         opts.Prefix,
	}
	fmt.Println()
	fmt.Println("This can be represented in the server's config file as a plain string, like so:")
	if err := printJSON(literalSpec); err != nil {
		return err
	}

	envSpec := literalSpec
	envSpec.SAS = map[string]string{"env": "NAME_OF_ENV_VAR"}
	fmt.Println()
	fmt.Println("Or else you can set an environment variable to contain the real value, and")
	fmt.Println("then refer to the environment variable in the config file like so:")
	return printJSON(envSpec)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encoding JSON")
	}
	return nil
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scan2blob-mksas: %v\n", err)
		os.Exit(1)
	}
}

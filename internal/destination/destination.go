// Package destination implements the per-destination upload pipeline (C3):
// constructing a chunker pair per file, staging blocks against Azure Blob
// Storage as chunks arrive, and committing the block list with the final
// content hash on end-of-stream.
package destination

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	azContainer "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/cenkalti/backoff/v4"

	"github.com/tamwuff/scan2blob/internal/backend/sema"
	"github.com/tamwuff/scan2blob/internal/chunker2"
	"github.com/tamwuff/scan2blob/internal/debug"
	"github.com/tamwuff/scan2blob/internal/errors"
	"github.com/tamwuff/scan2blob/internal/gate"
)

// maxNumChunks binds the chunker's block count to the Azure block-list
// limit, so that the big-endian uint16 block counter never overflows.
const maxNumChunks = 50000

// Config carries the construction-time parameters of a Destination, as
// parsed from the "destinations" section of the daemon's configuration.
type Config struct {
	StorageAccount string
	Container      string
	SAS            string // resolved SAS token (literal or env-resolved upstream)
	Prefix         string

	InitialChunkSize int
	MaxChunkSize     int

	// MaxConcurrentUploads bounds the number of in-flight StageBlock calls
	// for this destination; 0 means unbounded.
	MaxConcurrentUploads uint
}

// Destination is immutable after construction: storage account, container,
// name prefix, chunk sizing policy, and a shared, thread-safe container
// client. One Destination serves many concurrent uploads.
type Destination struct {
	cfg       Config
	container *azContainer.Client
	sem       *sema.Semaphore

	now func() time.Time
}

// New constructs a Destination from cfg, authenticating against Azure with
// a SAS token (literal or resolved from an environment variable upstream,
// per internal/config's Sas type).
func New(cfg Config) (*Destination, error) {
	if cfg.StorageAccount == "" {
		return nil, errors.Fatal("destination: storage_account must not be empty")
	}
	if cfg.Container == "" {
		return nil, errors.Fatal("destination: container must not be empty")
	}
	if cfg.SAS == "" {
		return nil, errors.Fatal("destination: sas must not be empty")
	}
	if cfg.InitialChunkSize <= 0 {
		cfg.InitialChunkSize = 65536
	}
	if cfg.MaxChunkSize < cfg.InitialChunkSize {
		cfg.MaxChunkSize = 4 * 1024 * 1024
	}

	sas := cfg.SAS
	if len(sas) > 0 && sas[0] == '?' {
		sas = sas[1:]
	}

	url := fmt.Sprintf("https://%s.blob.core.windows.net/%s?%s", cfg.StorageAccount, cfg.Container, sas)
	client, err := azContainer.NewClientWithNoCredential(url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "NewClientWithNoCredential")
	}

	var sem *sema.Semaphore
	if cfg.MaxConcurrentUploads > 0 {
		sem = sema.New(cfg.MaxConcurrentUploads)
	}

	return &Destination{
		cfg:       cfg,
		container: client,
		sem:       sem,
		now:       time.Now,
	}, nil
}

// blobName formats the wire-visible blob name:
// {prefix}{rfc3339_utc(now)}{"-"+name_hint if present}{suffix}.
func blobName(prefix string, now time.Time, nameHint, suffix string) string {
	ts := now.UTC().Format("2006-01-02T15:04:05.000Z")
	name := prefix + ts
	if nameHint != "" {
		name += "-" + nameHint
	}
	return name + suffix
}

// blockID formats the nth block id (0-based) as the base64 encoding of its
// big-endian uint16 representation. All block ids for a single blob share
// this fixed length, as Azure's block-list API requires.
func blockID(n uint16) string {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], n)
	return base64.StdEncoding.EncodeToString(b[:])
}

// WriteFile records now, creates a chunker pair bound to maxNumChunks,
// spawns the upload task owning the Reader, and returns the Writer for the
// caller (a protocol front end) to stream bytes into. It implements
// gate.FileWriter.
func (d *Destination) WriteFile(nameHint, suffix, contentType string) (gate.Writer, error) {
	now := d.now()
	name := blobName(d.cfg.Prefix, now, nameHint, suffix)

	w, r := chunker2.New(d.cfg.InitialChunkSize, d.cfg.MaxChunkSize, maxNumChunks)

	go d.upload(context.Background(), name, contentType, r)

	return w, nil
}

// upload is the per-upload task: it owns r for its entire lifetime and must
// call r.Close() exactly once.
func (d *Destination) upload(ctx context.Context, name, contentType string, r *chunker2.Reader) {
	defer r.Close()

	blockBlobClient := d.container.NewBlockBlobClient(name)

	var blockIDs []string
	var n uint16

	for {
		data, eof, err := r.NextChunk(ctx)
		if err != nil {
			debug.Log("upload %s: reader error: %v", name, err)
			return
		}
		if eof {
			break
		}

		id := blockID(n)
		if err := d.stageBlock(ctx, blockBlobClient, id, data); err != nil {
			debug.Log("upload %s: StageBlock failed: %v", name, err)
			r.ObserveError(errors.Wrap(err, "StageBlock"))
			return
		}
		blockIDs = append(blockIDs, id)
		n++
	}

	digest := r.Digest()
	if err := d.commitBlockList(ctx, blockBlobClient, blockIDs, digest[:], contentType); err != nil {
		debug.Log("upload %s: CommitBlockList failed: %v", name, err)
		r.ObserveError(errors.Wrap(err, "CommitBlockList"))
		return
	}

	if err := r.Finalize(ctx); err != nil {
		debug.Log("upload %s: finalize observed a racing error: %v", name, err)
	}
}

func (d *Destination) stageBlock(ctx context.Context, c *blockblob.Client, id string, data []byte) error {
	if d.sem != nil {
		d.sem.GetToken()
		defer d.sem.ReleaseToken()
	}
	return backoff.Retry(func() error {
		reader := bytes.NewReader(data)
		_, err := c.StageBlock(ctx, id, streaming.NopCloser(reader), &blockblob.StageBlockOptions{
			TransactionalValidation: blob.TransferValidationTypeMD5(md5Sum(data)),
		})
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

func (d *Destination) commitBlockList(ctx context.Context, c *blockblob.Client, blockIDs []string, contentMD5 []byte, contentType string) error {
	return backoff.Retry(func() error {
		_, err := c.CommitBlockList(ctx, blockIDs, &blockblob.CommitBlockListOptions{
			HTTPHeaders: &blob.HTTPHeaders{
				BlobContentMD5:  contentMD5,
				BlobContentType: &contentType,
			},
		})
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

// isPermanent classifies an Azure error as non-retryable: anything other
// than a throttling or transient server response. Grounded on the
// teacher's own permanent-vs-retryable classification in
// internal/backend/sftp, generalized from SSH exit codes to HTTP-ish
// service errors.
func isPermanent(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return false
		default:
			return true
		}
	}
	return false
}

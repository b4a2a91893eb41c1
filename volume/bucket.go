package volume

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcerrors"
	"gocloud.dev/gcp"

	"github.com/janelia-flyem/ooc/ooc"
)

const gcsScheme = "gs://"

// openBucket returns a bucket for a local directory or a gs://bucket/prefix reference.
func openBucket(ref string) (*blob.Bucket, error) {
	if strings.HasPrefix(ref, gcsScheme) {
		return openGCSBucket(ref)
	}
	info, err := os.Stat(ref)
	if err != nil {
		return nil, ooc.IOError("open volume", ref, err)
	}
	if !info.IsDir() {
		return nil, ooc.NewError("open volume", ref, ooc.ErrInvalidArgument, fmt.Errorf("not a directory"))
	}
	b, err := fileblob.OpenBucket(ref, nil)
	if err != nil {
		return nil, ooc.IOError("open volume", ref, err)
	}
	return b, nil
}

func openGCSBucket(ref string) (*blob.Bucket, error) {
	name, prefix, _ := strings.Cut(strings.TrimPrefix(ref, gcsScheme), "/")
	ooc.Infof("Trying to open volume in GCS bucket %q, prefix %q ...\n", name, prefix)
	ctx := context.Background()

	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, ooc.NewError("open volume", ref, ooc.ErrIO, err)
	}
	client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, ooc.NewError("open volume", ref, ooc.ErrIO, err)
	}
	b, err := gcsblob.OpenBucket(ctx, client, name, nil)
	if err != nil {
		return nil, ooc.NewError("open volume", ref, ooc.ErrIO, err)
	}
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		b = blob.PrefixedBucket(b, prefix+"/")
	}
	return b, nil
}

// classify converts a bucket error into an *ooc.Error.
func classify(op, key string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return ooc.NewError(op, key, ooc.ErrNotFound, err)
	}
	return ooc.IOError(op, key, err)
}

func readObject(b *blob.Bucket, key string) ([]byte, error) {
	data, err := b.ReadAll(context.Background(), key)
	if err != nil {
		return nil, classify("read object", key, err)
	}
	return data, nil
}

// rangeRead returns length bytes of an object starting at offset.
func rangeRead(b *blob.Bucket, key string, offset, length int64) ([]byte, error) {
	timedLog := ooc.NewTimeLog()
	r, err := b.NewRangeReader(context.Background(), key, offset, length, nil)
	if err != nil {
		return nil, classify("range read", key, err)
	}
	defer r.Close()
	buf := bytes.NewBuffer(make([]byte, 0, length))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, ooc.IOError("range read", key, err)
	}
	if int64(buf.Len()) != length {
		return nil, ooc.NewError("range read", key, ooc.ErrIO,
			fmt.Errorf("got %d bytes, expected %d", buf.Len(), length))
	}
	timedLog.Debugf("Range read of object %q, offset %d, size %d", key, offset, length)
	return buf.Bytes(), nil
}

func writeObject(b *blob.Bucket, key string, data []byte) error {
	if err := b.WriteAll(context.Background(), key, data, nil); err != nil {
		return classify("write object", key, err)
	}
	return nil
}

// listDirs returns the top-level "directories" of a bucket.
func listDirs(b *blob.Bucket) ([]string, error) {
	ctx := context.Background()
	iter := b.List(&blob.ListOptions{Delimiter: "/"})
	var dirs []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, classify("list levels", "", err)
		}
		if obj.IsDir {
			dirs = append(dirs, strings.TrimSuffix(obj.Key, "/"))
		}
	}
	return dirs, nil
}

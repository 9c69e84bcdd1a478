// Package objectstore stores response attachments. S3 backs production; the
// memory store serves tests and STORE=memory deployments.
package objectstore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for unknown keys
var ErrNotFound = errors.New("object not found")

// Object is one file to store
type Object struct {
	Key         string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Store puts attachments and hands back a URL clients can fetch them from
type Store interface {
	Put(ctx context.Context, obj Object) (url string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Key builds the object key of an attachment. The file name is reduced to its
// base so client-supplied paths never escape the response prefix.
func Key(responseID uuid.UUID, questionID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return path.Join("responses", responseID.String(), questionID, uuid.NewString()+"-"+name)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ObjectStore is the subset of an object storage client the publisher needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	URL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Publisher uploads the artifacts of a finished run: the presentation, the
// outline, history and step logs.
type Publisher struct {
	store   ObjectStore
	verbose bool
	log     zerolog.Logger
}

// Object is one uploaded file.
type Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// Published describes an uploaded run. URL is a presigned link to the
// presentation when one was found.
type Published struct {
	Objects []Object `json:"objects"`
	URL     string   `json:"url,omitempty"`
}

// PublishParams describes the run to upload.
type PublishParams struct {
	RunID string
	Dir   string
	// Output is the presentation path inside Dir.
	Output string
	// LinkExpiry defaults to one hour.
	LinkExpiry time.Duration
}

func New(store ObjectStore, verbose bool, logger zerolog.Logger) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("object store required")
	}
	return &Publisher{store: store, verbose: verbose, log: logger.With().Str("component", "publisher").Logger()}, nil
}

func (p *Publisher) infof(format string, args ...any) {
	if !p.verbose {
		return
	}
	p.log.Info().Msgf(format, args...)
}

// Publish uploads every regular file under params.Dir as <RunID>/<relative path>.
func (p *Publisher) Publish(ctx context.Context, params PublishParams) (*Published, error) {
	runID := strings.Trim(strings.TrimSpace(params.RunID), "/")
	if runID == "" || params.Dir == "" {
		return nil, errors.New("run id and directory are required")
	}
	var files []string
	err := filepath.WalkDir(params.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", params.Dir, err)
	}
	sort.Strings(files)

	out := &Published{}
	var outputKey string
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(params.Dir, path)
		if err != nil {
			return nil, err
		}
		key := ObjectKey(runID, rel)
		size, err := p.upload(ctx, key, path)
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", rel, err)
		}
		p.infof("uploaded %s (%d bytes)", key, size)
		out.Objects = append(out.Objects, Object{Key: key, Size: size})
		if params.Output != "" && filepath.Clean(path) == filepath.Clean(params.Output) {
			outputKey = key
		}
	}
	if outputKey != "" {
		expiry := params.LinkExpiry
		if expiry <= 0 {
			expiry = time.Hour
		}
		url, err := p.store.URL(ctx, outputKey, expiry)
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", outputKey, err)
		}
		out.URL = url
	}
	p.log.Info().Str("run", runID).Int("objects", len(out.Objects)).Msg("run published")
	return out, nil
}

func (p *Publisher) upload(ctx context.Context, key, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := p.store.Put(ctx, key, f, info.Size(), contentType(path)); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func contentType(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jsonl":
		return "application/x-ndjson"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}

// ObjectKey joins a run id and a slash separated relative path.
func ObjectKey(runID, rel string) string {
	normalized := strings.TrimLeft(filepath.ToSlash(strings.TrimSpace(rel)), "/")
	return strings.TrimSpace(runID) + "/" + normalized
}

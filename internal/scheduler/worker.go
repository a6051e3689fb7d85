package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strconv"
	"strings"

	"goa.design/clue/log"

	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/extract"
	"github.com/atheneum-ai/atheneum/internal/queue"
)

// thumbMaxDim bounds the longest edge of generated thumbnails.
const thumbMaxDim = 256

// Handler executes one task and returns its result payload.
type Handler func(ctx context.Context, t queue.Task) (string, error)

// StatusWriter is the slice of the queue a worker moves its own tasks with.
type StatusWriter interface {
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id, result string) error
	Fail(ctx context.Context, id, errMsg string) error
}

// Ingestor runs document and temp-file ingestion. Satisfied by
// *ingest.Pipeline.
type Ingestor interface {
	ProcessDocument(ctx context.Context, documentID int64) error
	ProcessTempFile(ctx context.Context, tempFileID, ownerID int64) error
}

// Blob is the slice of the blob store the worker handlers need.
type Blob interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, mime string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Executor dispatches assigned tasks to registered handlers and writes their
// terminal state. Handlers must be idempotent: the queue is at-least-once.
type Executor struct {
	q        StatusWriter
	handlers map[string]Handler
}

// NewExecutor builds an Executor with no handlers registered.
func NewExecutor(q StatusWriter) *Executor {
	return &Executor{q: q, handlers: make(map[string]Handler)}
}

// Register binds a handler to a task type.
func (e *Executor) Register(taskType string, h Handler) {
	e.handlers[taskType] = h
}

// Capabilities lists the registered task types, for the node heartbeat.
func (e *Executor) Capabilities() []string {
	caps := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		caps = append(caps, t)
	}
	return caps
}

// Execute runs one assigned task to a terminal state. The returned error
// reflects the handler outcome; the task record is updated either way.
func (e *Executor) Execute(ctx context.Context, t queue.Task) error {
	h, ok := e.handlers[t.Type]
	if !ok {
		err := errs.Newf(errs.KindBadRequest, "no handler for task type %q", t.Type)
		if ferr := e.q.Fail(ctx, t.ID, err.Error()); ferr != nil {
			return ferr
		}
		return err
	}
	if err := e.q.MarkProcessing(ctx, t.ID); err != nil {
		return err
	}
	result, err := h(ctx, t)
	if err != nil {
		log.Errorf(ctx, err, "worker: task %s (%s)", t.ID, t.Type)
		if ferr := e.q.Fail(ctx, t.ID, err.Error()); ferr != nil {
			return ferr
		}
		return err
	}
	log.Printf(ctx, "worker: task %s (%s) completed", t.ID, t.Type)
	return e.q.Complete(ctx, t.ID, result)
}

// RegisterPipeline wires the standard handler set onto the executor.
func RegisterPipeline(e *Executor, ing Ingestor, blob Blob) {
	e.Register(queue.TypeDocumentProcessing, func(ctx context.Context, t queue.Task) (string, error) {
		id, err := dataInt(t, "document_id")
		if err != nil {
			return "", err
		}
		if err := ing.ProcessDocument(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"document_id":%d}`, id), nil
	})
	e.Register(queue.TypeTempFileProcessing, func(ctx context.Context, t queue.Task) (string, error) {
		id, err := dataInt(t, "temp_file_id")
		if err != nil {
			return "", err
		}
		owner, err := dataInt(t, "owner_id")
		if err != nil {
			return "", err
		}
		if err := ing.ProcessTempFile(ctx, id, owner); err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"temp_file_id":%d}`, id), nil
	})
	e.Register(queue.TypeBatchEmbedding, func(ctx context.Context, t queue.Task) (string, error) {
		raw := t.Data["document_ids"]
		if raw == "" {
			return "", errs.Newf(errs.KindBadRequest, "task data missing document_ids")
		}
		var done int
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return "", errs.Newf(errs.KindBadRequest, "bad document id %q", part)
			}
			if err := ing.ProcessDocument(ctx, id); err != nil {
				return "", err
			}
			done++
		}
		return fmt.Sprintf(`{"processed":%d}`, done), nil
	})
	e.Register(queue.TypeBlobCompensation, func(ctx context.Context, t queue.Task) (string, error) {
		key := t.Data["blob_key"]
		if key == "" {
			return "", errs.Newf(errs.KindBadRequest, "task data missing blob_key")
		}
		if err := blob.Delete(ctx, key); err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"deleted":%q}`, key), nil
	})
	e.Register(queue.TypeThumbnail, func(ctx context.Context, t queue.Task) (string, error) {
		key := t.Data["blob_key"]
		if key == "" {
			return "", errs.Newf(errs.KindBadRequest, "task data missing blob_key")
		}
		data, err := blob.Download(ctx, key)
		if err != nil {
			return "", err
		}
		src, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return "", errs.Newf(errs.KindBadRequest, "decode %s: %v", key, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, shrink(src, thumbMaxDim)); err != nil {
			return "", err
		}
		thumbKey := key + "_thumb.png"
		url, err := blob.Upload(ctx, thumbKey, buf.Bytes(), "image/png")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"thumbnail_key":%q,"url":%q}`, thumbKey, url), nil
	})
	e.Register(queue.TypeFormatConversion, func(ctx context.Context, t queue.Task) (string, error) {
		key := t.Data["blob_key"]
		mime := t.Data["mime"]
		if key == "" || mime == "" {
			return "", errs.Newf(errs.KindBadRequest, "task data missing blob_key or mime")
		}
		data, err := blob.Download(ctx, key)
		if err != nil {
			return "", err
		}
		text := extract.Text(data, mime)
		if text == "" {
			return "", errs.Newf(errs.KindBadRequest, "no text extracted from %s", key)
		}
		txtKey := key + ".txt"
		url, err := blob.Upload(ctx, txtKey, []byte(text), "text/plain; charset=utf-8")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"text_key":%q,"url":%q}`, txtKey, url), nil
	})
}

func dataInt(t queue.Task, field string) (int64, error) {
	raw := t.Data[field]
	if raw == "" {
		return 0, errs.Newf(errs.KindBadRequest, "task data missing %s", field)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errs.Newf(errs.KindBadRequest, "bad %s %q", field, raw)
	}
	return id, nil
}

// shrink scales the image so its longest edge is at most maxDim, using
// nearest-neighbor sampling. Small images pass through untouched.
func shrink(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return src
	}
	outW, outH := maxDim, maxDim
	if w > h {
		outH = h * maxDim / w
	} else {
		outW = w * maxDim / h
	}
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	for y := 0; y < outH; y++ {
		sy := b.Min.Y + y*h/outH
		for x := 0; x < outW; x++ {
			sx := b.Min.X + x*w/outW
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hazyhaar/docdex/etl"
	"github.com/hazyhaar/docdex/index"
	"github.com/hazyhaar/docdex/status"
	"github.com/hazyhaar/docdex/vtq"
)

// Consumer turns queued work messages into indexed search documents. Handle
// is the queue handler: returning an error redelivers the job until the
// queue's attempt ceiling buries it.
type Consumer struct {
	statuses *status.Store
	idx      *index.Store
	logger   *slog.Logger
}

// NewConsumer wires the transform/index half of the pipeline.
func NewConsumer(statuses *status.Store, idx *index.Store, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{statuses: statuses, idx: idx, logger: logger}
}

// Handle processes one work message: transform the spooled content and
// replace the document's index entries, then mark it ready. Redeliveries of
// an already-ready document are acknowledged without work.
func (c *Consumer) Handle(ctx context.Context, job *vtq.Job) error {
	var msg Message
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		c.logger.Error("consume: malformed message", "job_id", job.ID, "error", err)
		return fmt.Errorf("decode message: %w", err)
	}
	log := c.logger.With("doc_id", msg.DocID)

	if err := c.statuses.SetStatus(ctx, msg.DocID, status.Transform); err != nil {
		if errors.Is(err, status.ErrBadTransition) {
			doc, gerr := c.statuses.Get(ctx, msg.DocID)
			if gerr != nil {
				return gerr
			}
			switch doc.Status {
			case status.Ready:
				log.Info("consume: already processed, acking redelivery")
				return nil
			case status.Transform:
				// Redelivery after a crash mid-transform; retry the work.
			default:
				return err
			}
		} else {
			return err
		}
	}

	docs, err := c.transform(&msg)
	if err != nil {
		// Malformed content cannot succeed on retry; fail the document
		// and let the queue exhaust the job into the dead letters.
		c.fail(ctx, log, msg.DocID, shortReason(err))
		return err
	}

	if _, err := c.idx.DeleteByDoc(ctx, msg.DocID); err != nil {
		c.fail(ctx, log, msg.DocID, "deindex: "+shortReason(err))
		return err
	}

	if len(docs) == 0 {
		log.Warn("consume: document produced no content items")
	} else {
		res, err := c.idx.Index(ctx, docs)
		if err != nil {
			c.fail(ctx, log, msg.DocID, "index: "+shortReason(err))
			return err
		}
		if res.Failed > 0 {
			log.Warn("consume: some items rejected by the index",
				"indexed", res.Indexed, "failed", res.Failed)
		}
	}

	if err := c.statuses.SetStatus(ctx, msg.DocID, status.Ready); err != nil {
		return err
	}
	log.Info("consume: indexed", "docs", len(docs))
	return nil
}

// transform loads the spooled content and maps it to search documents.
// Decode failures are wrapped as transform errors: the content on disk is
// what it is, retrying cannot change it.
func (c *Consumer) transform(msg *Message) ([]etl.SearchDoc, error) {
	b, err := os.ReadFile(msg.JSONPath)
	if err != nil {
		return nil, &etl.TransformError{Reason: "read spooled content", Err: err}
	}
	var content Content
	if err := json.Unmarshal(b, &content); err != nil {
		return nil, &etl.TransformError{Reason: "decode spooled content", Err: err}
	}

	docs, skipped, err := etl.Transform(content.Items, msg.DocID, msg.OwnerID, msg.PageCount)
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		c.logger.Warn("consume: skipped unknown items",
			"doc_id", msg.DocID, "count", len(skipped))
	}
	return docs, nil
}

func (c *Consumer) fail(ctx context.Context, log *slog.Logger, docID, reason string) {
	log.Error("consume: " + reason)
	if err := c.statuses.MarkFailed(ctx, docID, reason); err != nil {
		log.Error("consume: mark failed", "error", err)
	}
}
